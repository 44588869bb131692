package notifier

import "context"

// TextNotifier is the minimal surface the relay needs from a chat sink.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
