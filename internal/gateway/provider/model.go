// Package provider talks to external language-model services. The engine only
// uses them for an optional confidence boost, so every failure is recoverable.
package provider

import "context"

// Completer sends one system/user exchange and returns the raw text reply.
type Completer interface {
	ID() string
	Complete(ctx context.Context, system, user string) (string, error)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
