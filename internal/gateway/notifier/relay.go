package notifier

import (
	"context"
	"fmt"
	"time"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/logger"
	"tradeengine/internal/position"
	"tradeengine/internal/signal"
)

// Relay forwards the events an operator cares about to a TextNotifier: new
// signals, signals awaiting confirmation, opened and closed positions.
type Relay struct {
	hub     *broadcast.Hub
	sink    TextNotifier
	timeout time.Duration
}

func NewRelay(hub *broadcast.Hub, sink TextNotifier) *Relay {
	return &Relay{hub: hub, sink: sink, timeout: 20 * time.Second}
}

// Run consumes events until ctx ends or the hub closes.
func (r *Relay) Run(ctx context.Context) error {
	events, cancel := r.hub.Subscribe(128, broadcast.TopicSignals, broadcast.TopicPositions)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg, ok := Render(ev)
			if !ok {
				continue
			}
			sendCtx, done := context.WithTimeout(ctx, r.timeout)
			if err := r.sink.SendText(sendCtx, msg.RenderMarkdown()); err != nil {
				logger.Warnf("notify %s failed: %v", ev.Type, err)
			}
			done()
		}
	}
}

// Render turns an event into a message; ok is false for events not worth a push.
func Render(ev broadcast.Event) (StructuredMessage, bool) {
	switch p := ev.Payload.(type) {
	case *signal.Signal:
		return renderSignal(ev, p)
	case *position.Position:
		return renderPosition(ev, p)
	}
	return StructuredMessage{}, false
}

func renderSignal(ev broadcast.Event, s *signal.Signal) (StructuredMessage, bool) {
	var icon, title string
	switch {
	case ev.Type == broadcast.SignalCreated:
		icon, title = "📡", "New signal"
	case s.Status == signal.StatusPendingUserConfirmation:
		icon, title = "❓", "Signal awaiting confirmation"
	case s.Status == signal.StatusFailed:
		icon, title = "⚠️", "Signal execution failed"
	default:
		return StructuredMessage{}, false
	}
	lines := []string{
		fmt.Sprintf("%s %s @ %s", s.Side, s.Symbol, s.EntryPrice),
		fmt.Sprintf("SL %s / TP %s", s.StopLoss, s.TakeProfit),
		fmt.Sprintf("confidence %.2f (%s)", s.Confidence, s.Confirmation),
	}
	if s.FailureReason != "" {
		lines = append(lines, "reason: "+s.FailureReason)
	}
	return StructuredMessage{
		Icon:      icon,
		Title:     title,
		Sections:  []MessageSection{{Title: s.ID, Lines: lines}},
		Footer:    "link " + s.OrderLinkID,
		Timestamp: ev.Timestamp,
	}, true
}

func renderPosition(ev broadcast.Event, p *position.Position) (StructuredMessage, bool) {
	var icon, title string
	lines := []string{fmt.Sprintf("%s %s qty %s @ %s", p.Side, p.Symbol, p.InitialQuantity, p.EntryPrice)}
	switch ev.Type {
	case broadcast.PositionOpened:
		icon, title = "🟢", "Position opened"
		lines = append(lines, fmt.Sprintf("SL %s / TP %s", p.StopLossPrice, p.TakeProfitPrice))
	case broadcast.PositionClosed:
		icon, title = "🔴", "Position closed"
		lines = append(lines,
			fmt.Sprintf("exit %s at %s", p.ExitReason, p.CurrentPrice),
			fmt.Sprintf("realized %s, fees %s", p.RealizedPnL.StringFixed(4), p.Fees.StringFixed(4)))
	default:
		if p.Status != position.StatusManualReview {
			return StructuredMessage{}, false
		}
		icon, title = "🛑", "Position needs manual review"
		lines = append(lines, p.ReviewReason)
	}
	return StructuredMessage{
		Icon:      icon,
		Title:     title,
		Sections:  []MessageSection{{Title: p.ID, Lines: lines}},
		Timestamp: ev.Timestamp,
	}, true
}
