package webhooks

import (
	"context"

	"github.com/hundinet/hundi/internal/notify"
)

// Sink adapts the webhook dispatcher to the notification fanout. Each
// lifecycle event is forwarded to every active subscription registered for
// its event type; delivery itself is async inside the dispatcher.
type Sink struct {
	d *Dispatcher
}

// NewSink wraps a dispatcher for registration with a notify.Fanout.
func NewSink(d *Dispatcher) *Sink {
	return &Sink{d: d}
}

func (s *Sink) Name() string { return "webhook" }

func (s *Sink) Deliver(ctx context.Context, e *notify.Event) error {
	return s.d.Dispatch(ctx, &Event{
		ID:        e.ID,
		Type:      EventType(e.Type),
		TradeID:   e.TradeID,
		Timestamp: e.Timestamp,
		Data:      e.Payload,
	})
}
