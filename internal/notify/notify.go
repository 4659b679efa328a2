// Package notify fans trade lifecycle events out to delivery sinks.
//
// The core emits one event per state transition; delivery is at-most-once.
// Sink failures are logged and dropped — the trade core never retries
// notification delivery and never blocks a transition on it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hundinet/hundi/internal/idgen"
	"github.com/hundinet/hundi/internal/metrics"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventTradeCreated   EventType = "trade.created"
	EventTradeConfirmed EventType = "trade.payment_confirmed"
	EventTradeCompleted EventType = "trade.completed"
	EventTradeCancelled EventType = "trade.cancelled"
	EventTradeExpired   EventType = "trade.expired"
	EventTradeDisputed  EventType = "trade.disputed"
	EventTradeResolved  EventType = "trade.resolved"
	EventOrderMatched   EventType = "order.matched"
	EventChatMessage    EventType = "chat.message"
)

// Event is what sinks receive.
type Event struct {
	ID        string         `json:"id"`
	TradeID   string         `json:"tradeId"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink delivers events to one destination (webhooks, WebSocket hub, log).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e *Event) error
}

// Fanout dispatches events to all registered sinks.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout creates a fanout with the given sinks.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Register adds a sink.
func (f *Fanout) Register(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Emit delivers the event to every sink. At-most-once: errors are logged,
// never retried, and never propagated to the caller.
func (f *Fanout) Emit(ctx context.Context, tradeID string, typ EventType, payload map[string]any) {
	e := &Event{
		ID:        idgen.WithPrefix("evt_"),
		TradeID:   tradeID,
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			metrics.NotificationsTotal.WithLabelValues(s.Name(), "error").Inc()
			f.logger.Warn("notification delivery failed",
				"sink", s.Name(), "event", string(typ), "tradeId", tradeID, "error", err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// LogSink writes events to the structured log. Always registered; useful
// as the audit floor when no external sinks are configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, e *Event) error {
	s.Logger.Info("trade event", "event", string(e.Type), "tradeId", e.TradeID)
	return nil
}
