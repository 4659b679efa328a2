package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

type captureSink struct {
	name   string
	err    error
	mu     sync.Mutex
	events []*Event
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Deliver(_ context.Context, e *Event) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func TestEmit_AllSinks(t *testing.T) {
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b"}
	f := NewFanout(nil, a, b)

	f.Emit(context.Background(), "trd_1", EventTradeCompleted, map[string]any{"status": "completed"})

	for _, s := range []*captureSink{a, b} {
		if len(s.events) != 1 {
			t.Fatalf("sink %s got %d events, want 1", s.name, len(s.events))
		}
		e := s.events[0]
		if e.TradeID != "trd_1" || e.Type != EventTradeCompleted {
			t.Errorf("sink %s event = %+v", s.name, e)
		}
		if e.Payload["status"] != "completed" {
			t.Errorf("sink %s payload = %v", s.name, e.Payload)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("sink %s event missing id/timestamp", s.name)
		}
	}
}

func TestEmit_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &captureSink{name: "bad", err: errors.New("connection refused")}
	good := &captureSink{name: "good"}
	f := NewFanout(nil, bad, good)

	f.Emit(context.Background(), "trd_1", EventTradeCreated, nil)

	if len(good.events) != 1 {
		t.Errorf("healthy sink got %d events, want 1", len(good.events))
	}
}

func TestRegister(t *testing.T) {
	f := NewFanout(nil)
	s := &captureSink{name: "late"}
	f.Register(s)

	f.Emit(context.Background(), "trd_1", EventOrderMatched, nil)
	if len(s.events) != 1 {
		t.Errorf("registered sink got %d events, want 1", len(s.events))
	}
}

func TestLogSink(t *testing.T) {
	s := &LogSink{Logger: slog.Default()}
	if s.Name() != "log" {
		t.Errorf("name = %s", s.Name())
	}
	if err := s.Deliver(context.Background(), &Event{Type: EventTradeExpired, TradeID: "trd_1"}); err != nil {
		t.Errorf("Deliver failed: %v", err)
	}
}
