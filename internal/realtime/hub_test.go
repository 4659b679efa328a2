package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/hundinet/hundi/internal/chat"
	"github.com/hundinet/hundi/internal/notify"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: string(notify.EventTradeCompleted), Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{string(notify.EventTradeCompleted), string(notify.EventTradeDisputed)},
	}}

	completed := &Event{Type: string(notify.EventTradeCompleted)}
	disputed := &Event{Type: string(notify.EventTradeDisputed)}
	created := &Event{Type: string(notify.EventTradeCreated)}

	if !h.shouldSend(client, completed) {
		t.Error("Should receive trade.completed events")
	}
	if !h.shouldSend(client, disputed) {
		t.Error("Should receive trade.disputed events")
	}
	if h.shouldSend(client, created) {
		t.Error("Should NOT receive trade.created events")
	}
}

func TestShouldSend_TradeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		TradeIDs: []string{"trd_aaaaaaaaaaaaaaaaaaaaaaaa"},
	}}

	matching := &Event{
		Type:    string(notify.EventTradeCompleted),
		TradeID: "trd_aaaaaaaaaaaaaaaaaaaaaaaa",
	}
	notMatching := &Event{
		Type:    string(notify.EventTradeCompleted),
		TradeID: "trd_bbbbbbbbbbbbbbbbbbbbbbbb",
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on trade id")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated trades")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"usr_a"},
	}}

	matchingBuyer := &Event{
		Type: string(notify.EventTradeCreated),
		Data: map[string]interface{}{"buyer_id": "usr_a", "seller_id": "usr_b"},
	}
	matchingSeller := &Event{
		Type: string(notify.EventTradeCreated),
		Data: map[string]interface{}{"buyer_id": "usr_c", "seller_id": "usr_a"},
	}
	matchingSender := &Event{
		Type: EventChatMessage,
		Data: map[string]interface{}{"sender": "usr_a"},
	}
	notMatching := &Event{
		Type: string(notify.EventTradeCreated),
		Data: map[string]interface{}{"buyer_id": "usr_b", "seller_id": "usr_c"},
	}

	if !h.shouldSend(client, matchingBuyer) {
		t.Error("Should match on buyer_id")
	}
	if !h.shouldSend(client, matchingSeller) {
		t.Error("Should match on seller_id")
	}
	if !h.shouldSend(client, matchingSender) {
		t.Error("Should match on sender")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated traders")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: string(notify.EventTradeCompleted)}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"usr_a"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: string(notify.EventTradeCompleted),
		Data: "string data not a map",
	}

	// User filter skips non-map data (can't extract ids), so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when user filter can't extract ids")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: string(notify.EventTradeCreated), Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      string(notify.EventTradeCompleted),
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"amount": "5.00"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastMessage(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastMessage(&chat.Message{
		ID:        "msg_aaaaaaaaaaaaaaaaaaaaaaaa",
		TradeID:   "trd_aaaaaaaaaaaaaaaaaaaaaaaa",
		Seq:       1,
		Sender:    "usr_a",
		Type:      chat.TypeText,
		Body:      "payment on the way",
		CreatedAt: time.Now(),
	})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("Failed to parse broadcast: %v", err)
		}
		if ev.Type != EventChatMessage {
			t.Errorf("Expected %s, got %s", EventChatMessage, ev.Type)
		}
		if ev.TradeID != "trd_aaaaaaaaaaaaaaaaaaaaaaaa" {
			t.Errorf("Expected trade id, got %s", ev.TradeID)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for chat broadcast")
	}
}

func TestSink_Deliver(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	sink := NewSink(h)
	if sink.Name() != "realtime" {
		t.Errorf("Unexpected sink name %s", sink.Name())
	}
	err := sink.Deliver(ctx, &notify.Event{
		ID:        "evt_1",
		TradeID:   "trd_aaaaaaaaaaaaaaaaaaaaaaaa",
		Type:      notify.EventTradeDisputed,
		Timestamp: time.Now(),
		Payload:   map[string]any{"dispute_id": "dsp_1"},
	})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("Failed to parse broadcast: %v", err)
		}
		if ev.Type != string(notify.EventTradeDisputed) {
			t.Errorf("Expected trade.disputed, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for sink delivery")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants disputes
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []string{string(notify.EventTradeDisputed)}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a created event (should be filtered out)
	h.Broadcast(&Event{Type: string(notify.EventTradeCreated), Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive trade.created event")
	default:
		// Good - filtered out
	}

	// Send a dispute event (should be received)
	h.Broadcast(&Event{Type: string(notify.EventTradeDisputed), Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive trade.disputed event")
	}
}
