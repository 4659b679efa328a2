// Package chat is the per-trade message bus.
//
// Each trade has one append-only message log shared by the two
// counterparties. The state machine and dispute workflow append system
// messages on every transition, so the log doubles as a human-readable
// audit trail. Messages are never mutated or deleted; sequence numbers
// are assigned at append time and never renumbered.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hundinet/hundi/internal/idgen"
	"github.com/hundinet/hundi/internal/metrics"
	"github.com/hundinet/hundi/internal/syncutil"
)

var (
	ErrTradeNotFound  = errors.New("trade not found")
	ErrNotParticipant = errors.New("sender is not a participant in this trade")
	ErrEmptyBody      = errors.New("message body must not be empty")
	ErrInvalidType    = errors.New("invalid message type")
)

// SenderSystem is the reserved sender ID for state-machine messages.
const SenderSystem = "system"

// Type classifies a message.
type Type string

const (
	TypeText           Type = "text"
	TypePaymentRequest Type = "payment_request"
	TypeTradeUpdate    Type = "trade_update"
	TypeAttachment     Type = "attachment"
	TypeSystem         Type = "system"
)

// Message is one entry in a trade's log.
type Message struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"tradeId"`
	Seq       int64     `json:"seq"`
	Sender    string    `json:"sender"` // user ID or SenderSystem
	Type      Type      `json:"type"`
	Body      string    `json:"body"`
	Encrypted bool      `json:"encrypted"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists messages. Append assigns the per-trade sequence number
// atomically; Since must never block appenders.
type Store interface {
	Append(ctx context.Context, m *Message) (int64, error)
	Since(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error)
	Count(ctx context.Context, tradeID string) (int64, error)
}

// TradeDirectory resolves trade participants without importing the trade
// package.
type TradeDirectory interface {
	Participants(ctx context.Context, tradeID string) (buyerID, sellerID string, err error)
}

// Broadcaster pushes appended messages to live subscribers. Best effort;
// failures are logged, not returned.
type Broadcaster interface {
	BroadcastMessage(m *Message)
}

// Bus implements the per-trade message channel.
type Bus struct {
	store     Store
	trades    TradeDirectory
	broadcast Broadcaster
	logger    *slog.Logger
	seqLocks  syncutil.ShardedMutex // serializes seq assignment per trade
}

// NewBus creates a message bus.
func NewBus(store Store, trades TradeDirectory, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{store: store, trades: trades, logger: logger}
}

// WithBroadcaster attaches a live-subscriber sink.
func (b *Bus) WithBroadcaster(br Broadcaster) *Bus {
	b.broadcast = br
	return b
}

// AppendRequest contains the parameters for a user-sent message.
type AppendRequest struct {
	Sender    string `json:"sender"`
	Type      Type   `json:"type"`
	Body      string `json:"body" binding:"required"`
	Encrypted bool   `json:"encrypted"`
}

// Append adds a user message to a trade's log and returns it with its
// assigned sequence number.
func (b *Bus) Append(ctx context.Context, tradeID string, req AppendRequest) (*Message, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, ErrEmptyBody
	}
	buyer, seller, err := b.trades.Participants(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if req.Sender != buyer && req.Sender != seller {
		return nil, ErrNotParticipant
	}
	typ := req.Type
	if typ == "" {
		typ = TypeText
	}
	switch typ {
	case TypeText, TypePaymentRequest, TypeTradeUpdate, TypeAttachment:
	default:
		// TypeSystem is reserved for the state machine.
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return b.append(ctx, &Message{
		ID:        idgen.WithPrefix("msg_"),
		TradeID:   tradeID,
		Sender:    req.Sender,
		Type:      typ,
		Body:      req.Body,
		Encrypted: req.Encrypted,
		CreatedAt: time.Now(),
	})
}

// AppendSystem adds a system-generated status message. It bypasses the
// participant check and is what the state machine calls on transitions.
func (b *Bus) AppendSystem(ctx context.Context, tradeID, body string) (*Message, error) {
	return b.append(ctx, &Message{
		ID:        idgen.WithPrefix("msg_"),
		TradeID:   tradeID,
		Sender:    SenderSystem,
		Type:      TypeSystem,
		Body:      body,
		CreatedAt: time.Now(),
	})
}

func (b *Bus) append(ctx context.Context, m *Message) (*Message, error) {
	unlock := b.seqLocks.Lock(m.TradeID)
	seq, err := b.store.Append(ctx, m)
	unlock()
	if err != nil {
		return nil, err
	}
	m.Seq = seq
	metrics.MessagesTotal.WithLabelValues(string(m.Type)).Inc()

	if b.broadcast != nil {
		b.broadcast.BroadcastMessage(m)
	}
	return m, nil
}

// Since returns messages with seq > afterSeq in order, for incremental
// client sync. Reads never block writers.
func (b *Bus) Since(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return b.store.Since(ctx, tradeID, afterSeq, limit)
}
