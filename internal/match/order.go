// Package match implements the P2P order book and matching engine.
//
// Traders post buy or sell orders; the engine pairs each incoming order with
// the best-scored compatible resting order of the opposite side and turns the
// pair into a trade with the crypto escrowed. Crypto is locked at match time,
// not order time, so resting orders carry no funds and expiry is a pure
// status flip.
package match

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotOpen       = errors.New("order is not open")
	ErrNotOrderOwner      = errors.New("caller does not own this order")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrTradeLimitExceeded = errors.New("order amount exceeds trust tier trade limit")
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status of an order.
type Status string

const (
	StatusOpen      Status = "open"
	StatusMatched   Status = "matched"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// DefaultOrderTTL is how long an unmatched order rests on the book.
const DefaultOrderTTL = 24 * time.Hour

// Order is a resting buy or sell intent.
type Order struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Side           Side      `json:"side"`
	AmountCrypto   string    `json:"amountCrypto"`
	AmountFiat     string    `json:"amountFiat"`
	FiatCurrency   string    `json:"fiatCurrency"`
	PaymentMethods []string  `json:"paymentMethods"`
	MinTrustScore  int       `json:"minTrustScore"`
	RequireKYC     bool      `json:"requireKyc"`
	Status         Status    `json:"status"`
	TradeID        string    `json:"tradeId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	// ListOpenBySide returns open orders on one side of one fiat currency,
	// oldest first.
	ListOpenBySide(ctx context.Context, side Side, fiatCurrency string, limit int) ([]*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
	// ListExpired returns open orders past their expiry.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error)
}
