// Package trade owns the P2P trade lifecycle state machine.
//
// Lifecycle:
//
//	matched → payment_pending → payment_confirmed → completed
//	payment_pending | matched → cancelled (either party, or payment window expiry)
//	payment_pending | payment_confirmed → disputed (either party)
//	disputed → completed | cancelled (dispute workflow only)
//
// A trade is created from a matched order pair together with its escrow in
// one step and enters payment_pending immediately; matched is never a
// resting state. All state-mutating operations for one trade run under a
// single per-trade lock; operations on different trades are fully parallel.
package trade

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTradeNotFound     = errors.New("trade not found")
	ErrInvalidTransition = errors.New("invalid trade state transition")
	ErrUnauthorized      = errors.New("not authorized for this trade operation")
	ErrSelfTrade         = errors.New("buyer and seller cannot be the same user")

	// ErrExpiryRace signals that the expiry scanner lost the race against a
	// user action on the same trade. Internal only: the scanner logs it at
	// debug and moves on; it is never surfaced to clients.
	ErrExpiryRace = errors.New("trade changed state before expiry could apply")
)

// Status of a trade.
type Status string

const (
	StatusMatched          Status = "matched"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusDisputed         Status = "disputed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DefaultPaymentWindow is how long the buyer has to send fiat before the
// trade auto-cancels.
const DefaultPaymentWindow = 30 * time.Minute

// Trade is a matched buyer/seller pair with escrowed crypto.
type Trade struct {
	ID            string    `json:"id"`
	BuyerID       string    `json:"buyerId"`
	SellerID      string    `json:"sellerId"`
	AmountCrypto  string    `json:"amountCrypto"`
	AmountFiat    string    `json:"amountFiat"`
	FiatCurrency  string    `json:"fiatCurrency"`
	PaymentMethod string    `json:"paymentMethod"`
	Status        Status    `json:"status"`
	EscrowID      string    `json:"escrowId"`
	BuyerOrderID  string    `json:"buyerOrderId,omitempty"`
	SellerOrderID string    `json:"sellerOrderId,omitempty"`
	CancelReason  string    `json:"cancelReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	// ExpiresAt is set on entry into payment_pending and cleared on any
	// terminal transition and on dispute.
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Participant reports whether userID is one of the two counterparties.
func (t *Trade) Participant(userID string) bool {
	return userID == t.BuyerID || userID == t.SellerID
}

// Store persists trades. Archived terminal trades stay readable.
type Store interface {
	Create(ctx context.Context, t *Trade) error
	Get(ctx context.Context, id string) (*Trade, error)
	Update(ctx context.Context, t *Trade) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error)
	// ListExpired returns payment_pending trades whose window elapsed.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Trade, error)
}
