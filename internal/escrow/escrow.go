// Package escrow is the conservation boundary for trade funds.
//
// Every trade locks the seller's crypto in an escrow record at creation.
// The locked amount is immutable; across the escrow's lifetime it is
// released or refunded exactly once (a split resolution writes two
// sub-releases that sum to the locked amount). No code path outside this
// package may change an escrow's state or amount.
//
// Legal state transitions:
//
//	locked → released | refunded | frozen
//	frozen → released | refunded (via ResolveFrozen only)
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hundinet/hundi/internal/idgen"
	"github.com/hundinet/hundi/internal/metrics"
	"github.com/hundinet/hundi/internal/traces"
)

var (
	ErrEscrowNotFound     = errors.New("escrow not found")
	ErrAlreadyReleased    = errors.New("escrow already released")
	ErrInvalidEscrowState = errors.New("invalid escrow state for this operation")
	ErrInvalidAmount      = errors.New("invalid escrow amount")
)

// State of an escrow record.
type State string

const (
	StateLocked   State = "locked"
	StateReleased State = "released"
	StateRefunded State = "refunded"
	StateFrozen   State = "frozen"
)

// Target identifies who receives escrowed funds.
type Target string

const (
	TargetBuyer  Target = "buyer"
	TargetSeller Target = "seller"
	TargetSplit  Target = "split"
)

// Escrow holds funds locked against a single trade.
type Escrow struct {
	ID            string `json:"id"`
	TradeID       string `json:"tradeId"`
	LockedAmount  string `json:"lockedAmount"` // immutable once set
	State         State  `json:"state"`
	ReleaseTarget Target `json:"releaseTarget,omitempty"`
	// Split resolutions record both legs; otherwise one of these equals
	// LockedAmount and the other is empty.
	ReleasedAmount string     `json:"releasedAmount,omitempty"`
	RefundedAmount string     `json:"refundedAmount,omitempty"`
	SettlementTx   string     `json:"settlementTx,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Resolved reports whether funds have left the escrow.
func (e *Escrow) Resolved() bool {
	return e.State == StateReleased || e.State == StateRefunded
}

// SplitResolution describes how a frozen escrow's funds are divided.
// BuyerAmount+SellerAmount must equal LockedAmount exactly.
type SplitResolution struct {
	BuyerAmount  string `json:"buyerAmount"`
	SellerAmount string `json:"sellerAmount"`
}

// Store persists escrow records.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByTrade(ctx context.Context, tradeID string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	// ListByState returns up to limit escrows in the given state, oldest
	// first. Used by the reconciliation auditor and admin tooling.
	ListByState(ctx context.Context, state State, limit int) ([]*Escrow, error)
}

// Ledger enforces escrow conservation. All mutating calls are serialized
// per escrow; callers normally already hold the owning trade's lock, the
// ledger's own lock is defense against stray callers.
type Ledger struct {
	store  Store
	logger *slog.Logger
	locks  sync.Map // escrow ID -> *sync.Mutex
}

// NewLedger creates an escrow ledger.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

func (l *Ledger) lock(id string) *sync.Mutex {
	v, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Lock creates a new escrow holding amount against tradeID.
func (l *Ledger) Lock(ctx context.Context, tradeID, amount string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Lock",
		traces.TradeID(tradeID), traces.Amount(amount))
	defer span.End()

	if !positiveAmount(amount) {
		return nil, fmt.Errorf("lock for trade %s: %w", tradeID, ErrInvalidAmount)
	}

	now := time.Now()
	e := &Escrow{
		ID:           idgen.WithPrefix("esc_"),
		TradeID:      tradeID,
		LockedAmount: amount,
		State:        StateLocked,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.store.Create(ctx, e); err != nil {
		return nil, err
	}
	metrics.EscrowsTotal.WithLabelValues(string(StateLocked)).Inc()
	return e, nil
}

// Get returns an escrow by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Escrow, error) {
	return l.store.Get(ctx, id)
}

// GetByTrade returns the escrow for a trade.
func (l *Ledger) GetByTrade(ctx context.Context, tradeID string) (*Escrow, error) {
	return l.store.GetByTrade(ctx, tradeID)
}

// ListByState returns escrows in the given state, oldest first.
func (l *Ledger) ListByState(ctx context.Context, state State, limit int) ([]*Escrow, error) {
	return l.store.ListByState(ctx, state, limit)
}

// Release moves the full locked amount to target. Only valid from locked.
func (l *Ledger) Release(ctx context.Context, id string, target Target) (*Escrow, error) {
	return l.settle(ctx, id, StateReleased, target, StateLocked)
}

// Refund returns the full locked amount to target. Only valid from locked.
func (l *Ledger) Refund(ctx context.Context, id string, target Target) (*Escrow, error) {
	return l.settle(ctx, id, StateRefunded, target, StateLocked)
}

// Freeze pins a locked escrow pending dispute resolution. A frozen escrow
// rejects Release and Refund until ResolveFrozen.
func (l *Ledger) Freeze(ctx context.Context, id string) (*Escrow, error) {
	mu := l.lock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateLocked {
		return nil, l.violation(e, "freeze")
	}

	e.State = StateFrozen
	e.UpdatedAt = time.Now()
	if err := l.store.Update(ctx, e); err != nil {
		return nil, err
	}
	metrics.EscrowsTotal.WithLabelValues(string(StateFrozen)).Inc()
	return e, nil
}

// ResolveFrozen settles a frozen escrow per a moderator decision.
// target buyer/seller releases or refunds the full amount; TargetSplit
// requires a SplitResolution whose legs sum to the locked amount.
func (l *Ledger) ResolveFrozen(ctx context.Context, id string, target Target, split *SplitResolution) (*Escrow, error) {
	mu := l.lock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateFrozen {
		return nil, l.violation(e, "resolve_frozen")
	}

	now := time.Now()
	switch target {
	case TargetBuyer:
		e.State = StateReleased
		e.ReleasedAmount = e.LockedAmount
	case TargetSeller:
		e.State = StateRefunded
		e.RefundedAmount = e.LockedAmount
	case TargetSplit:
		if split == nil {
			split = defaultSplit(e.LockedAmount)
		}
		if split == nil || !sumsToLocked(split.BuyerAmount, split.SellerAmount, e.LockedAmount) {
			return nil, fmt.Errorf("split for escrow %s does not conserve locked amount: %w", id, ErrInvalidAmount)
		}
		// Two sub-releases summing to LockedAmount; recorded on one row.
		e.State = StateReleased
		e.ReleasedAmount = split.BuyerAmount
		e.RefundedAmount = split.SellerAmount
	default:
		return nil, fmt.Errorf("resolve escrow %s: unknown target %q: %w", id, target, ErrInvalidEscrowState)
	}
	e.ReleaseTarget = target
	e.ResolvedAt = &now
	e.UpdatedAt = now

	if err := l.store.Update(ctx, e); err != nil {
		return nil, err
	}
	metrics.EscrowsTotal.WithLabelValues(string(e.State)).Inc()
	return e, nil
}

// settle covers the locked → released|refunded single-target paths.
func (l *Ledger) settle(ctx context.Context, id string, to State, target Target, from State) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.settle", traces.EscrowID(id))
	defer span.End()

	mu := l.lock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != from {
		return nil, l.violation(e, string(to))
	}

	now := time.Now()
	e.State = to
	e.ReleaseTarget = target
	if to == StateReleased {
		e.ReleasedAmount = e.LockedAmount
	} else {
		e.RefundedAmount = e.LockedAmount
	}
	e.ResolvedAt = &now
	e.UpdatedAt = now

	if err := l.store.Update(ctx, e); err != nil {
		return nil, err
	}
	metrics.EscrowsTotal.WithLabelValues(string(to)).Inc()
	return e, nil
}

// RecordSettlementTx attaches an on-chain transaction hash to a resolved
// escrow. It never changes state or amounts.
func (l *Ledger) RecordSettlementTx(ctx context.Context, id, txHash string) error {
	mu := l.lock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !e.Resolved() {
		return fmt.Errorf("settlement tx for unresolved escrow %s: %w", id, ErrInvalidEscrowState)
	}
	e.SettlementTx = txHash
	e.UpdatedAt = time.Now()
	return l.store.Update(ctx, e)
}

// violation logs an attempted conservation breach and returns the typed
// error. Double release gets its own sentinel so callers can treat it as
// a benign no-op (double confirm) rather than a bug.
func (l *Ledger) violation(e *Escrow, op string) error {
	l.logger.Error("escrow conservation violation refused",
		"escrowId", e.ID, "tradeId", e.TradeID, "state", string(e.State), "op", op)
	metrics.EscrowViolationsTotal.WithLabelValues(op).Inc()
	if e.Resolved() {
		return fmt.Errorf("escrow %s is %s: %w", e.ID, e.State, ErrAlreadyReleased)
	}
	return fmt.Errorf("escrow %s is %s: %w", e.ID, e.State, ErrInvalidEscrowState)
}

func defaultSplit(locked string) *SplitResolution {
	buyer, seller, ok := halfOf(locked)
	if !ok {
		return nil
	}
	return &SplitResolution{BuyerAmount: buyer, SellerAmount: seller}
}
