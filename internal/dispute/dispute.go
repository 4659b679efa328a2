// Package dispute implements moderator-arbitrated dispute resolution.
//
// Filing a dispute (done via the trade service, under the trade's lock)
// freezes the escrow and pins the trade in its disputed state. Only a
// moderator's Resolve call can move it out, releasing or refunding the
// frozen funds and recording trust outcomes for both parties.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hundinet/hundi/internal/idgen"
	"github.com/hundinet/hundi/internal/metrics"
)

var (
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrDisputeAlreadyOpen = errors.New("dispute already open for this trade")
	ErrDisputeResolved    = errors.New("dispute already resolved")
	ErrInvalidResolution  = errors.New("invalid dispute resolution")
)

// Status of a dispute.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Resolution is the moderator's decision.
type Resolution string

const (
	ResolutionReleaseBuyer  Resolution = "release_buyer"
	ResolutionReleaseSeller Resolution = "release_seller"
	ResolutionSplit         Resolution = "split"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionReleaseBuyer, ResolutionReleaseSeller, ResolutionSplit:
		return true
	}
	return false
}

// Dispute is a filed trade dispute.
type Dispute struct {
	ID         string     `json:"id"`
	TradeID    string     `json:"tradeId"`
	FiledBy    string     `json:"filedBy"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists disputes.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetOpenByTrade(ctx context.Context, tradeID string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListOpen(ctx context.Context, limit int) ([]*Dispute, error)
}

// TradeDriver finalizes a disputed trade. Implemented by the trade
// service; the call runs under the trade's own lock.
type TradeDriver interface {
	ResolveDisputed(ctx context.Context, tradeID string, res Resolution) error
}

// Workflow coordinates the open → resolved lifecycle.
type Workflow struct {
	store  Store
	trades TradeDriver
	logger *slog.Logger
}

// NewWorkflow creates a dispute workflow.
func NewWorkflow(store Store, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{store: store, logger: logger}
}

// WithTradeDriver wires the trade service in after construction (the two
// services reference each other; the server wires the cycle).
func (w *Workflow) WithTradeDriver(t TradeDriver) *Workflow {
	w.trades = t
	return w
}

// Open files a dispute for a trade. Called by the trade service while it
// holds the trade lock, so the already-open check and the freeze that
// follows are atomic with respect to other actions on the trade.
func (w *Workflow) Open(ctx context.Context, tradeID, filedBy, reason string) (*Dispute, error) {
	if existing, err := w.store.GetOpenByTrade(ctx, tradeID); err == nil && existing != nil {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ErrDisputeAlreadyOpen)
	} else if err != nil && !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}

	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		TradeID:   tradeID,
		FiledBy:   filedBy,
		Reason:    reason,
		Status:    StatusOpen,
		CreatedAt: time.Now(),
	}
	if err := w.store.Create(ctx, d); err != nil {
		return nil, err
	}
	metrics.DisputesTotal.WithLabelValues("open").Inc()
	return d, nil
}

// HasOpen reports whether the trade has an open dispute.
func (w *Workflow) HasOpen(ctx context.Context, tradeID string) (bool, error) {
	_, err := w.store.GetOpenByTrade(ctx, tradeID)
	if errors.Is(err, ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Resolve applies a moderator decision: the escrow's frozen funds move per
// the resolution and the trade reaches its terminal state. Trust outcomes
// for both parties are recorded by the trade service during finalization.
func (w *Workflow) Resolve(ctx context.Context, disputeID string, res Resolution, moderatorID string) (*Dispute, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, res)
	}

	d, err := w.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, fmt.Errorf("dispute %s: %w", disputeID, ErrDisputeResolved)
	}

	// Move the funds and the trade first; only mark the dispute resolved
	// once the trade reached its terminal state.
	if err := w.trades.ResolveDisputed(ctx, d.TradeID, res); err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Resolution = res
	d.ResolvedBy = moderatorID
	d.ResolvedAt = &now
	if err := w.store.Update(ctx, d); err != nil {
		// The trade already settled; losing the dispute row update would
		// strand the record open. Log loudly for manual follow-up.
		w.logger.Error("dispute resolved but record update failed",
			"disputeId", d.ID, "tradeId", d.TradeID, "error", err)
		return nil, err
	}
	metrics.DisputesTotal.WithLabelValues("resolved").Inc()
	return d, nil
}

// Get returns a dispute by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*Dispute, error) {
	return w.store.Get(ctx, id)
}

// OpenForTrade returns the open dispute for a trade, if any.
func (w *Workflow) OpenForTrade(ctx context.Context, tradeID string) (*Dispute, error) {
	return w.store.GetOpenByTrade(ctx, tradeID)
}

// ListOpen returns open disputes for the moderation queue.
func (w *Workflow) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	return w.store.ListOpen(ctx, limit)
}
