// Package reconciliation audits escrow records against their owning trades.
//
// Every trade with money in motion must agree with its escrow: an active
// trade holds a locked escrow, a disputed trade a frozen one, a finished
// trade a resolved one. The auditor also re-checks conservation on split
// resolutions. Mismatches are reported, never repaired automatically.
package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/trade"
)

const batchSize = 500

// EscrowSource lists escrows by state.
type EscrowSource interface {
	ListByState(ctx context.Context, state escrow.State, limit int) ([]*escrow.Escrow, error)
}

// TradeSource resolves the trade an escrow belongs to.
type TradeSource interface {
	Get(ctx context.Context, id string) (*trade.Trade, error)
}

// Report summarizes one audit run.
type Report struct {
	CheckedEscrows         int           `json:"checkedEscrows"`
	StateMismatches        int           `json:"stateMismatches"`
	ConservationViolations int           `json:"conservationViolations"`
	OrphanedEscrows        int           `json:"orphanedEscrows"`
	Healthy                bool          `json:"healthy"`
	Duration               time.Duration `json:"durationMs"`
	Timestamp              time.Time     `json:"timestamp"`
}

// Service performs escrow/trade consistency audits.
type Service struct {
	escrows EscrowSource
	trades  TradeSource
	logger  *slog.Logger
}

// NewService creates a reconciliation service.
func NewService(escrows EscrowSource, trades TradeSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{escrows: escrows, trades: trades, logger: logger}
}

// RunAll audits unresolved and resolved escrows and returns a report.
func (s *Service) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Timestamp: start}

	for _, state := range []escrow.State{escrow.StateLocked, escrow.StateFrozen} {
		if err := s.auditActive(ctx, state, report); err != nil {
			reconcileErrors.Inc()
			return nil, err
		}
	}
	for _, state := range []escrow.State{escrow.StateReleased, escrow.StateRefunded} {
		if err := s.auditResolved(ctx, state, report); err != nil {
			reconcileErrors.Inc()
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.StateMismatches == 0 &&
		report.ConservationViolations == 0 &&
		report.OrphanedEscrows == 0
	report.observe()

	s.logger.Info("reconciliation complete",
		"checked", report.CheckedEscrows,
		"mismatches", report.StateMismatches,
		"conservation_violations", report.ConservationViolations,
		"orphaned", report.OrphanedEscrows,
		"healthy", report.Healthy,
		"duration", report.Duration)
	return report, nil
}

// auditActive checks that locked and frozen escrows belong to trades in a
// status that justifies holding funds.
func (s *Service) auditActive(ctx context.Context, state escrow.State, report *Report) error {
	list, err := s.escrows.ListByState(ctx, state, batchSize)
	if err != nil {
		return err
	}

	for _, e := range list {
		report.CheckedEscrows++

		t, err := s.trades.Get(ctx, e.TradeID)
		if errors.Is(err, trade.ErrTradeNotFound) {
			report.OrphanedEscrows++
			s.logger.Warn("escrow references missing trade", "escrow_id", e.ID, "trade_id", e.TradeID)
			continue
		}
		if err != nil {
			return err
		}

		if !stateConsistent(e.State, t.Status) {
			report.StateMismatches++
			s.logger.Warn("escrow state disagrees with trade status",
				"escrow_id", e.ID, "trade_id", t.ID,
				"escrow_state", string(e.State), "trade_status", string(t.Status))
		}
	}
	return nil
}

// auditResolved re-checks conservation on resolved escrows: the released and
// refunded legs must sum to the locked amount.
func (s *Service) auditResolved(ctx context.Context, state escrow.State, report *Report) error {
	list, err := s.escrows.ListByState(ctx, state, batchSize)
	if err != nil {
		return err
	}

	for _, e := range list {
		report.CheckedEscrows++

		locked, ok := escrow.ParseAmount(e.LockedAmount)
		if !ok {
			report.ConservationViolations++
			continue
		}

		total := new(big.Int)
		if e.ReleasedAmount != "" {
			v, ok := escrow.ParseAmount(e.ReleasedAmount)
			if !ok {
				report.ConservationViolations++
				continue
			}
			total.Add(total, v)
		}
		if e.RefundedAmount != "" {
			v, ok := escrow.ParseAmount(e.RefundedAmount)
			if !ok {
				report.ConservationViolations++
				continue
			}
			total.Add(total, v)
		}

		if total.Cmp(locked) != 0 {
			report.ConservationViolations++
			s.logger.Error("escrow conservation violated",
				"escrow_id", e.ID, "locked", e.LockedAmount,
				"released", e.ReleasedAmount, "refunded", e.RefundedAmount)
		}
	}
	return nil
}

// stateConsistent reports whether an unresolved escrow state is legal for
// the trade's current status.
func stateConsistent(state escrow.State, status trade.Status) bool {
	switch state {
	case escrow.StateLocked:
		// payment_confirmed keeps the escrow locked while async settlement
		// is in flight.
		return status == trade.StatusMatched ||
			status == trade.StatusPaymentPending ||
			status == trade.StatusPaymentConfirmed
	case escrow.StateFrozen:
		return status == trade.StatusDisputed
	default:
		return true
	}
}
