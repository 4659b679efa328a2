package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Scanner periodically cancels payment_pending trades whose payment window
// has elapsed. Expiry always loses races against user actions: the per-trade
// lock and a status re-check inside expire guarantee that a confirmation or
// dispute that got there first sticks.
type Scanner struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewScanner creates a trade expiry scanner.
func NewScanner(service *Service, store Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		service:  service,
		store:    store,
		interval: 5 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the scan interval.
func (sc *Scanner) WithInterval(d time.Duration) *Scanner {
	if d > 0 {
		sc.interval = d
	}
	return sc
}

// Running reports whether the scan loop is active.
func (sc *Scanner) Running() bool {
	return sc.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (sc *Scanner) Start(ctx context.Context) {
	sc.running.Store(true)
	defer sc.running.Store(false)

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.stop:
			return
		case <-ticker.C:
			sc.safeSweep(ctx)
		}
	}
}

// Stop signals the scanner to stop.
func (sc *Scanner) Stop() {
	select {
	case sc.stop <- struct{}{}:
	default:
	}
}

func (sc *Scanner) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Error("panic in trade expiry scanner", "panic", fmt.Sprint(r))
		}
	}()
	sc.sweep(ctx)
}

// SweepNow runs one expiry pass immediately and returns the number of
// trades expired. Used by admin tooling; the periodic loop does not wait
// for it.
func (sc *Scanner) SweepNow(ctx context.Context) int {
	return sc.sweep(ctx)
}

func (sc *Scanner) sweep(ctx context.Context) int {
	const batchSize = 100
	expired := 0

	for {
		due, err := sc.store.ListExpired(ctx, time.Now(), batchSize)
		if err != nil {
			sc.logger.Warn("failed to list expired trades", "error", err)
			break
		}
		if len(due) == 0 {
			break
		}

		// Races count as progress: the trade left payment_pending, so the
		// next listing shrinks. Hard failures leave the trade listed.
		progressed := 0
		for _, t := range due {
			if err := sc.service.expire(ctx, t.ID); err != nil {
				if errors.Is(err, ErrExpiryRace) {
					// A confirmation, cancel, or dispute beat us to the lock.
					sc.logger.Debug("expiry skipped, trade changed state", "trade_id", t.ID)
					progressed++
					continue
				}
				sc.logger.Warn("failed to expire trade", "trade_id", t.ID, "error", err)
				continue
			}
			expired++
			progressed++
		}

		if len(due) < batchSize {
			break
		}
		if progressed == 0 {
			// A full batch failed outright. Re-listing would return the same
			// stuck trades; leave them for the next sweep.
			sc.logger.Warn("expiry sweep stalled on a failing batch", "batch", len(due))
			break
		}
	}

	if expired > 0 {
		sc.logger.Info("trade expiry sweep complete", "expired", expired)
	}
	return expired
}
