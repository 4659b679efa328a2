package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Scanner periodically expires open orders past their TTL.
type Scanner struct {
	engine   *Engine
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewScanner creates an order expiry scanner.
func NewScanner(engine *Engine, store Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		engine:   engine,
		store:    store,
		interval: time.Minute,
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
			sc.logger.Error("panic in order expiry scanner", "panic", fmt.Sprint(r))
		}
	}()
	sc.sweep(ctx)
}

func (sc *Scanner) sweep(ctx context.Context) {
	const batchSize = 100
	expired := 0

	for {
		due, err := sc.store.ListExpired(ctx, time.Now(), batchSize)
		if err != nil {
			sc.logger.Warn("failed to list expired orders", "error", err)
			break
		}
		if len(due) == 0 {
			break
		}

		for _, o := range due {
			if err := sc.engine.expire(ctx, o.ID); err != nil {
				if err == ErrOrderNotOpen {
					continue
				}
				sc.logger.Warn("failed to expire order", "order_id", o.ID, "error", err)
				continue
			}
			expired++
		}

		if len(due) < batchSize {
			break
		}
	}

	if expired > 0 {
		sc.logger.Info("order expiry sweep complete", "expired", expired)
	}
}
