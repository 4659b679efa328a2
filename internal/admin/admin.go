// Package admin provides operator-only endpoints for inspecting and
// resolving stuck financial states: frozen escrows, overdue trades, and
// on-demand consistency audits.
package admin

import (
	"context"

	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/reconciliation"
)

// EscrowAdmin lists escrows for inspection.
type EscrowAdmin interface {
	ListByState(ctx context.Context, state escrow.State, limit int) ([]*escrow.Escrow, error)
}

// ExpirySweeper runs an immediate trade expiry pass.
type ExpirySweeper interface {
	SweepNow(ctx context.Context) int
}

// ReconciliationRunner runs an escrow/trade consistency audit.
type ReconciliationRunner interface {
	RunAll(ctx context.Context) (*reconciliation.Report, error)
}

// RealtimeStats exposes WebSocket hub statistics.
type RealtimeStats interface {
	Stats() map[string]interface{}
}
