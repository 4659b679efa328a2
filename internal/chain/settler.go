// Package chain is the on-chain settlement boundary. The trade state machine
// commits escrow resolutions in its own ledger first; this package mirrors
// them onto the settlement contract and reports finality. It is always
// invoked outside trade locks.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hundinet/hundi/internal/escrow"
)

var (
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAmount     = errors.New("chain: invalid amount")
	ErrTxFailed          = errors.New("chain: transaction reverted")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrCircuitOpen       = errors.New("chain: RPC circuit open")
)

// NoopSettler settles instantly without touching a chain. Used in tests and
// local development to exercise the deferred payment_confirmed path.
type NoopSettler struct {
	seq atomic.Uint64
}

func NewNoopSettler() *NoopSettler {
	return &NoopSettler{}
}

func (n *NoopSettler) SubmitRelease(ctx context.Context, escrowID string, target escrow.Target, amount string) (string, error) {
	return fmt.Sprintf("0xnoop%016x", n.seq.Add(1)), nil
}

func (n *NoopSettler) ConfirmFinality(ctx context.Context, txHash string) error {
	return nil
}
