package trade

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hundinet/hundi/internal/escrow"
)

// countingStore tracks how many expiry listings a sweep performs.
type countingStore struct {
	Store
	listCalls atomic.Int32
}

func (c *countingStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Trade, error) {
	c.listCalls.Add(1)
	return c.Store.ListExpired(ctx, before, limit)
}

// stuckLedger locks escrow normally but fails every refund, so expiry can
// never move a trade out of payment_pending.
type stuckLedger struct{}

func (stuckLedger) Lock(_ context.Context, tradeID, amount string) (*escrow.Escrow, error) {
	return &escrow.Escrow{ID: "esc_" + tradeID, TradeID: tradeID, LockedAmount: amount, State: escrow.StateLocked}, nil
}
func (stuckLedger) Release(context.Context, string, escrow.Target) (*escrow.Escrow, error) {
	return nil, errors.New("ledger unavailable")
}
func (stuckLedger) Refund(context.Context, string, escrow.Target) (*escrow.Escrow, error) {
	return nil, errors.New("ledger unavailable")
}
func (stuckLedger) Freeze(context.Context, string) (*escrow.Escrow, error) {
	return nil, errors.New("ledger unavailable")
}
func (stuckLedger) ResolveFrozen(context.Context, string, escrow.Target, *escrow.SplitResolution) (*escrow.Escrow, error) {
	return nil, errors.New("ledger unavailable")
}
func (stuckLedger) RecordSettlementTx(context.Context, string, string) error {
	return errors.New("ledger unavailable")
}

func TestSweep_ExpiresDueTrades(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-2 * DefaultPaymentWindow)
	h.svc.now = func() time.Time { return base }
	tr := h.create(t)
	h.svc.now = time.Now

	sc := NewScanner(h.svc, h.svc.store, nil)
	if n := sc.SweepNow(context.Background()); n != 1 {
		t.Fatalf("SweepNow = %d, want 1", n)
	}

	got, _ := h.svc.Get(context.Background(), tr.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if st := h.escrowState(t, tr.EscrowID); st != escrow.StateRefunded {
		t.Errorf("escrow = %s, want refunded", st)
	}
}

func TestSweep_SkipsTradesNotYetDue(t *testing.T) {
	h := newHarness(t)
	tr := h.create(t)

	sc := NewScanner(h.svc, h.svc.store, nil)
	if n := sc.SweepNow(context.Background()); n != 0 {
		t.Fatalf("SweepNow = %d, want 0", n)
	}
	got, _ := h.svc.Get(context.Background(), tr.ID)
	if got.Status != StatusPaymentPending {
		t.Errorf("status = %s, want payment_pending", got.Status)
	}
}

// A full batch of trades whose expiry keeps failing must not make the sweep
// re-list the same stuck set forever; one listing per sweep is enough.
func TestSweep_StopsOnStuckBatch(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore()}
	svc := NewService(store, stuckLedger{}, &fakeScores{}, &fakeChat{}, &fakeNotifier{}, nil)

	base := time.Now().Add(-2 * DefaultPaymentWindow)
	svc.now = func() time.Time { return base }
	for i := 0; i < 100; i++ { // exactly one full sweep batch
		if _, err := svc.Create(context.Background(), CreateRequest{
			BuyerID:       fmt.Sprintf("usr_buyer_%d", i),
			SellerID:      fmt.Sprintf("usr_seller_%d", i),
			AmountCrypto:  "1",
			AmountFiat:    "83",
			FiatCurrency:  "INR",
			PaymentMethod: "upi",
		}); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}
	svc.now = time.Now

	sc := NewScanner(svc, store, nil)
	if n := sc.SweepNow(context.Background()); n != 0 {
		t.Fatalf("SweepNow = %d, want 0 (every refund fails)", n)
	}
	if calls := store.listCalls.Load(); calls != 1 {
		t.Fatalf("ListExpired called %d times, want 1 (stuck batch must not be re-listed)", calls)
	}
}
