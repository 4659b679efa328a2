package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hundinet/hundi/internal/chat"
	"github.com/hundinet/hundi/internal/dispute"
	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/idgen"
	"github.com/hundinet/hundi/internal/metrics"
	"github.com/hundinet/hundi/internal/notify"
	"github.com/hundinet/hundi/internal/syncutil"
	"github.com/hundinet/hundi/internal/traces"
	"github.com/hundinet/hundi/internal/trust"
)

// EscrowLedger is the slice of the escrow ledger the state machine drives.
type EscrowLedger interface {
	Lock(ctx context.Context, tradeID, amount string) (*escrow.Escrow, error)
	Release(ctx context.Context, escrowID string, target escrow.Target) (*escrow.Escrow, error)
	Refund(ctx context.Context, escrowID string, target escrow.Target) (*escrow.Escrow, error)
	Freeze(ctx context.Context, escrowID string) (*escrow.Escrow, error)
	ResolveFrozen(ctx context.Context, escrowID string, target escrow.Target, split *escrow.SplitResolution) (*escrow.Escrow, error)
	RecordSettlementTx(ctx context.Context, escrowID, txHash string) error
}

// ScoreKeeper records trade outcomes against user trust scores.
type ScoreKeeper interface {
	Recompute(ctx context.Context, tradeID, userID string, outcome trust.Outcome) (*trust.Stats, error)
}

// Messenger appends system messages to the trade's chat thread.
type Messenger interface {
	AppendSystem(ctx context.Context, tradeID, body string) (*chat.Message, error)
}

// DisputeOpener files dispute records. Implemented by dispute.Workflow.
type DisputeOpener interface {
	Open(ctx context.Context, tradeID, filedBy, reason string) (*dispute.Dispute, error)
	HasOpen(ctx context.Context, tradeID string) (bool, error)
}

// Notifier fans trade lifecycle events out to subscribers.
type Notifier interface {
	Emit(ctx context.Context, tradeID string, typ notify.EventType, payload map[string]any)
}

// Settler submits escrow resolutions to the settlement chain. When nil the
// in-process ledger is the system of record and confirmation completes the
// trade synchronously.
type Settler interface {
	SubmitRelease(ctx context.Context, escrowID string, target escrow.Target, amount string) (txHash string, err error)
	ConfirmFinality(ctx context.Context, txHash string) error
}

// Service is the trade state machine.
type Service struct {
	store         Store
	ledger        EscrowLedger
	scores        ScoreKeeper
	chat          Messenger
	notifier      Notifier
	disputes      DisputeOpener
	settler       Settler
	paymentWindow time.Duration
	locks         *syncutil.ContextShardedMutex // keyed by trade ID
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPaymentWindow overrides the default fiat payment window.
func WithPaymentWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.paymentWindow = d
		}
	}
}

// WithSettler enables asynchronous on-chain settlement. Payment confirmation
// then rests in payment_confirmed until chain finality instead of completing
// synchronously.
func WithSettler(st Settler) Option {
	return func(s *Service) { s.settler = st }
}

// WithDisputes wires the dispute workflow. Set separately from the
// constructor because the workflow needs the service as its trade driver.
func WithDisputes(d DisputeOpener) Option {
	return func(s *Service) { s.disputes = d }
}

func NewService(store Store, ledger EscrowLedger, scores ScoreKeeper, chat Messenger, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:         store,
		ledger:        ledger,
		scores:        scores,
		chat:          chat,
		notifier:      notifier,
		paymentWindow: DefaultPaymentWindow,
		locks:         syncutil.NewContextShardedMutex(),
		logger:        logger.With("component", "trade"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockTrade serializes state transitions for one trade. Acquisition honours
// ctx, so a caller that gives up mid-request stops queueing behind a slow
// transition on the same trade.
func (s *Service) lockTrade(ctx context.Context, id string) (func(), error) {
	return s.locks.LockContext(ctx, id)
}

// CreateRequest describes a matched order pair becoming a trade.
type CreateRequest struct {
	BuyerID       string
	SellerID      string
	AmountCrypto  string
	AmountFiat    string
	FiatCurrency  string
	PaymentMethod string
	BuyerOrderID  string
	SellerOrderID string
}

// Create locks the seller's crypto in escrow and opens the trade directly in
// payment_pending. Exactly one system message is appended; the matched state
// is transient.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Create",
		traces.UserID(req.BuyerID), traces.Amount(req.AmountCrypto))
	defer span.End()

	if req.BuyerID == req.SellerID {
		return nil, ErrSelfTrade
	}
	id := idgen.WithPrefix("trd_")

	esc, err := s.ledger.Lock(ctx, id, req.AmountCrypto)
	if err != nil {
		return nil, fmt.Errorf("locking escrow: %w", err)
	}

	now := s.now()
	expires := now.Add(s.paymentWindow)
	t := &Trade{
		ID:            id,
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		AmountCrypto:  esc.LockedAmount,
		AmountFiat:    req.AmountFiat,
		FiatCurrency:  req.FiatCurrency,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPaymentPending,
		EscrowID:      esc.ID,
		BuyerOrderID:  req.BuyerOrderID,
		SellerOrderID: req.SellerOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     &expires,
	}
	if err := s.store.Create(ctx, t); err != nil {
		// Unwind the lock so the seller's funds don't dangle.
		if _, rerr := s.ledger.Refund(ctx, esc.ID, escrow.TargetSeller); rerr != nil {
			s.logger.Error("CRITICAL: failed to refund escrow after trade create failure",
				"trade_id", id, "escrow_id", esc.ID, "error", rerr)
		}
		return nil, fmt.Errorf("creating trade: %w", err)
	}

	s.systemMessage(ctx, id, fmt.Sprintf(
		"Trade opened. %s %s locked in escrow. Buyer must send %s %s via %s before %s.",
		t.AmountCrypto, "HUND", t.AmountFiat, t.FiatCurrency, t.PaymentMethod,
		expires.UTC().Format(time.RFC3339)))
	s.notifier.Emit(ctx, id, notify.EventTradeCreated, map[string]any{
		"buyer_id":  t.BuyerID,
		"seller_id": t.SellerID,
		"amount":    t.AmountCrypto,
		"expires":   expires.UTC().Format(time.RFC3339),
	})
	metrics.TradesTotal.WithLabelValues(string(StatusPaymentPending)).Inc()

	s.logger.Info("trade created",
		"trade_id", id, "buyer_id", t.BuyerID, "seller_id", t.SellerID,
		"amount_crypto", t.AmountCrypto, "amount_fiat", t.AmountFiat, "currency", t.FiatCurrency)
	return t, nil
}

// ConfirmPayment is the seller attesting that the fiat payment arrived.
// Without a chain settler the escrow releases to the buyer and the trade
// completes in the same call; with one, the trade rests in payment_confirmed
// until the on-chain release reaches finality.
func (s *Service) ConfirmPayment(ctx context.Context, tradeID, callerID string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.ConfirmPayment",
		traces.TradeID(tradeID), traces.UserID(callerID))
	defer span.End()

	unlock, err := s.lockTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		unlock()
		return nil, err
	}
	if t.Status != StatusPaymentPending {
		unlock()
		return nil, fmt.Errorf("%w: cannot confirm payment from %s", ErrInvalidTransition, t.Status)
	}
	if callerID != t.SellerID {
		unlock()
		return nil, fmt.Errorf("%w: only the seller confirms payment receipt", ErrUnauthorized)
	}
	now := s.now()
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		unlock()
		return nil, fmt.Errorf("%w: payment window expired", ErrInvalidTransition)
	}
	late := t.ExpiresAt != nil && now.After(t.CreatedAt.Add(t.ExpiresAt.Sub(t.CreatedAt)/2))

	if s.settler != nil {
		t.Status = StatusPaymentConfirmed
		t.UpdatedAt = now
		if err := s.store.Update(ctx, t); err != nil {
			unlock()
			return nil, fmt.Errorf("updating trade: %w", err)
		}
		unlock()

		s.systemMessage(ctx, tradeID, "Seller confirmed fiat payment. Submitting escrow release on-chain.")
		s.notifier.Emit(ctx, tradeID, notify.EventTradeConfirmed, map[string]any{"late": late})
		metrics.TradesTotal.WithLabelValues(string(StatusPaymentConfirmed)).Inc()

		// Chain I/O happens outside the trade lock. A dispute filed while
		// the submission is in flight wins: finalize re-checks status.
		go s.settle(context.WithoutCancel(ctx), tradeID, t.EscrowID, escrow.TargetBuyer, t.AmountCrypto, late)
		return t, nil
	}

	if _, err := s.ledger.Release(ctx, t.EscrowID, escrow.TargetBuyer); err != nil {
		unlock()
		return nil, fmt.Errorf("releasing escrow: %w", err)
	}
	s.complete(ctx, t, now, late)
	unlock()

	s.notifier.Emit(ctx, tradeID, notify.EventTradeCompleted, map[string]any{"late": late})
	return t, nil
}

// complete marks t completed and records outcomes. Caller holds the trade
// lock and has already moved the escrowed funds.
func (s *Service) complete(ctx context.Context, t *Trade, now time.Time, late bool) {
	t.Status = StatusCompleted
	t.ExpiresAt = nil
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		// Funds already moved; the status update must not be lost.
		s.logger.Error("CRITICAL: escrow released but trade update failed",
			"trade_id", t.ID, "escrow_id", t.EscrowID, "error", err)
		if err := s.store.Update(ctx, t); err != nil {
			s.logger.Error("CRITICAL: trade update retry failed", "trade_id", t.ID, "error", err)
		}
	}

	s.systemMessage(ctx, t.ID, "Trade completed. Escrow released to buyer.")
	outcome := trust.OutcomeCompletedOnTime
	if late {
		outcome = trust.OutcomeCompletedLate
	}
	s.recordOutcome(ctx, t.ID, t.BuyerID, outcome)
	s.recordOutcome(ctx, t.ID, t.SellerID, outcome)
	metrics.TradesTotal.WithLabelValues(string(StatusCompleted)).Inc()

	s.logger.Info("trade completed", "trade_id", t.ID, "late", late)
}

// settle drives the asynchronous on-chain release for a payment_confirmed
// trade. Runs without the trade lock; the lock is reacquired only for the
// final status flip.
func (s *Service) settle(ctx context.Context, tradeID, escrowID string, target escrow.Target, amount string, late bool) {
	txHash, err := s.settler.SubmitRelease(ctx, escrowID, target, amount)
	if err != nil {
		s.logger.Error("settlement submission failed; trade rests in payment_confirmed",
			"trade_id", tradeID, "escrow_id", escrowID, "error", err)
		return
	}
	if err := s.settler.ConfirmFinality(ctx, txHash); err != nil {
		s.logger.Error("settlement finality check failed",
			"trade_id", tradeID, "tx_hash", txHash, "error", err)
		return
	}

	unlock, err := s.lockTrade(ctx, tradeID)
	if err != nil {
		s.logger.Error("settlement finalize: lock acquisition failed", "trade_id", tradeID, "error", err)
		return
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		s.logger.Error("settlement finalize: trade fetch failed", "trade_id", tradeID, "error", err)
		return
	}
	if t.Status != StatusPaymentConfirmed {
		// A dispute overtook the settlement. The escrow is still locked or
		// frozen in the ledger; the dispute resolution decides where the
		// on-chain funds ultimately land.
		s.logger.Warn("settlement finalized but trade no longer payment_confirmed",
			"trade_id", tradeID, "status", t.Status, "tx_hash", txHash)
		return
	}
	if _, err := s.ledger.Release(ctx, t.EscrowID, target); err != nil {
		s.logger.Error("CRITICAL: on-chain release finalized but ledger release failed",
			"trade_id", tradeID, "escrow_id", t.EscrowID, "tx_hash", txHash, "error", err)
		return
	}
	if err := s.ledger.RecordSettlementTx(ctx, t.EscrowID, txHash); err != nil {
		s.logger.Error("failed to record settlement tx", "escrow_id", t.EscrowID, "tx_hash", txHash, "error", err)
	}
	s.complete(ctx, t, s.now(), late)
	s.notifier.Emit(ctx, tradeID, notify.EventTradeCompleted, map[string]any{"tx_hash": txHash, "late": late})
}

// Cancel voids a trade before payment confirmation and refunds the escrow to
// the seller. Either counterparty may cancel.
func (s *Service) Cancel(ctx context.Context, tradeID, callerID, reason string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Cancel",
		traces.TradeID(tradeID), traces.UserID(callerID))
	defer span.End()

	unlock, err := s.lockTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrUnauthorized
	}
	if t.Status != StatusMatched && t.Status != StatusPaymentPending {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, t.Status)
	}

	if _, err := s.ledger.Refund(ctx, t.EscrowID, escrow.TargetSeller); err != nil {
		return nil, fmt.Errorf("refunding escrow: %w", err)
	}

	wasPending := t.Status == StatusPaymentPending
	now := s.now()
	t.Status = StatusCancelled
	t.CancelReason = reason
	t.ExpiresAt = nil
	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		s.logger.Error("CRITICAL: escrow refunded but trade update failed",
			"trade_id", t.ID, "escrow_id", t.EscrowID, "error", err)
		return nil, fmt.Errorf("updating trade: %w", err)
	}

	s.systemMessage(ctx, tradeID, fmt.Sprintf("Trade cancelled: %s. Escrow refunded to seller.", reason))
	if wasPending {
		s.recordOutcome(ctx, tradeID, callerID, trust.OutcomeCancelledByUser)
	}
	s.notifier.Emit(ctx, tradeID, notify.EventTradeCancelled, map[string]any{
		"cancelled_by": callerID,
		"reason":       reason,
	})
	metrics.TradesTotal.WithLabelValues(string(StatusCancelled)).Inc()

	s.logger.Info("trade cancelled", "trade_id", tradeID, "by", callerID, "reason", reason)
	return t, nil
}

// expire auto-cancels a payment_pending trade whose window elapsed. Called
// by the expiry scanner; returns ErrExpiryRace when a user action got there
// first.
func (s *Service) expire(ctx context.Context, tradeID string) error {
	unlock, err := s.lockTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.Status != StatusPaymentPending || t.ExpiresAt == nil || s.now().Before(*t.ExpiresAt) {
		return ErrExpiryRace
	}

	if _, err := s.ledger.Refund(ctx, t.EscrowID, escrow.TargetSeller); err != nil {
		return fmt.Errorf("refunding escrow on expiry: %w", err)
	}

	now := s.now()
	t.Status = StatusCancelled
	t.CancelReason = "payment window expired"
	t.ExpiresAt = nil
	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		s.logger.Error("CRITICAL: escrow refunded but expiry update failed",
			"trade_id", t.ID, "escrow_id", t.EscrowID, "error", err)
		return fmt.Errorf("updating trade: %w", err)
	}

	s.systemMessage(ctx, tradeID, "Trade cancelled: payment window expired. Escrow refunded to seller.")
	s.notifier.Emit(ctx, tradeID, notify.EventTradeExpired, nil)
	metrics.TradesTotal.WithLabelValues(string(StatusCancelled)).Inc()

	s.logger.Info("trade expired", "trade_id", tradeID)
	return nil
}

// FileDispute freezes the escrow and moves the trade to disputed. Valid from
// payment_pending and payment_confirmed; a dispute filed at or after the
// expiry instant still wins because expiry only applies to trades that are
// still payment_pending when the scanner takes the lock.
func (s *Service) FileDispute(ctx context.Context, tradeID, callerID, reason string) (*dispute.Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "trade.FileDispute",
		traces.TradeID(tradeID), traces.UserID(callerID))
	defer span.End()

	unlock, err := s.lockTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrUnauthorized
	}
	if t.Status != StatusPaymentPending && t.Status != StatusPaymentConfirmed {
		return nil, fmt.Errorf("%w: cannot dispute from %s", ErrInvalidTransition, t.Status)
	}
	if open, err := s.disputes.HasOpen(ctx, tradeID); err != nil {
		return nil, err
	} else if open {
		return nil, dispute.ErrDisputeAlreadyOpen
	}

	if _, err := s.ledger.Freeze(ctx, t.EscrowID); err != nil {
		return nil, fmt.Errorf("freezing escrow: %w", err)
	}
	d, err := s.disputes.Open(ctx, tradeID, callerID, reason)
	if err != nil {
		// Escrow stays frozen; only a dispute resolution can move frozen
		// funds, so surface loudly rather than guessing at an unwind.
		s.logger.Error("CRITICAL: escrow frozen but dispute record failed",
			"trade_id", tradeID, "escrow_id", t.EscrowID, "error", err)
		return nil, fmt.Errorf("opening dispute: %w", err)
	}

	now := s.now()
	t.Status = StatusDisputed
	t.ExpiresAt = nil
	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		s.logger.Error("CRITICAL: dispute opened but trade update failed",
			"trade_id", tradeID, "dispute_id", d.ID, "error", err)
		return nil, fmt.Errorf("updating trade: %w", err)
	}

	s.systemMessage(ctx, tradeID, fmt.Sprintf("Dispute opened by a trade party: %s. Escrow frozen pending resolution.", reason))
	s.notifier.Emit(ctx, tradeID, notify.EventTradeDisputed, map[string]any{
		"dispute_id": d.ID,
		"filed_by":   callerID,
	})
	metrics.TradesTotal.WithLabelValues(string(StatusDisputed)).Inc()

	s.logger.Info("trade disputed", "trade_id", tradeID, "dispute_id", d.ID, "filed_by", callerID)
	return d, nil
}

// ResolveDisputed applies a moderator ruling to a disputed trade: the frozen
// escrow resolves per the ruling and the trade reaches its terminal status.
// Implements the dispute workflow's trade driver.
func (s *Service) ResolveDisputed(ctx context.Context, tradeID string, res dispute.Resolution) error {
	ctx, span := traces.StartSpan(ctx, "trade.ResolveDisputed", traces.TradeID(tradeID))
	defer span.End()

	unlock, err := s.lockTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.Status != StatusDisputed {
		return fmt.Errorf("%w: cannot resolve from %s", ErrInvalidTransition, t.Status)
	}

	var (
		target  escrow.Target
		final   Status
		buyerO  trust.Outcome
		sellerO trust.Outcome
	)
	switch res {
	case dispute.ResolutionReleaseBuyer:
		target, final = escrow.TargetBuyer, StatusCompleted
		buyerO, sellerO = trust.OutcomeDisputedFavorable, trust.OutcomeDisputedAgainst
	case dispute.ResolutionReleaseSeller:
		target, final = escrow.TargetSeller, StatusCancelled
		buyerO, sellerO = trust.OutcomeDisputedAgainst, trust.OutcomeDisputedFavorable
	case dispute.ResolutionSplit:
		target, final = escrow.TargetSplit, StatusCompleted
		buyerO, sellerO = trust.OutcomeDisputedFavorable, trust.OutcomeDisputedFavorable
	default:
		return dispute.ErrInvalidResolution
	}

	if _, err := s.ledger.ResolveFrozen(ctx, t.EscrowID, target, nil); err != nil {
		return fmt.Errorf("resolving frozen escrow: %w", err)
	}

	now := s.now()
	t.Status = final
	t.UpdatedAt = now
	if final == StatusCompleted {
		t.CompletedAt = &now
	} else {
		t.CancelReason = "dispute resolved in seller's favor"
	}
	if err := s.store.Update(ctx, t); err != nil {
		s.logger.Error("CRITICAL: escrow resolved but trade update failed",
			"trade_id", t.ID, "escrow_id", t.EscrowID, "error", err)
		return fmt.Errorf("updating trade: %w", err)
	}

	s.systemMessage(ctx, tradeID, fmt.Sprintf("Dispute resolved: %s. Trade %s.", res, final))
	s.recordOutcome(ctx, tradeID, t.BuyerID, buyerO)
	s.recordOutcome(ctx, tradeID, t.SellerID, sellerO)
	s.notifier.Emit(ctx, tradeID, notify.EventTradeResolved, map[string]any{
		"resolution": string(res),
		"status":     string(final),
	})
	metrics.TradesTotal.WithLabelValues(string(final)).Inc()

	s.logger.Info("disputed trade resolved", "trade_id", tradeID, "resolution", res, "status", final)
	return nil
}

// Get returns a trade by ID.
func (s *Service) Get(ctx context.Context, tradeID string) (*Trade, error) {
	return s.store.Get(ctx, tradeID)
}

// ListByUser returns a user's trades, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Participants implements the chat bus trade directory.
func (s *Service) Participants(ctx context.Context, tradeID string) (buyerID, sellerID string, err error) {
	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return "", "", err
	}
	return t.BuyerID, t.SellerID, nil
}

func (s *Service) systemMessage(ctx context.Context, tradeID, body string) {
	if s.chat == nil {
		return
	}
	if _, err := s.chat.AppendSystem(ctx, tradeID, body); err != nil {
		s.logger.Warn("failed to append system message", "trade_id", tradeID, "error", err)
	}
}

func (s *Service) recordOutcome(ctx context.Context, tradeID, userID string, outcome trust.Outcome) {
	if s.scores == nil {
		return
	}
	if _, err := s.scores.Recompute(ctx, tradeID, userID, outcome); err != nil {
		s.logger.Warn("failed to record trust outcome",
			"trade_id", tradeID, "user_id", userID, "outcome", outcome, "error", err)
	}
}
