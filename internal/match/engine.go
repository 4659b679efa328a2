package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/idgen"
	"github.com/hundinet/hundi/internal/metrics"
	"github.com/hundinet/hundi/internal/notify"
	"github.com/hundinet/hundi/internal/traces"
	"github.com/hundinet/hundi/internal/trade"
	"github.com/hundinet/hundi/internal/trust"
	"github.com/hundinet/hundi/internal/users"
)

// TradeCreator opens a trade with escrowed crypto from a matched order pair.
// Implemented by trade.Service.
type TradeCreator interface {
	Create(ctx context.Context, req trade.CreateRequest) (*trade.Trade, error)
}

// UserDirectory looks up traders for KYC and block checks.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// TrustSource reads trader trust stats.
type TrustSource interface {
	Score(ctx context.Context, userID string) (*trust.Stats, error)
}

// Engine is the order book and matcher.
type Engine struct {
	store    Store
	trades   TradeCreator
	users    UserDirectory
	trust    TrustSource
	notifier Notifier
	orderTTL time.Duration
	// One matching pass runs at a time. Matching is in-memory scoring plus
	// a handful of store reads, so a single book lock is cheaper than
	// anything finer-grained and rules out double-matching a resting order.
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// Notifier emits order events.
type Notifier interface {
	Emit(ctx context.Context, tradeID string, typ notify.EventType, payload map[string]any)
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrderTTL overrides how long unmatched orders rest on the book.
func WithOrderTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.orderTTL = d
		}
	}
}

func NewEngine(store Store, trades TradeCreator, users UserDirectory, trust TrustSource, notifier Notifier, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		trades:   trades,
		users:    users,
		trust:    trust,
		notifier: notifier,
		orderTTL: DefaultOrderTTL,
		logger:   logger.With("component", "match"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceRequest describes a new order.
type PlaceRequest struct {
	UserID         string   `json:"userId"`
	Side           Side     `json:"side"`
	AmountCrypto   string   `json:"amountCrypto"`
	AmountFiat     string   `json:"amountFiat"`
	FiatCurrency   string   `json:"fiatCurrency"`
	PaymentMethods []string `json:"paymentMethods"`
	MinTrustScore  int      `json:"minTrustScore"`
	RequireKYC     bool     `json:"requireKyc"`
}

// Placement is the result of placing an order: the resting or matched order,
// plus the trade when a match fired immediately.
type Placement struct {
	Order *Order       `json:"order"`
	Trade *trade.Trade `json:"trade,omitempty"`
}

// PlaceOrder validates, books, and immediately tries to match a new order.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (*Placement, error) {
	ctx, span := traces.StartSpan(ctx, "match.PlaceOrder",
		traces.UserID(req.UserID), traces.Amount(req.AmountCrypto))
	defer span.End()

	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	amount, ok := escrow.ParseAmount(req.AmountCrypto)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amountCrypto must be a positive decimal", ErrInvalidOrder)
	}
	fiat, ok := escrow.ParseAmount(req.AmountFiat)
	if !ok || fiat.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amountFiat must be a positive decimal", ErrInvalidOrder)
	}
	if req.FiatCurrency == "" {
		return nil, fmt.Errorf("%w: fiatCurrency is required", ErrInvalidOrder)
	}
	if len(req.PaymentMethods) == 0 {
		return nil, fmt.Errorf("%w: at least one payment method is required", ErrInvalidOrder)
	}

	if _, err := e.users.Get(ctx, req.UserID); err != nil {
		return nil, err
	}
	stats, err := e.trust.Score(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("reading trust score: %w", err)
	}
	limit, _ := escrow.ParseAmount(trust.TradeLimit(stats.Tier))
	if amount.Cmp(limit) > 0 {
		return nil, fmt.Errorf("%w: %s tier allows at most %s per trade",
			ErrTradeLimitExceeded, stats.Tier, trust.TradeLimit(stats.Tier))
	}

	now := e.now()
	o := &Order{
		ID:             idgen.WithPrefix("ord_"),
		UserID:         req.UserID,
		Side:           req.Side,
		AmountCrypto:   req.AmountCrypto,
		AmountFiat:     req.AmountFiat,
		FiatCurrency:   req.FiatCurrency,
		PaymentMethods: req.PaymentMethods,
		MinTrustScore:  req.MinTrustScore,
		RequireKYC:     req.RequireKYC,
		Status:         StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(e.orderTTL),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues("placed").Inc()
	e.logger.Info("order placed",
		"order_id", o.ID, "user_id", o.UserID, "side", o.Side,
		"amount", o.AmountCrypto, "currency", o.FiatCurrency)

	t := e.tryMatch(ctx, o)
	return &Placement{Order: o, Trade: t}, nil
}

// CancelOrder removes an open order from the book.
func (e *Engine) CancelOrder(ctx context.Context, orderID, callerID string) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != callerID {
		return nil, ErrNotOrderOwner
	}
	if o.Status != StatusOpen {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotOpen, o.Status)
	}

	o.Status = StatusCancelled
	o.UpdatedAt = e.now()
	if err := e.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("cancelling order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues("cancelled").Inc()
	e.logger.Info("order cancelled", "order_id", orderID, "user_id", callerID)
	return o, nil
}

// Get returns an order by ID.
func (e *Engine) Get(ctx context.Context, orderID string) (*Order, error) {
	return e.store.Get(ctx, orderID)
}

// ListByUser returns a user's orders, newest first.
func (e *Engine) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.ListByUser(ctx, userID, limit)
}

// ListOpen returns the resting side of the book for one currency.
func (e *Engine) ListOpen(ctx context.Context, side Side, fiatCurrency string, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.ListOpenBySide(ctx, side, fiatCurrency, limit)
}

// scored pairs a candidate order with its match score.
type scored struct {
	order *Order
	score float64
}

// tryMatch pairs o against the best-scored compatible resting order and
// creates the trade. Caller holds the book lock. Returns the trade or nil
// when no candidate fits.
func (e *Engine) tryMatch(ctx context.Context, o *Order) *trade.Trade {
	const candidateLimit = 200

	candidates, err := e.store.ListOpenBySide(ctx, o.Side.Opposite(), o.FiatCurrency, candidateLimit)
	if err != nil {
		e.logger.Warn("failed to list match candidates", "order_id", o.ID, "error", err)
		return nil
	}

	var ranked []scored
	for _, c := range candidates {
		s := e.matchScore(ctx, o, c)
		if s > 0 {
			ranked = append(ranked, scored{order: c, score: s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	for _, cand := range ranked {
		if t := e.createTrade(ctx, o, cand.order); t != nil {
			return t
		}
	}
	return nil
}

// matchScore computes the compatibility score between o and candidate c.
// Zero means incompatible.
func (e *Engine) matchScore(ctx context.Context, o, c *Order) float64 {
	if !e.compatible(ctx, o, c) {
		return 0
	}

	score := 100.0

	common := commonMethods(o.PaymentMethods, c.PaymentMethods)
	if len(common) == 0 {
		return 0
	}
	score += float64(len(common)) * 5

	if stats, err := e.trust.Score(ctx, c.UserID); err == nil {
		score += trust.PriorityBonus(stats.Tier)
	}

	overlap := amountOverlap(o.AmountCrypto, c.AmountCrypto)
	if overlap == 0 {
		return 0
	}
	score *= overlap

	// Older resting orders match first.
	ageBonus := e.now().Sub(c.CreatedAt).Hours() * 2
	score += math.Min(ageBonus, 20)

	return score
}

// compatible applies the hard gates: opposite sides, both open, same
// currency, distinct users, KYC requirements, mutual trust minimums, and no
// block in either direction.
func (e *Engine) compatible(ctx context.Context, o, c *Order) bool {
	if o.Side == c.Side || o.Status != StatusOpen || c.Status != StatusOpen {
		return false
	}
	if o.FiatCurrency != c.FiatCurrency || o.UserID == c.UserID {
		return false
	}

	ou, err := e.users.Get(ctx, o.UserID)
	if err != nil {
		return false
	}
	cu, err := e.users.Get(ctx, c.UserID)
	if err != nil {
		return false
	}
	if o.RequireKYC && !cu.KYCVerified {
		return false
	}
	if c.RequireKYC && !ou.KYCVerified {
		return false
	}
	if ou.HasBlocked(cu.ID) || cu.HasBlocked(ou.ID) {
		return false
	}

	os, err := e.trust.Score(ctx, o.UserID)
	if err != nil {
		return false
	}
	cs, err := e.trust.Score(ctx, c.UserID)
	if err != nil {
		return false
	}
	if os.Score < c.MinTrustScore || cs.Score < o.MinTrustScore {
		return false
	}
	return true
}

// createTrade turns a matched pair into a trade with escrowed crypto and
// flips both orders to matched. Returns nil if trade creation fails, leaving
// both orders open for other candidates.
func (e *Engine) createTrade(ctx context.Context, a, b *Order) *trade.Trade {
	buy, sell := a, b
	if a.Side == SideSell {
		buy, sell = b, a
	}

	tradeAmount, fiatAmount, ok := tradeAmounts(buy, sell)
	if !ok {
		return nil
	}
	method := firstCommonMethod(buy.PaymentMethods, sell.PaymentMethods)
	if method == "" {
		return nil
	}

	t, err := e.trades.Create(ctx, trade.CreateRequest{
		BuyerID:       buy.UserID,
		SellerID:      sell.UserID,
		AmountCrypto:  tradeAmount,
		AmountFiat:    fiatAmount,
		FiatCurrency:  buy.FiatCurrency,
		PaymentMethod: method,
		BuyerOrderID:  buy.ID,
		SellerOrderID: sell.ID,
	})
	if err != nil {
		e.logger.Warn("failed to create trade for matched pair",
			"buy_order", buy.ID, "sell_order", sell.ID, "error", err)
		return nil
	}

	now := e.now()
	for _, o := range []*Order{buy, sell} {
		o.Status = StatusMatched
		o.TradeID = t.ID
		o.UpdatedAt = now
		if err := e.store.Update(ctx, o); err != nil {
			e.logger.Error("CRITICAL: trade created but order update failed",
				"order_id", o.ID, "trade_id", t.ID, "error", err)
		}
	}

	metrics.OrdersTotal.WithLabelValues("matched").Inc()
	e.notifier.Emit(ctx, t.ID, notify.EventOrderMatched, map[string]any{
		"buy_order_id":  buy.ID,
		"sell_order_id": sell.ID,
		"amount":        tradeAmount,
	})
	e.logger.Info("orders matched",
		"trade_id", t.ID, "buy_order", buy.ID, "sell_order", sell.ID,
		"amount", tradeAmount, "method", method)
	return t
}

// expire flips an open order past its TTL to expired. Called by the scanner.
func (e *Engine) expire(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusOpen || e.now().Before(o.ExpiresAt) {
		return ErrOrderNotOpen
	}

	o.Status = StatusExpired
	o.UpdatedAt = e.now()
	if err := e.store.Update(ctx, o); err != nil {
		return fmt.Errorf("expiring order: %w", err)
	}
	metrics.OrdersTotal.WithLabelValues("expired").Inc()
	e.logger.Info("order expired", "order_id", orderID, "user_id", o.UserID)
	return nil
}

// tradeAmounts picks the matched crypto amount (the smaller of the two
// orders) and prorates the fiat leg from the buy order's implied rate.
// All arithmetic is exact micro-unit math.
func tradeAmounts(buy, sell *Order) (crypto, fiat string, ok bool) {
	buyAmt, ok1 := escrow.ParseAmount(buy.AmountCrypto)
	sellAmt, ok2 := escrow.ParseAmount(sell.AmountCrypto)
	buyFiat, ok3 := escrow.ParseAmount(buy.AmountFiat)
	if !ok1 || !ok2 || !ok3 || buyAmt.Sign() <= 0 || sellAmt.Sign() <= 0 {
		return "", "", false
	}

	matched := buyAmt
	if sellAmt.Cmp(buyAmt) < 0 {
		matched = sellAmt
	}

	// fiat = buyFiat * matched / buyAmt, truncated to the micro-unit.
	f := new(big.Int).Mul(buyFiat, matched)
	f.Quo(f, buyAmt)
	if f.Sign() <= 0 {
		return "", "", false
	}
	return escrow.FormatAmount(matched), escrow.FormatAmount(f), true
}

// amountOverlap returns min/max of the two crypto amounts in (0,1], or 0
// when either amount is unusable.
func amountOverlap(a, b string) float64 {
	av, ok1 := escrow.ParseAmount(a)
	bv, ok2 := escrow.ParseAmount(b)
	if !ok1 || !ok2 || av.Sign() <= 0 || bv.Sign() <= 0 {
		return 0
	}
	lo, hi := av, bv
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	r := new(big.Rat).SetFrac(lo, hi)
	f, _ := r.Float64()
	return f
}

func commonMethods(a, b []string) []string {
	var out []string
	for _, m := range a {
		for _, n := range b {
			if m == n {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func firstCommonMethod(a, b []string) string {
	if common := commonMethods(a, b); len(common) > 0 {
		return common[0]
	}
	return ""
}
