// Package trust implements trader trust scoring for the Hundi P2P exchange.
//
// Every trader carries a 0-100 trust score, recomputed after each completed,
// cancelled, or disputed trade. The score maps to a tier that gates trade
// limits and matching priority. The engine is the only writer of scores;
// everything else reads.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrUserNotFound is returned when a recompute targets an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownOutcome is returned for an outcome outside the taxonomy.
	ErrUnknownOutcome = errors.New("unknown trade outcome")
)

// DefaultScore is the starting trust score for a new trader.
const DefaultScore = 50

// Tier is a human-readable trust level.
type Tier string

const (
	TierNew      Tier = "new"      // <50: little or negative history
	TierBronze   Tier = "bronze"   // 50-59
	TierSilver   Tier = "silver"   // 60-69
	TierGold     Tier = "gold"     // 70-79
	TierPlatinum Tier = "platinum" // 80-89
	TierDiamond  Tier = "diamond"  // 90-100
)

// TierOf maps a score to its tier. Pure, covers [0,100] with no gaps.
func TierOf(score int) Tier {
	switch {
	case score >= 90:
		return TierDiamond
	case score >= 80:
		return TierPlatinum
	case score >= 70:
		return TierGold
	case score >= 60:
		return TierSilver
	case score >= 50:
		return TierBronze
	default:
		return TierNew
	}
}

// TradeLimit returns the per-trade crypto amount cap for a tier,
// as a decimal string in whole coins.
func TradeLimit(t Tier) string {
	switch t {
	case TierDiamond:
		return "1000000"
	case TierPlatinum:
		return "500000"
	case TierGold:
		return "100000"
	case TierSilver:
		return "50000"
	case TierBronze:
		return "10000"
	default:
		return "1000"
	}
}

// PriorityBonus returns the matching-score bonus granted to a tier.
// Higher-trust traders match first when candidates otherwise tie.
func PriorityBonus(t Tier) float64 {
	switch t {
	case TierDiamond:
		return 15
	case TierPlatinum:
		return 10
	case TierGold:
		return 5
	case TierSilver:
		return 2
	default:
		return 0
	}
}

// Outcome is a trade result that affects a trader's score.
type Outcome string

const (
	OutcomeCompletedOnTime   Outcome = "completed_on_time"
	OutcomeCompletedLate     Outcome = "completed_late"
	OutcomeDisputedAgainst   Outcome = "disputed_against"
	OutcomeDisputedFavorable Outcome = "disputed_favorable"
	OutcomeCancelledByUser   Outcome = "cancelled_by_user"
)

// delta returns the bounded score adjustment for an outcome.
func delta(o Outcome) (int, error) {
	switch o {
	case OutcomeCompletedOnTime:
		return 2, nil
	case OutcomeCompletedLate:
		return 1, nil
	case OutcomeDisputedAgainst:
		return -10, nil
	case OutcomeDisputedFavorable:
		return 3, nil
	case OutcomeCancelledByUser:
		return -3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOutcome, o)
	}
}

// Stats is a trader's accumulated trade history plus the derived score.
type Stats struct {
	UserID          string    `json:"userId"`
	Score           int       `json:"score"`
	Tier            Tier      `json:"tier"`
	TotalTrades     int       `json:"totalTrades"`
	CompletedTrades int       `json:"completedTrades"`
	CancelledTrades int       `json:"cancelledTrades"`
	DisputedTrades  int       `json:"disputedTrades"`
	DisputesWon     int       `json:"disputesWon"`
	DisputesLost    int       `json:"disputesLost"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists trust stats and the applied-outcome journal.
type Store interface {
	Get(ctx context.Context, userID string) (*Stats, error)
	Upsert(ctx context.Context, s *Stats) error
	// RecordOutcome journals (tradeID, userID, outcome) and reports whether
	// the identical tuple was already seen.
	RecordOutcome(ctx context.Context, tradeID, userID string, outcome Outcome) (seen bool, err error)
}

// Directory checks user existence without importing the users package.
type Directory interface {
	Exists(ctx context.Context, userID string) bool
}

// Engine recomputes trust scores from trade outcomes.
type Engine struct {
	store  Store
	users  Directory
	logger *slog.Logger
}

// NewEngine creates a trust engine.
func NewEngine(store Store, users Directory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, users: users, logger: logger}
}

// Score returns the current stats for a user, defaulting new users to
// DefaultScore without persisting anything.
func (e *Engine) Score(ctx context.Context, userID string) (*Stats, error) {
	s, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		if e.users != nil && !e.users.Exists(ctx, userID) {
			return nil, ErrUserNotFound
		}
		return &Stats{UserID: userID, Score: DefaultScore, Tier: TierOf(DefaultScore)}, nil
	}
	if err != nil {
		return nil, err
	}
	s.Tier = TierOf(s.Score)
	return s, nil
}

// Recompute applies one outcome to a user's score, clamped to [0,100],
// and persists the result.
//
// Recompute is deliberately NOT idempotent: callers must invoke it exactly
// once per outcome event. Seeing the identical (tradeID, userID, outcome)
// tuple twice is a caller bug; the engine still applies the delta but logs
// a warning so the duplicate shows up in monitoring.
func (e *Engine) Recompute(ctx context.Context, tradeID, userID string, outcome Outcome) (*Stats, error) {
	d, err := delta(outcome)
	if err != nil {
		return nil, err
	}

	if e.users != nil && !e.users.Exists(ctx, userID) {
		return nil, fmt.Errorf("recompute %s for %s: %w", outcome, userID, ErrUserNotFound)
	}

	seen, err := e.store.RecordOutcome(ctx, tradeID, userID, outcome)
	if err != nil {
		return nil, err
	}
	if seen {
		e.logger.Warn("duplicate trust outcome applied",
			"tradeId", tradeID, "userId", userID, "outcome", string(outcome))
	}

	s, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		s = &Stats{UserID: userID, Score: DefaultScore}
	} else if err != nil {
		return nil, err
	}

	s.Score = clamp(s.Score + d)
	s.TotalTrades++
	switch outcome {
	case OutcomeCompletedOnTime, OutcomeCompletedLate:
		s.CompletedTrades++
	case OutcomeCancelledByUser:
		s.CancelledTrades++
	case OutcomeDisputedAgainst:
		s.DisputedTrades++
		s.DisputesLost++
	case OutcomeDisputedFavorable:
		s.DisputedTrades++
		s.DisputesWon++
	}
	s.Tier = TierOf(s.Score)
	s.UpdatedAt = time.Now()

	if err := e.store.Upsert(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
