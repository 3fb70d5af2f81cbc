// Package reputation computes agent scores from the feedback ledger.
//
// A score is a weighted average over all scoreable entries, expressed in
// basis points on a 0-10000 scale. Entries decay linearly over a year:
// fresh feedback carries up to 366x the weight of feedback older than a
// year, and staked entries count double. Disputed and removed entries
// are skipped. An agent with no scoreable feedback sits at the neutral
// midpoint of 5000.
//
// All arithmetic is integer arithmetic so two replicas computing the
// same ledger always agree bit for bit.
package reputation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psinet/trustd/internal/credits"
	"github.com/psinet/trustd/internal/feedback"
	"github.com/psinet/trustd/internal/metrics"
	"github.com/psinet/trustd/internal/traces"
)

const (
	// DefaultScore is the neutral midpoint for agents without feedback.
	DefaultScore int64 = 5000

	// MaxScore is the top of the basis-point scale.
	MaxScore int64 = 10000

	decayWindow = 365 * 24 * time.Hour
	day         = 24 * time.Hour
)

// Result is a computed reputation score.
type Result struct {
	AgentID       string    `json:"agentId"`
	Score         int64     `json:"score"`
	FeedbackCount int       `json:"feedbackCount"`
	ComputedAt    time.Time `json:"computedAt"`
}

// ScoreStore caches the latest computed score per agent.
type ScoreStore interface {
	// Get returns the cached score, or nil if none has been computed.
	Get(ctx context.Context, agentID string) (*Result, error)
	Upsert(ctx context.Context, result *Result) error
	ListAll(ctx context.Context) ([]*Result, error)
}

// FeedbackSource reads an agent's full ledger for scoring.
type FeedbackSource interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*feedback.Feedback, error)
}

// Scorer computes and caches reputation scores.
type Scorer struct {
	source FeedbackSource
	store  ScoreStore
	now    func() time.Time
}

// NewScorer creates a scorer over the feedback ledger.
func NewScorer(source FeedbackSource, store ScoreStore) *Scorer {
	return &Scorer{source: source, store: store, now: time.Now}
}

// WithNow overrides the clock. Test hook.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Recompute rescans the agent's full ledger, caches the new score, and
// returns it along with the number of entries that counted.
func (s *Scorer) Recompute(ctx context.Context, agentID string) (int64, int, error) {
	ctx, span := traces.StartSpan(ctx, "reputation.Recompute", traces.AgentID(agentID))
	defer span.End()

	metrics.ScoreRecomputesTotal.Inc()
	timer := prometheus.NewTimer(metrics.ScoreRecomputeDuration)
	defer timer.ObserveDuration()

	entries, err := s.source.ListByAgent(ctx, agentID, 0)
	if err != nil {
		return 0, 0, err
	}
	score, counted := Compute(entries, s.now())
	result := &Result{
		AgentID:       agentID,
		Score:         score,
		FeedbackCount: counted,
		ComputedAt:    s.now().UTC(),
	}
	if err := s.store.Upsert(ctx, result); err != nil {
		return 0, 0, err
	}
	span.SetAttributes(traces.Score(score))
	return score, counted, nil
}

// GetScore returns the cached score, or the neutral default for agents
// that have never been scored.
func (s *Scorer) GetScore(ctx context.Context, agentID string) (*Result, error) {
	result, err := s.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &Result{
			AgentID: agentID,
			Score:   DefaultScore,
		}, nil
	}
	return result, nil
}

// Compute scores a set of ledger entries at the given instant.
//
// Per entry:
//   - skipped when disputed or when the rating is zero (removed entries
//     have their rating zeroed, so both fall out here)
//   - timeWeight: 1 if older than a year, otherwise one point per full
//     day of remaining freshness plus one (366 at the moment of posting)
//   - stakeWeight: 2 when credits are bonded, 1 otherwise
//   - positive entries contribute rating*100, negative (100-rating)*100,
//     everything else the neutral 5000
//
// The final score is the weight-summed contribution divided by the total
// weight, floored.
func Compute(entries []*feedback.Feedback, now time.Time) (score int64, counted int) {
	var weightedSum, totalWeight int64
	for _, f := range entries {
		if f.Disputed || f.Rating == 0 {
			continue
		}

		age := now.Sub(f.CreatedAt)
		timeWeight := int64(1)
		if age <= decayWindow {
			timeWeight = int64((decayWindow-age)/day) + 1
		}

		stakeWeight := int64(1)
		if credits.Positive(f.Stake) {
			stakeWeight = 2
		}

		var entryScore int64
		switch f.Type {
		case feedback.TypePositive:
			entryScore = int64(f.Rating) * 100
		case feedback.TypeNegative:
			entryScore = int64(100-f.Rating) * 100
		default:
			// Neutral and dispute-type entries both sit at the midpoint.
			entryScore = DefaultScore
		}

		weight := timeWeight * stakeWeight
		weightedSum += entryScore * weight
		totalWeight += weight
		counted++
	}

	if totalWeight == 0 {
		return DefaultScore, 0
	}
	return weightedSum / totalWeight, counted
}
