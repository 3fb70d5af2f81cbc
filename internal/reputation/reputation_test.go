package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/psinet/trustd/internal/credits"
	"github.com/psinet/trustd/internal/feedback"
)

func entry(id int64, t feedback.Type, rating int, stake string, createdAt time.Time) *feedback.Feedback {
	if stake == "" {
		stake = credits.Zero
	}
	return &feedback.Feedback{
		ID:        id,
		AgentID:   "agent-1",
		Reviewer:  "reviewer-1",
		Type:      t,
		Rating:    rating,
		Stake:     stake,
		CreatedAt: createdAt,
	}
}

func TestComputeNoFeedback(t *testing.T) {
	score, counted := Compute(nil, time.Now())
	if score != DefaultScore || counted != 0 {
		t.Errorf("Compute() = %d, %d, want %d, 0", score, counted, DefaultScore)
	}
}

func TestComputeFreshPositive(t *testing.T) {
	now := time.Now()
	entries := []*feedback.Feedback{
		entry(1, feedback.TypePositive, 90, "", now),
	}
	score, counted := Compute(entries, now)
	if score != 9000 {
		t.Errorf("score = %d, want 9000", score)
	}
	if counted != 1 {
		t.Errorf("counted = %d, want 1", counted)
	}
}

func TestComputeStakedNegativeDoublesWeight(t *testing.T) {
	now := time.Now()
	entries := []*feedback.Feedback{
		entry(1, feedback.TypePositive, 90, "", now),
		entry(2, feedback.TypeNegative, 20, "1.000000", now),
	}
	// Positive: 9000 at weight 366. Staked negative: (100-20)*100 = 8000
	// at weight 366*2 = 732. (9000*366 + 8000*732) / 1098 = 8333.
	score, counted := Compute(entries, now)
	if score != 8333 {
		t.Errorf("score = %d, want 8333", score)
	}
	if counted != 2 {
		t.Errorf("counted = %d, want 2", counted)
	}
}

func TestComputeSkipsDisputedAndRemoved(t *testing.T) {
	now := time.Now()
	disputed := entry(1, feedback.TypeNegative, 10, "", now)
	disputed.Disputed = true
	removed := entry(2, feedback.TypeNegative, 0, "", now)
	removed.Removed = true
	entries := []*feedback.Feedback{
		disputed,
		removed,
		entry(3, feedback.TypePositive, 90, "", now),
	}
	score, counted := Compute(entries, now)
	if score != 9000 {
		t.Errorf("score = %d, want 9000 (only the positive entry counts)", score)
	}
	if counted != 1 {
		t.Errorf("counted = %d, want 1", counted)
	}
}

func TestComputeAllSkippedFallsBackToDefault(t *testing.T) {
	now := time.Now()
	disputed := entry(1, feedback.TypePositive, 90, "", now)
	disputed.Disputed = true
	score, counted := Compute([]*feedback.Feedback{disputed}, now)
	if score != DefaultScore || counted != 0 {
		t.Errorf("Compute() = %d, %d, want %d, 0", score, counted, DefaultScore)
	}
}

func TestComputeOldEntryWeightFloorsAtOne(t *testing.T) {
	now := time.Now()
	entries := []*feedback.Feedback{
		entry(1, feedback.TypePositive, 90, "", now),
		entry(2, feedback.TypePositive, 50, "", now.Add(-400*24*time.Hour)),
	}
	// Fresh: 9000 at weight 366. Year-old: 5000 at weight 1.
	// (9000*366 + 5000) / 367 = 8989 (floored).
	score, _ := Compute(entries, now)
	if score != 8989 {
		t.Errorf("score = %d, want 8989", score)
	}
}

func TestComputeNegativeInvertsRating(t *testing.T) {
	now := time.Now()
	entries := []*feedback.Feedback{
		entry(1, feedback.TypeNegative, 20, "", now),
	}
	score, _ := Compute(entries, now)
	if score != 8000 {
		t.Errorf("score = %d, want 8000", score)
	}
}

func TestComputeNeutralScoresMidpoint(t *testing.T) {
	now := time.Now()
	entries := []*feedback.Feedback{
		entry(1, feedback.TypeNeutral, 77, "", now),
	}
	score, _ := Compute(entries, now)
	if score != 5000 {
		t.Errorf("score = %d, want 5000 (neutral ignores its rating)", score)
	}
}

func TestComputeDisputeTypeScoresAsNeutral(t *testing.T) {
	// Dispute-type entries carry no direction of their own and land on
	// the midpoint exactly like neutral ones.
	now := time.Now()
	entries := []*feedback.Feedback{
		entry(1, feedback.TypeDispute, 70, "", now),
	}
	score, _ := Compute(entries, now)
	if score != 5000 {
		t.Errorf("score = %d, want 5000", score)
	}
}

func TestComputeRangeBounds(t *testing.T) {
	now := time.Now()
	best := []*feedback.Feedback{entry(1, feedback.TypePositive, 100, "1.000000", now)}
	worst := []*feedback.Feedback{entry(2, feedback.TypeNegative, 100, "1.000000", now)}

	if score, _ := Compute(best, now); score != MaxScore {
		t.Errorf("best score = %d, want %d", score, MaxScore)
	}
	if score, _ := Compute(worst, now); score != 0 {
		t.Errorf("worst score = %d, want 0", score)
	}
}

func TestScorerRecomputeCaches(t *testing.T) {
	ctx := context.Background()
	source := feedback.NewMemoryStore()
	store := NewMemoryScoreStore()
	scorer := NewScorer(source, store)

	f := entry(0, feedback.TypePositive, 90, "", time.Now())
	if err := source.Append(ctx, f); err != nil {
		t.Fatalf("Append: %v", err)
	}

	score, counted, err := scorer.Recompute(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if score != 9000 || counted != 1 {
		t.Errorf("Recompute = %d, %d, want 9000, 1", score, counted)
	}

	cached, err := scorer.GetScore(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if cached.Score != 9000 || cached.FeedbackCount != 1 {
		t.Errorf("cached = %+v", cached)
	}
	if cached.ComputedAt.IsZero() {
		t.Error("expected ComputedAt to be set")
	}
}

func TestGetScoreDefaultsForUnknownAgent(t *testing.T) {
	scorer := NewScorer(feedback.NewMemoryStore(), NewMemoryScoreStore())
	result, err := scorer.GetScore(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if result.Score != DefaultScore || result.FeedbackCount != 0 {
		t.Errorf("result = %+v, want neutral default", result)
	}
}

func TestRecomputeAfterDisputeRemoval(t *testing.T) {
	ctx := context.Background()
	source := feedback.NewMemoryStore()
	scorer := NewScorer(source, NewMemoryScoreStore())
	now := time.Now()

	pos := entry(0, feedback.TypePositive, 90, "", now)
	neg := entry(0, feedback.TypeNegative, 20, "1.000000", now)
	if err := source.Append(ctx, pos); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := source.Append(ctx, neg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	score, _, err := scorer.Recompute(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if score != 8333 {
		t.Fatalf("score = %d, want 8333", score)
	}

	// Resolving a dispute with removal zeroes the rating.
	neg.Rating = 0
	neg.Removed = true
	if err := source.Update(ctx, neg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	score, counted, err := scorer.Recompute(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if score != 9000 || counted != 1 {
		t.Errorf("Recompute = %d, %d, want 9000, 1", score, counted)
	}
}
