package reputation

import "time"

// Snapshot is a point-in-time reputation score stored for history.
type Snapshot struct {
	ID            int       `json:"id"`
	AgentID       string    `json:"agentId"`
	Score         int64     `json:"score"`
	FeedbackCount int       `json:"feedbackCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SnapshotFromResult creates a Snapshot from a computed Result.
func SnapshotFromResult(r *Result) *Snapshot {
	return &Snapshot{
		AgentID:       r.AgentID,
		Score:         r.Score,
		FeedbackCount: r.FeedbackCount,
		CreatedAt:     time.Now(),
	}
}

// SignedScore wraps a Result with HMAC signature and validity window.
type SignedScore struct {
	Reputation *Result `json:"reputation"`
	Signature  string  `json:"signature,omitempty"`
	IssuedAt   string  `json:"issuedAt,omitempty"`
	ExpiresAt  string  `json:"expiresAt,omitempty"`
}

// BatchRequest is a request for batch reputation lookups.
type BatchRequest struct {
	AgentIDs []string `json:"agentIds" binding:"required"`
}

// BatchResponse returns multiple reputation scores.
type BatchResponse struct {
	Scores    []*SignedScore `json:"scores"`
	Signature string         `json:"signature,omitempty"`
	IssuedAt  string         `json:"issuedAt,omitempty"`
	ExpiresAt string         `json:"expiresAt,omitempty"`
}

// HistoryQuery holds query parameters for historical scores.
type HistoryQuery struct {
	AgentID string
	From    time.Time
	To      time.Time
	Limit   int
}
