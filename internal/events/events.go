// Package events records engine lifecycle events in an append-only log
// and fans them out to realtime subscribers. Emission is fire-and-forget:
// a failed append is logged and counted but never fails the operation
// that produced the event.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psinet/trustd/internal/idgen"
	"github.com/psinet/trustd/internal/pagination"
)

// Type identifies an engine event.
type Type string

const (
	TypeFeedbackPosted    Type = "feedback.posted"
	TypeFeedbackDisputed  Type = "feedback.disputed"
	TypeDisputeResolved   Type = "dispute.resolved"
	TypeReputationUpdated Type = "reputation.updated"
)

// Event is a single entry in the engine event log.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	AgentID   string                 `json:"agentId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, limit int) ([]*Event, error)
	// ListBefore returns events strictly older than the cursor position,
	// newest first. A nil cursor starts from the newest event.
	ListBefore(ctx context.Context, before *pagination.Cursor, limit int) ([]*Event, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Event, error)
}

// Broadcaster pushes an event to live subscribers.
type Broadcaster interface {
	Broadcast(event *Event)
}

// Fanout broadcasts to multiple sinks in order. Nil entries are skipped.
type Fanout []Broadcaster

func (f Fanout) Broadcast(event *Event) {
	for _, b := range f {
		if b != nil {
			b.Broadcast(event)
		}
	}
}

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "events",
		Name:      "emit_total",
		Help:      "Total event emissions by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "events",
		Name:      "emit_errors_total",
		Help:      "Total event append failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors)
}

// Emitter writes engine events to the log and broadcasts them.
// All methods are safe to call on a nil receiver.
type Emitter struct {
	store  Store
	hub    Broadcaster
	logger *slog.Logger
}

// NewEmitter creates an emitter backed by the given store. hub may be nil.
func NewEmitter(store Store, hub Broadcaster, logger *slog.Logger) *Emitter {
	return &Emitter{store: store, hub: hub, logger: logger}
}

func (e *Emitter) emit(agentID string, t Type, data map[string]interface{}) {
	if e == nil || e.store == nil {
		return
	}
	emitTotal.WithLabelValues(string(t)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Append(ctx, event); err != nil {
		emitErrors.WithLabelValues(string(t)).Inc()
		e.logger.Warn("event append failed", "event", t, "agent", agentID, "error", err)
		return
	}
	if e.hub != nil {
		e.hub.Broadcast(event)
	}
}

// EmitFeedbackPosted records a feedback.posted event.
func (e *Emitter) EmitFeedbackPosted(feedbackID int64, agentID, reviewer, feedbackType string, rating int, contextHash string) {
	e.emit(agentID, TypeFeedbackPosted, map[string]interface{}{
		"feedbackId":  feedbackID,
		"agentId":     agentID,
		"reviewer":    reviewer,
		"type":        feedbackType,
		"rating":      rating,
		"contextHash": contextHash,
	})
}

// EmitFeedbackDisputed records a feedback.disputed event.
func (e *Emitter) EmitFeedbackDisputed(feedbackID int64, agentID, disputer, reason string) {
	e.emit(agentID, TypeFeedbackDisputed, map[string]interface{}{
		"feedbackId": feedbackID,
		"agentId":    agentID,
		"disputer":   disputer,
		"reason":     reason,
	})
}

// EmitDisputeResolved records a dispute.resolved event.
func (e *Emitter) EmitDisputeResolved(feedbackID int64, agentID, resolver string, removed bool) {
	e.emit(agentID, TypeDisputeResolved, map[string]interface{}{
		"feedbackId": feedbackID,
		"agentId":    agentID,
		"resolver":   resolver,
		"removed":    removed,
	})
}

// EmitReputationUpdated records a reputation.updated event.
func (e *Emitter) EmitReputationUpdated(agentID string, newScore int64, feedbackCount int) {
	e.emit(agentID, TypeReputationUpdated, map[string]interface{}{
		"agentId":       agentID,
		"newScore":      newScore,
		"feedbackCount": feedbackCount,
	})
}
