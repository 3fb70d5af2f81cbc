// Package webhooks delivers engine events to external HTTP endpoints.
//
// Principals register webhook URLs to be notified about:
// - Feedback postings
// - Dispute openings and resolutions
// - Reputation score updates
//
// Payloads are HMAC-SHA256 signed with a per-subscription secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psinet/trustd/internal/events"
	"github.com/psinet/trustd/internal/retry"
	"github.com/psinet/trustd/internal/security"
)

var (
	webhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook delivery attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(webhookDeliveriesTotal)
}

// maxConsecutiveFailures disables a subscription after this many failed
// deliveries in a row. A re-registered subscription starts fresh.
const maxConsecutiveFailures = 10

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string        `json:"id"`
	Principal           string        `json:"principal"`
	URL                 string        `json:"url"`
	Secret              string        `json:"-"` // Used for HMAC signing
	Events              []events.Type `json:"events"`
	Active              bool          `json:"active"`
	ConsecutiveFailures int           `json:"-"`
	CreatedAt           time.Time     `json:"createdAt"`
	LastSuccess         *time.Time    `json:"lastSuccess,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByPrincipal(ctx context.Context, principal string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType events.Type) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends engine events to subscribed endpoints
type Dispatcher struct {
	store        Store
	client       *http.Client
	urlValidator func(string) error
	maxAttempts  int
	baseDelay    time.Duration
	mu           sync.RWMutex
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		urlValidator: security.ValidateEndpointURL,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
	}
}

// Broadcast implements events.Broadcaster so the dispatcher can sit next to
// the realtime hub in the emitter fan-out. Delivery errors are swallowed;
// a missed webhook never fails the operation that produced the event.
func (d *Dispatcher) Broadcast(event *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancel()
		_ = d.Dispatch(ctx, event)
	}()
}

// Dispatch sends an event to all subscribers watching its type
func (d *Dispatcher) Dispatch(ctx context.Context, event *events.Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			d.send(ctx, sub, event)
		}(sub)
	}
	wg.Wait()

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	if err := d.urlValidator(sub.URL); err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("endpoint rejected: %v", err))
		return
	}

	// Transient failures (network errors, 5xx) are retried with backoff.
	// Client errors are not: a 4xx will not get better on its own.
	err = retry.Do(ctx, d.maxAttempts, d.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trustd-Event", string(event.Type))
		req.Header.Set("X-Trustd-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

		// Sign the payload if secret is set
		if sub.Secret != "" {
			signature := d.sign(payload, sub.Secret)
			req.Header.Set("X-Trustd-Signature", signature)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	})
	if err != nil {
		d.recordFailure(ctx, sub, err.Error())
		return
	}
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	webhookDeliveriesTotal.WithLabelValues("success").Inc()
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	_ = d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByPrincipal(ctx context.Context, principal string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Principal == principal {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType events.Type) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
