package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psinet/trustd/internal/circuitbreaker"
)

// breakerKey identifies the directory in circuit breaker state and metrics.
const breakerKey = "identity_directory"

// HTTPDirectory talks to a remote identity service over its REST API.
// The expected surface is GET {base}/v1/agents/{id} returning an Agent
// document, with 404 for unknown agents.
//
// A circuit breaker fails lookups fast while the directory is down so
// feedback submission does not hang on a dead dependency.
type HTTPDirectory struct {
	base    string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPDirectory creates a client for the identity service at base.
func NewHTTPDirectory(base string) *HTTPDirectory {
	return &HTTPDirectory{
		base: strings.TrimRight(base, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (d *HTTPDirectory) fetch(ctx context.Context, agentID string) (*Agent, error) {
	if !d.breaker.Allow(breakerKey) {
		return nil, ErrDirectoryUnavailable
	}

	u := d.base + "/v1/agents/" + url.PathEscape(strings.ToLower(agentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		d.breaker.RecordSuccess(breakerKey)
	case resp.StatusCode == http.StatusNotFound:
		// A 404 is a healthy answer, the service is up.
		d.breaker.RecordSuccess(breakerKey)
		return nil, ErrUnknownAgent
	case resp.StatusCode >= 500:
		d.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("identity service returned %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}

	var agent Agent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	return &agent, nil
}

func (d *HTTPDirectory) IsAgentActive(ctx context.Context, agentID string) (bool, error) {
	agent, err := d.fetch(ctx, agentID)
	if err != nil {
		if err == ErrUnknownAgent {
			return false, nil
		}
		return false, err
	}
	return agent.Active, nil
}

func (d *HTTPDirectory) AgentOwner(ctx context.Context, agentID string) (string, error) {
	agent, err := d.fetch(ctx, agentID)
	if err != nil {
		return "", err
	}
	return agent.Owner, nil
}
