package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the trustd engine.
type Config struct {
	APIURL    string // Base URL, e.g. "http://localhost:8080"
	APIKey    string // API key, e.g. "sk_..."
	Principal string // Principal the key is bound to, e.g. "acme-orchestrator"
}

// TrustdClient is a pure HTTP client for the trustd engine API.
type TrustdClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewTrustdClient creates a new client for the engine.
func NewTrustdClient(cfg Config) *TrustdClient {
	return &TrustdClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the engine.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the engine and returns the response body.
func (c *TrustdClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetReputation returns the reputation score for an agent.
func (c *TrustdClient) GetReputation(ctx context.Context, agentID string) (json.RawMessage, error) {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/reputation"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// PostFeedback records a feedback entry for an agent. stake is optional;
// a non-empty value bonds credits behind the entry.
func (c *TrustdClient) PostFeedback(ctx context.Context, agentID, ftype string, rating int, contextHash, metadata, stake string) (json.RawMessage, error) {
	body := map[string]any{
		"agentId": agentID,
		"type":    ftype,
		"rating":  rating,
	}
	if contextHash != "" {
		body["contextHash"] = contextHash
	}
	if metadata != "" {
		body["metadata"] = metadata
	}
	if stake != "" {
		body["stake"] = stake
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/feedback", nil, body)
}

// ListFeedback returns recent feedback entries for an agent.
func (c *TrustdClient) ListFeedback(ctx context.Context, agentID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/agents/" + url.PathEscape(agentID) + "/feedback"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}

// GetFeedbackCounts returns per-type feedback counters for an agent.
func (c *TrustdClient) GetFeedbackCounts(ctx context.Context, agentID string) (json.RawMessage, error) {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/feedback/counts"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// DisputeFeedback flags a feedback entry as contested.
func (c *TrustdClient) DisputeFeedback(ctx context.Context, feedbackID int64, reason string) (json.RawMessage, error) {
	path := "/v1/feedback/" + strconv.FormatInt(feedbackID, 10) + "/dispute"
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// ResolveDispute settles a disputed feedback entry. Requires the
// DISPUTE_RESOLVER role on the engine side.
func (c *TrustdClient) ResolveDispute(ctx context.Context, feedbackID int64, removeFeedback, slashStake bool) (json.RawMessage, error) {
	path := "/v1/feedback/" + strconv.FormatInt(feedbackID, 10) + "/resolve"
	body := map[string]bool{
		"removeFeedback": removeFeedback,
		"slashStake":     slashStake,
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// GetBalance returns the caller's credit balance.
func (c *TrustdClient) GetBalance(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/principals/" + url.PathEscape(c.cfg.Principal) + "/balance"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ListEvents returns recent engine events, optionally scoped to one agent.
func (c *TrustdClient) ListEvents(ctx context.Context, agentID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/events"
	if agentID != "" {
		path = "/v1/agents/" + url.PathEscape(agentID) + "/events"
	}
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}
