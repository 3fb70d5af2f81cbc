package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:    ts.URL,
		APIKey:    "sk_test_key",
		Principal: "reviewer-1",
	}
	client := NewTrustdClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "sk_secret123", Principal: "alice"})
	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "forbidden",
			"message": "Invalid API key",
		})
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "bad", Principal: "alice"})
	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_InsufficientBalance(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "insufficient_balance",
			"message": "not enough available credits to bond the stake",
		})
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.PostFeedback(context.Background(), "agent-1", "positive", 90, "", "", "10.000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough available credits")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewTrustdClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k", Principal: "alice"})
	_, err := client.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetBalance(ctx)
	require.Error(t, err)
}

func TestClient_GetReputation_Path(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"reputation":{"agentId":"agent-1","score":5000}}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.GetReputation(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/agents/agent-1/reputation", gotPath)
}

func TestClient_PostFeedback_Body(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/feedback", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"agentId":"agent-1","type":"positive","rating":90}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.PostFeedback(context.Background(), "agent-1", "positive", 90, "ctx-abc", "great work", "2.500000")
	require.NoError(t, err)

	assert.Equal(t, "agent-1", gotBody["agentId"])
	assert.Equal(t, "positive", gotBody["type"])
	assert.Equal(t, float64(90), gotBody["rating"])
	assert.Equal(t, "ctx-abc", gotBody["contextHash"])
	assert.Equal(t, "great work", gotBody["metadata"])
	assert.Equal(t, "2.500000", gotBody["stake"])
}

func TestClient_PostFeedback_OmitsEmptyOptionals(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":2}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.PostFeedback(context.Background(), "agent-1", "neutral", 0, "", "", "")
	require.NoError(t, err)

	_, hasStake := gotBody["stake"]
	assert.False(t, hasStake, "empty stake should be omitted")
	_, hasMeta := gotBody["metadata"]
	assert.False(t, hasMeta, "empty metadata should be omitted")
}

func TestClient_ListFeedback_Limit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/agent-1/feedback", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"agentId":"agent-1","feedback":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.ListFeedback(context.Background(), "agent-1", 5)
	require.NoError(t, err)
}

func TestClient_DisputeFeedback_Path(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/feedback/42/dispute", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"id":42,"disputed":true}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.DisputeFeedback(context.Background(), 42, "fabricated interaction")
	require.NoError(t, err)
	assert.Equal(t, "fabricated interaction", gotBody["reason"])
}

func TestClient_ResolveDispute_Body(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/feedback/42/resolve", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"removed":true,"slashed":true}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.ResolveDispute(context.Background(), 42, true, true)
	require.NoError(t, err)
	assert.Equal(t, true, gotBody["removeFeedback"])
	assert.Equal(t, true, gotBody["slashStake"])
}

func TestClient_GetBalance_UsesPrincipal(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"balance":{"available":"10.000000"}}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "acme-orchestrator"})
	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/v1/principals/acme-orchestrator/balance", gotPath)
}

func TestClient_ListEvents_AgentScoped(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"events":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewTrustdClient(Config{APIURL: ts.URL, APIKey: "k", Principal: "alice"})
	_, err := client.ListEvents(context.Background(), "agent-1", 10)
	require.NoError(t, err)
	assert.Equal(t, "/v1/agents/agent-1/events", gotPath)

	_, err = client.ListEvents(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, "/v1/events", gotPath)
}

// ============================================================
// get_reputation
// ============================================================

func TestHandleGetReputation_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reputation": map[string]any{
				"agentId":       "agent-1",
				"score":         8700,
				"feedbackCount": 12,
				"computedAt":    "2026-05-01T10:00:00Z",
			},
		})
	}))
	defer done()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "agent-1")
	assert.Contains(t, text, "8700 / 10000")
	assert.Contains(t, text, "excellent")
	assert.Contains(t, text, "Feedback counted: 12")
}

func TestHandleGetReputation_NeutralDefault(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reputation": map[string]any{
				"agentId":       "agent-new",
				"score":         5000,
				"feedbackCount": 0,
			},
		})
	}))
	defer done()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-new",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "neutral")
	assert.Contains(t, text, "no feedback yet")
}

func TestHandleGetReputation_Signed(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reputation": map[string]any{"agentId": "agent-1", "score": 6000, "feedbackCount": 3},
			"signature":  "abcd1234",
		})
	}))
	defer done()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "signed by the engine")
}

func TestHandleGetReputation_MissingAgentID(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "agent_id is required")
}

func TestHandleGetReputation_APIError(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "internal_error", "message": "failed to read reputation score",
		})
	}))
	defer done()

	result, err := h.HandleGetReputation(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed to read reputation score")
}

// ============================================================
// post_feedback
// ============================================================

func TestHandlePostFeedback_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 7, "agentId": "agent-1", "reviewer": "reviewer-1",
			"type": "positive", "rating": 85, "stake": "0.000000",
		})
	}))
	defer done()

	result, err := h.HandlePostFeedback(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
		"type":     "positive",
		"rating":   85,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Feedback recorded (ID 7)")
	assert.Contains(t, text, "rating 85")
	assert.Contains(t, text, "recomputed")
	assert.NotContains(t, text, "Stake bonded")
}

func TestHandlePostFeedback_Staked(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 8, "agentId": "agent-1", "type": "negative", "rating": 10, "stake": "5.000000",
		})
	}))
	defer done()

	result, err := h.HandlePostFeedback(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
		"type":     "negative",
		"rating":   10,
		"stake":    "5.000000",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Stake bonded: 5.000000 credits")
}

func TestHandlePostFeedback_MissingArgs(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandlePostFeedback(context.Background(), makeRequest(map[string]any{
		"type": "positive",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "agent_id is required")

	result, err = h.HandlePostFeedback(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "type is required")
}

func TestHandlePostFeedback_UnknownAgent(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "agent_not_found", "message": "agent is unknown or inactive",
		})
	}))
	defer done()

	result, err := h.HandlePostFeedback(context.Background(), makeRequest(map[string]any{
		"agent_id": "ghost", "type": "positive", "rating": 50,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "agent is unknown or inactive")
}

// ============================================================
// list_feedback
// ============================================================

func TestHandleListFeedback_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agentId": "agent-1",
			"feedback": []map[string]any{
				{"id": 3, "type": "positive", "rating": 90, "reviewer": "alice", "stake": "2.000000"},
				{"id": 2, "type": "negative", "rating": 20, "reviewer": "bob", "disputed": true, "disputeReason": "never happened"},
				{"id": 1, "type": "neutral", "reviewer": "carol", "removed": true},
			},
			"count": 3,
		})
	}))
	defer done()

	result, err := h.HandleListFeedback(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "3 entries")
	assert.Contains(t, text, "#3 positive (rating 90) by alice, staked 2.000000")
	assert.Contains(t, text, "[disputed: never happened]")
	assert.Contains(t, text, "[removed by dispute]")
}

func TestHandleListFeedback_Empty(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agentId": "agent-1", "feedback": []map[string]any{}, "count": 0,
		})
	}))
	defer done()

	result, err := h.HandleListFeedback(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No feedback recorded")
}

func TestHandleListFeedback_MissingAgentID(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandleListFeedback(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ============================================================
// dispute_feedback / resolve_dispute
// ============================================================

func TestHandleDisputeFeedback_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/feedback/5/dispute", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 5, "disputed": true})
	}))
	defer done()

	result, err := h.HandleDisputeFeedback(context.Background(), makeRequest(map[string]any{
		"feedback_id": 5,
		"reason":      "fabricated interaction",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Feedback 5 is now under dispute")
	assert.Contains(t, text, "fabricated interaction")
	assert.Contains(t, text, "excluded from the agent's score")
}

func TestHandleDisputeFeedback_MissingArgs(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer done()

	result, err := h.HandleDisputeFeedback(context.Background(), makeRequest(map[string]any{
		"reason": "because",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "feedback_id is required")

	result, err = h.HandleDisputeFeedback(context.Background(), makeRequest(map[string]any{
		"feedback_id": 5,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "reason is required")
}

func TestHandleDisputeFeedback_AlreadyDisputed(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "already_disputed", "message": "feedback entry is already under dispute",
		})
	}))
	defer done()

	result, err := h.HandleDisputeFeedback(context.Background(), makeRequest(map[string]any{
		"feedback_id": 5, "reason": "duplicate",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already under dispute")
}

func TestHandleResolveDispute_Upheld(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"feedback": map[string]any{"id": 5},
			"removed":  true,
			"slashed":  true,
		})
	}))
	defer done()

	result, err := h.HandleResolveDispute(context.Background(), makeRequest(map[string]any{
		"feedback_id":     5,
		"remove_feedback": true,
		"slash_stake":     true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "upheld, entry removed")
	assert.Contains(t, text, "slashed to the treasury")
}

func TestHandleResolveDispute_Rejected(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"feedback": map[string]any{"id": 5},
			"removed":  false,
			"slashed":  false,
		})
	}))
	defer done()

	result, err := h.HandleResolveDispute(context.Background(), makeRequest(map[string]any{
		"feedback_id": 5,
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "rejected, entry restored")
	assert.Contains(t, text, "returned to the reviewer")
}

func TestHandleResolveDispute_Forbidden(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "forbidden", "message": "caller may not act on this dispute",
		})
	}))
	defer done()

	result, err := h.HandleResolveDispute(context.Background(), makeRequest(map[string]any{
		"feedback_id": 5, "remove_feedback": true,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "may not act on this dispute")
}

// ============================================================
// check_balance
// ============================================================

func TestHandleCheckBalance_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/principals/reviewer-1/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balance": map[string]any{
				"principal": "reviewer-1",
				"available": "12.500000",
				"escrowed":  "3.000000",
			},
		})
	}))
	defer done()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Available: 12.500000 credits")
	assert.Contains(t, text, "Staked:    3.000000 credits")
}

func TestHandleCheckBalance_NoEscrow(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balance": map[string]any{
				"principal": "reviewer-1",
				"available": "5.000000",
				"escrowed":  "0.000000",
			},
		})
	}))
	defer done()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Available: 5.000000")
	assert.NotContains(t, text, "Staked")
}

// ============================================================
// list_events
// ============================================================

func TestHandleListEvents_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{
				{"id": "evt_1", "type": "feedback.posted", "agentId": "agent-1", "timestamp": "2026-05-01T10:00:00Z", "data": map[string]any{"feedbackId": 1}},
				{"id": "evt_2", "type": "dispute.opened", "agentId": "agent-1", "timestamp": "2026-05-01T11:00:00Z", "data": map[string]any{}},
			},
			"count": 2,
		})
	}))
	defer done()

	result, err := h.HandleListEvents(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Recent events (2)")
	assert.Contains(t, text, "feedback.posted")
	assert.Contains(t, text, "dispute.opened")
	assert.Contains(t, text, "agent=agent-1")
}

func TestHandleListEvents_Empty(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"events": []map[string]any{}, "count": 0})
	}))
	defer done()

	result, err := h.HandleListEvents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No recent events")
}

// ============================================================
// Formatting helpers
// ============================================================

func TestDescribeScore_Buckets(t *testing.T) {
	cases := []struct {
		score int64
		want  string
	}{
		{10000, "excellent"},
		{8500, "excellent"},
		{7000, "good"},
		{5000, "neutral"},
		{2000, "poor"},
		{0, "very poor"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, describeScore(tc.score), "score %d", tc.score)
	}
}

func TestFormatReputation_BadJSON(t *testing.T) {
	_, err := formatReputation(json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestFormatFeedbackList_BadJSON(t *testing.T) {
	_, err := formatFeedbackList(json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
}
