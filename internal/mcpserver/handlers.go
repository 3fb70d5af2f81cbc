package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *TrustdClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *TrustdClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetReputation returns the reputation score for an agent.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	raw, err := h.client.GetReputation(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	text, err := formatReputation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePostFeedback records a feedback entry.
func (h *Handlers) HandlePostFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	ftype := req.GetString("type", "")
	if ftype == "" {
		return mcp.NewToolResultError("type is required"), nil
	}
	rating := req.GetInt("rating", 0)
	contextHash := req.GetString("context_hash", "")
	metadata := req.GetString("metadata", "")
	stake := req.GetString("stake", "")

	raw, err := h.client.PostFeedback(ctx, agentID, ftype, rating, contextHash, metadata, stake)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to post feedback: %v", err)), nil
	}

	var f feedbackEntry
	if err := json.Unmarshal(raw, &f); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse feedback: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Feedback recorded (ID %d)\n", f.ID)
	fmt.Fprintf(&sb, "Agent: %s\n", f.AgentID)
	fmt.Fprintf(&sb, "Type: %s", f.Type)
	if f.Type == "positive" || f.Type == "negative" {
		fmt.Fprintf(&sb, " (rating %d)", f.Rating)
	}
	sb.WriteString("\n")
	if f.Stake != "" && f.Stake != "0" && f.Stake != "0.000000" {
		fmt.Fprintf(&sb, "Stake bonded: %s credits (locked until the entry ages out or a dispute settles)\n", f.Stake)
	}
	sb.WriteString("\nThe agent's reputation score has been recomputed.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListFeedback lists recent feedback for an agent.
func (h *Handlers) HandleListFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListFeedback(ctx, agentID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list feedback: %v", err)), nil
	}

	text, err := formatFeedbackList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse feedback: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleDisputeFeedback contests a feedback entry.
func (h *Handlers) HandleDisputeFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feedbackID := req.GetInt("feedback_id", 0)
	if feedbackID <= 0 {
		return mcp.NewToolResultError("feedback_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	_, err := h.client.DisputeFeedback(ctx, int64(feedbackID), reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Feedback %d is now under dispute.\n"+
			"Reason: %s\n\n"+
			"While disputed, the entry is excluded from the agent's score. "+
			"A dispute resolver will uphold or reject it.",
		feedbackID, reason)), nil
}

// HandleResolveDispute settles a disputed entry.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feedbackID := req.GetInt("feedback_id", 0)
	if feedbackID <= 0 {
		return mcp.NewToolResultError("feedback_id is required"), nil
	}
	removeFeedback := req.GetBool("remove_feedback", false)
	slashStake := req.GetBool("slash_stake", false)

	raw, err := h.client.ResolveDispute(ctx, int64(feedbackID), removeFeedback, slashStake)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Resolution failed: %v", err)), nil
	}

	var resp struct {
		Removed bool `json:"removed"`
		Slashed bool `json:"slashed"`
	}
	_ = json.Unmarshal(raw, &resp)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Dispute on feedback %d resolved.\n", feedbackID)
	if resp.Removed {
		sb.WriteString("Outcome: upheld, entry removed from scoring.\n")
	} else {
		sb.WriteString("Outcome: rejected, entry restored.\n")
	}
	if resp.Slashed {
		sb.WriteString("Stake: slashed to the treasury.")
	} else {
		sb.WriteString("Stake: returned to the reviewer (if any was bonded).")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBalance returns the caller's credit balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListEvents lists recent engine events.
func (h *Handlers) HandleListEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListEvents(ctx, agentID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}

	text, err := formatEventList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type feedbackEntry struct {
	ID            int64  `json:"id"`
	AgentID       string `json:"agentId"`
	Reviewer      string `json:"reviewer"`
	Type          string `json:"type"`
	Rating        int    `json:"rating"`
	Stake         string `json:"stake"`
	Disputed      bool   `json:"disputed"`
	DisputeReason string `json:"disputeReason"`
	Removed       bool   `json:"removed"`
	CreatedAt     string `json:"createdAt"`
}

func formatReputation(raw json.RawMessage) (string, error) {
	var resp struct {
		Reputation struct {
			AgentID       string `json:"agentId"`
			Score         int64  `json:"score"`
			FeedbackCount int    `json:"feedbackCount"`
			ComputedAt    string `json:"computedAt"`
		} `json:"reputation"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	rep := resp.Reputation
	var sb strings.Builder
	sb.WriteString("Agent Reputation:\n")
	fmt.Fprintf(&sb, "  Agent: %s\n", rep.AgentID)
	fmt.Fprintf(&sb, "  Score: %d / 10000 (%s)\n", rep.Score, describeScore(rep.Score))
	fmt.Fprintf(&sb, "  Feedback counted: %d\n", rep.FeedbackCount)
	if rep.FeedbackCount == 0 {
		sb.WriteString("  Note: no feedback yet, score is the neutral default.\n")
	}
	if resp.Signature != "" {
		sb.WriteString("  Attestation: signed by the engine\n")
	}

	return sb.String(), nil
}

// describeScore buckets a raw score for the LLM's benefit.
func describeScore(score int64) string {
	switch {
	case score >= 8500:
		return "excellent"
	case score >= 6500:
		return "good"
	case score >= 3500:
		return "neutral"
	case score >= 1500:
		return "poor"
	default:
		return "very poor"
	}
}

func formatFeedbackList(raw json.RawMessage) (string, error) {
	var resp struct {
		AgentID  string          `json:"agentId"`
		Feedback []feedbackEntry `json:"feedback"`
		Count    int             `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Feedback) == 0 {
		return fmt.Sprintf("No feedback recorded for %s.", resp.AgentID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Feedback for %s (%d entries):\n\n", resp.AgentID, len(resp.Feedback))
	for _, f := range resp.Feedback {
		fmt.Fprintf(&sb, "#%d %s", f.ID, f.Type)
		if f.Type == "positive" || f.Type == "negative" {
			fmt.Fprintf(&sb, " (rating %d)", f.Rating)
		}
		fmt.Fprintf(&sb, " by %s", f.Reviewer)
		if f.Stake != "" && f.Stake != "0" && f.Stake != "0.000000" {
			fmt.Fprintf(&sb, ", staked %s", f.Stake)
		}
		switch {
		case f.Removed:
			sb.WriteString(" [removed by dispute]")
		case f.Disputed:
			fmt.Fprintf(&sb, " [disputed: %s]", f.DisputeReason)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp struct {
		Balance struct {
			Principal string `json:"principal"`
			Available string `json:"available"`
			Escrowed  string `json:"escrowed"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	bal := resp.Balance
	var sb strings.Builder
	sb.WriteString("Credit Balance:\n")
	fmt.Fprintf(&sb, "  Available: %s credits\n", bal.Available)
	if bal.Escrowed != "" && bal.Escrowed != "0" && bal.Escrowed != "0.000000" {
		fmt.Fprintf(&sb, "  Staked:    %s credits (locked behind feedback)\n", bal.Escrowed)
	}

	return sb.String(), nil
}

func formatEventList(raw json.RawMessage) (string, error) {
	var resp struct {
		Events []struct {
			ID        string         `json:"id"`
			Type      string         `json:"type"`
			AgentID   string         `json:"agentId"`
			Timestamp string         `json:"timestamp"`
			Data      map[string]any `json:"data"`
		} `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Events) == 0 {
		return "No recent events.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent events (%d):\n\n", len(resp.Events))
	for _, e := range resp.Events {
		fmt.Fprintf(&sb, "[%s] %s", e.Timestamp, e.Type)
		if e.AgentID != "" {
			fmt.Fprintf(&sb, " agent=%s", e.AgentID)
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				fmt.Fprintf(&sb, " %s", data)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
