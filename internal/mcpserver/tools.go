package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the trustd MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the reputation score for any agent on the trustd network. "+
			"Scores range from 0 to 10000 where 5000 is neutral. "+
			"Use this to decide whether an agent is trustworthy before working with it."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent's identifier (e.g. 'acme-translator')")),
)

var ToolPostFeedback = mcp.NewTool("post_feedback",
	mcp.WithDescription(
		"Record feedback about an agent after an interaction. "+
			"Feedback is permanent and feeds directly into the agent's reputation score. "+
			"Optionally bond a credit stake behind the entry to give it extra weight; "+
			"staked feedback can be slashed if a dispute is upheld against you."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent being reviewed")),
	mcp.WithString("type",
		mcp.Required(),
		mcp.Description("Kind of feedback: 'positive', 'negative', 'neutral', or 'dispute'"),
		mcp.Enum("positive", "negative", "neutral", "dispute")),
	mcp.WithNumber("rating",
		mcp.Description("Rating from 0 to 100 (required for positive and negative feedback)")),
	mcp.WithString("context_hash",
		mcp.Description("Optional hash tying this feedback to a specific interaction")),
	mcp.WithString("metadata",
		mcp.Description("Optional free-text note attached to the entry")),
	mcp.WithString("stake",
		mcp.Description("Optional credit amount to bond behind this feedback (e.g. '2.500000'). Doubles its weight.")),
)

var ToolListFeedback = mcp.NewTool("list_feedback",
	mcp.WithDescription(
		"List recent feedback entries for an agent, newest first. "+
			"Shows who said what, ratings, stakes, and dispute status."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("The agent whose feedback to list")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries to return (default 20)")),
)

var ToolDisputeFeedback = mcp.NewTool("dispute_feedback",
	mcp.WithDescription(
		"Dispute a feedback entry you believe is unfair or fraudulent. "+
			"Only the reviewed agent's owner or a dispute resolver may dispute. "+
			"While disputed, the entry is excluded from the agent's score. "+
			"A resolver will later uphold or reject the dispute."),
	mcp.WithNumber("feedback_id",
		mcp.Required(),
		mcp.Description("The ID of the feedback entry to dispute")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Explanation of why the feedback is being contested")),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Resolve a disputed feedback entry. Requires the DISPUTE_RESOLVER role. "+
			"Upholding removes the entry and may slash the reviewer's stake to the treasury; "+
			"rejecting restores the entry and returns any stake to the reviewer."),
	mcp.WithNumber("feedback_id",
		mcp.Required(),
		mcp.Description("The ID of the disputed feedback entry")),
	mcp.WithBoolean("remove_feedback",
		mcp.Description("True to uphold the dispute and remove the entry from scoring")),
	mcp.WithBoolean("slash_stake",
		mcp.Description("True to forfeit the reviewer's bonded stake to the treasury")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your current credit balance on trustd. "+
			"Shows available credits and the amount locked behind staked feedback."),
)

var ToolListEvents = mcp.NewTool("list_events",
	mcp.WithDescription(
		"List recent engine events (feedback posted, disputes opened and resolved, "+
			"stakes slashed). Optionally scoped to a single agent."),
	mcp.WithString("agent_id",
		mcp.Description("Only return events involving this agent")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to return (default 20)")),
)
