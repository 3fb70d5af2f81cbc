package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all trustd tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("trustd", "1.0.0")
	client := NewTrustdClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetReputation, h.HandleGetReputation)
	s.AddTool(ToolPostFeedback, h.HandlePostFeedback)
	s.AddTool(ToolListFeedback, h.HandleListFeedback)
	s.AddTool(ToolDisputeFeedback, h.HandleDisputeFeedback)
	s.AddTool(ToolResolveDispute, h.HandleResolveDispute)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolListEvents, h.HandleListEvents)

	return s
}
