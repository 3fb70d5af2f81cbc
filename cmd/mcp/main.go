// Trustd MCP Server - Exposes the reputation engine as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/psinet/trustd/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:    envOrDefault("TRUSTD_API_URL", "http://localhost:8080"),
		APIKey:    os.Getenv("TRUSTD_API_KEY"),
		Principal: os.Getenv("TRUSTD_PRINCIPAL"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "TRUSTD_API_KEY is required")
		os.Exit(1)
	}
	if cfg.Principal == "" {
		fmt.Fprintln(os.Stderr, "TRUSTD_PRINCIPAL is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
