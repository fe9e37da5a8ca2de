// txbench MCP server.
// Exposes the txbench monitor over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/txbench/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	monitorURL := os.Getenv("TXBENCH_URL")
	if monitorURL == "" {
		monitorURL = "http://localhost:13001"
	}

	s := server.NewMCPServer(
		"txbench",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(monitorURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
