package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all txbench tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerRuns(s, client)
	registerRunDetail(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbench_status",
		gomcp.WithDescription("Get the live state of the current txbench run: dispatched/observed counts, in-flight slots, violations, TPS and submit latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("txbench monitor unreachable: %v\n\nWas the run started with --listen?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbench_health",
		gomcp.WithDescription("Quick health check for txbench. Checks node RPC connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("txbench unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbench_runs",
		gomcp.WithDescription("List stored runs with summary metrics (paginated, newest first)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run history failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbench_run_detail",
		gomcp.WithDescription("Get detailed results for a stored run by ID, including violation samples."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get("/v1/runs/" + id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbench_delete_run",
		gomcp.WithDescription("Delete a stored run and its violation samples. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete("/v1/runs/" + id); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	status := getStr(m, "status")
	if status == "idle" {
		return joinLines(
			section("txbench Status"),
			kv("Status", status),
			kv("Capacity", formatNumber(getNum(m, "capacity"))),
		)
	}

	expected := getNum(m, "expected")
	observed := getNum(m, "observed")
	lines := joinLines(
		section("txbench Status"),
		kv("Run", getStr(m, "runId")),
		kv("Kind", getStr(m, "kind")),
		kv("Status", status),
		kv("Wait Until", getStr(m, "waitUntil")),
		kv("Severity", getStr(m, "severity")),
		kv("Expected", formatNumber(expected)),
		kv("Dispatched", formatNumber(getNum(m, "dispatched"))),
		kv("Observed", formatNumber(observed)),
		kv("In Flight", fmt.Sprintf("%s / %s", formatNumber(getNum(m, "inFlight")), formatNumber(getNum(m, "capacity")))),
		kv("Violations", formatNumber(getNum(m, "violations"))),
		kv("Progress", progress(observed, expected)),
		kv("Observed TPS", fmt.Sprintf("%.0f", getNum(m, "observedTps"))),
		kv("Target TPS", fmt.Sprintf("%.0f", getNum(m, "targetTps"))),
		kv("Elapsed", fmt.Sprintf("%.1fs", getNum(m, "elapsedMs")/1000)),
	)
	if errMsg := getStr(m, "error"); errMsg != "" {
		lines += "\n" + kv("Error", errMsg)
	}

	if lat, ok := m["latency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency(lat)
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("txbench Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatRuns(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing runs: %v", err)
	}

	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(getNum(m, "total"))),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		lines += "\nNo runs found."
		return lines
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("\n\n### %s\n", getStr(run, "id"))
		lines += joinLines(
			kv("Kind", getStr(run, "kind")),
			kv("Status", getStr(run, "status")),
			kv("Observed", fmt.Sprintf("%s / %s", formatNumber(getNum(run, "observed")), formatNumber(getNum(run, "expected")))),
			kv("Violations", formatNumber(getNum(run, "violations"))),
			kv("Observed TPS", fmt.Sprintf("%.0f", getNum(run, "observedTps"))),
			kv("Started", formatTime(getStr(run, "startedAt"))),
		)
	}

	return lines
}

// maxSampleLines caps the violation samples rendered in a run detail.
const maxSampleLines = 20

func formatRunDetail(raw json.RawMessage) string {
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}
	if getStr(run, "id") == "" {
		return "Run not found"
	}

	lines := joinLines(
		section("Run: "+getStr(run, "id")),
		kv("Kind", getStr(run, "kind")),
		kv("Status", getStr(run, "status")),
		kv("Started", formatTime(getStr(run, "startedAt"))),
		kv("Wait Until", getStr(run, "waitUntil")),
		kv("Severity", getStr(run, "severity")),
		kv("Interval", fmt.Sprintf("%sµs", formatNumber(getNum(run, "intervalUs")))),
		kv("Concurrency", formatNumber(getNum(run, "concurrency"))),
		kv("Expected", formatNumber(getNum(run, "expected"))),
		kv("Dispatched", formatNumber(getNum(run, "dispatched"))),
		kv("Observed", formatNumber(getNum(run, "observed"))),
		kv("Violations", formatNumber(getNum(run, "violations"))),
		kv("Elapsed", fmt.Sprintf("%.1fs", getNum(run, "elapsedMs")/1000)),
		kv("Observed TPS", fmt.Sprintf("%.0f", getNum(run, "observedTps"))),
	)
	if errMsg := getStr(run, "errorMessage"); errMsg != "" {
		lines += "\n" + kv("Error", errMsg)
	}

	if lat, ok := run["latency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency(lat)
	}

	if samples, ok := run["samples"].([]any); ok && len(samples) > 0 {
		lines += "\n\n" + section("Violation Samples")
		for i, s := range samples {
			if i >= maxSampleLines {
				lines += fmt.Sprintf("\n... and %d more", len(samples)-maxSampleLines)
				break
			}
			v, ok := s.(map[string]any)
			if !ok {
				continue
			}
			lines += fmt.Sprintf("\n  [%d] %s nonce=%d %s: %s",
				int64(getNum(v, "index")), getStr(v, "account"), int64(getNum(v, "nonce")),
				getStr(v, "kind"), getStr(v, "message"))
		}
	}

	return lines
}

func formatLatency(lat map[string]any) string {
	return joinLines(
		section("Submit Latency"),
		kv("Min", formatMs(getNum(lat, "min"))),
		kv("P50", formatMs(getNum(lat, "p50"))),
		kv("P95", formatMs(getNum(lat, "p95"))),
		kv("P99", formatMs(getNum(lat, "p99"))),
		kv("Max", formatMs(getNum(lat, "max"))),
	)
}

func progress(observed, expected float64) string {
	if expected <= 0 {
		return formatPct(0)
	}
	return formatPct(observed / expected * 100)
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}
