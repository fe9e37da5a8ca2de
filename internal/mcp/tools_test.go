package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(float64(999)))
	assert.Equal(t, "1,000", formatNumber(float64(1000)))
	assert.Equal(t, "12,345,678", formatNumber(int64(12345678)))
	assert.Equal(t, "2.5", formatNumber(2.5))
	assert.Equal(t, "-1,234", formatNumber(-1234))
	assert.Equal(t, "100,000", formatNumber(100000))
}

func TestFormatStatus_Running(t *testing.T) {
	raw := json.RawMessage(`{
		"runId": "run-1", "kind": "benchmark-native-transfers", "status": "running",
		"waitUntil": "EXECUTED_OPTIMISTIC", "severity": "assert",
		"expected": 2000, "dispatched": 1500, "observed": 1000, "inFlight": 500, "capacity": 1000,
		"violations": 0, "elapsedMs": 2500, "observedTps": 400, "targetTps": 1000,
		"latency": {"min": 1, "p50": 20, "p95": 80, "p99": 120, "max": 300}
	}`)
	out := formatStatus(raw)

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "500 / 1,000")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "2.5s")
	assert.Contains(t, out, "Target TPS:")
	assert.Contains(t, out, "Submit Latency")
	assert.Contains(t, out, "120.0ms")
}

func TestFormatStatus_Idle(t *testing.T) {
	out := formatStatus(json.RawMessage(`{"status": "idle", "capacity": 1000}`))
	assert.Contains(t, out, "idle")
	assert.NotContains(t, out, "Dispatched")
}

func TestFormatStatus_BadJSON(t *testing.T) {
	assert.Contains(t, formatStatus(json.RawMessage(`{`)), "Error parsing status")
}

func TestFormatHealth(t *testing.T) {
	out := formatHealth(json.RawMessage(`{"ready": false, "checks": [{"name": "rpc", "status": "failed", "latency_ms": 12, "error": "refused"}]}`))
	assert.Contains(t, out, "NOT READY")
	assert.Contains(t, out, "rpc")
	assert.Contains(t, out, "refused")
}

func TestFormatRuns(t *testing.T) {
	out := formatRuns(json.RawMessage(`{"total": 1, "runs": [
		{"id": "run-a", "kind": "create-sub-accounts", "status": "completed", "observed": 10, "expected": 10,
		 "startedAt": "2026-03-01T10:00:00Z"}
	]}`))
	assert.Contains(t, out, "### run-a")
	assert.Contains(t, out, "10 / 10")
	assert.Contains(t, out, "2026-03-01 10:00:00")

	assert.Contains(t, formatRuns(json.RawMessage(`{"total": 0, "runs": []}`)), "No runs found.")
}

func TestFormatRunDetail(t *testing.T) {
	samples := make([]map[string]any, 25)
	for i := range samples {
		samples[i] = map[string]any{"index": i, "account": "a.test", "nonce": 100 + i, "kind": "level_shortfall", "message": "observed INCLUDED"}
	}
	body, err := json.Marshal(map[string]any{
		"id": "run-b", "status": "failed", "errorMessage": "transport error", "samples": samples,
	})
	require.NoError(t, err)

	out := formatRunDetail(body)
	assert.Contains(t, out, "Run: run-b")
	assert.Contains(t, out, "transport error")
	assert.Contains(t, out, "nonce=100")
	assert.Contains(t, out, "... and 5 more")

	assert.Equal(t, "Run not found", formatRunDetail(json.RawMessage(`{}`)))
}

func TestClient(t *testing.T) {
	var deleted string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/status":
			w.Write([]byte(`{"status":"idle"}`))
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			w.Write([]byte(`{"deleted":true}`))
		default:
			http.Error(w, `{"error":"Run not found"}`, http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL)

	raw, err := c.Get("/v1/status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"idle"}`, string(raw))

	_, err = c.Get("/v1/runs/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	_, err = c.Delete("/v1/runs/run-a")
	require.NoError(t, err)
	assert.Equal(t, "/v1/runs/run-a", deleted)
}
