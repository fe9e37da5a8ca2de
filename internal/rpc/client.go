// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Client is the interface for JSON-RPC communication with a node.
type Client interface {
	// Call makes a JSON-RPC call with named params.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// SendTransaction submits a base64 signed transaction and waits until the node
	// reports the requested completion level (or its own timeout).
	SendTransaction(ctx context.Context, signedTxBase64 string, waitUntil TxExecutionStatus) (*TxResponse, error)

	// ViewAccessKey returns the access key of an account, including its current nonce.
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKeyView, error)

	// GetBlock fetches a block header.
	GetBlock(ctx context.Context, ref BlockReference) (*BlockView, error)
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// JSONRPCError represents a JSON-RPC error. Nodes add a structured cause.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Cause   *struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info,omitempty"`
	} `json:"cause,omitempty"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConns       int
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
// send_tx blocks server side until the requested level is reached, so the
// timeout is sized for FINAL on a slow network rather than for a plain call.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        60 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxConns:       2000,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	nextID     atomic.Uint64
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 2000
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns * 2,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns, // must cover gate capacity
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   false,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic.
// Resubmitting a signed transaction is safe: the node deduplicates by hash.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Application-level errors are final.
		if isRPCError(err) || isPermanentHTTPError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		rerr := &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Name:    rpcResp.Error.Name,
			Data:    rpcResp.Error.Data,
		}
		if rpcResp.Error.Cause != nil {
			rerr.Cause = rpcResp.Error.Cause.Name
		}
		return nil, rerr
	}

	return rpcResp.Result, nil
}

// SendTransaction submits a signed transaction through send_tx.
func (c *HTTPClient) SendTransaction(ctx context.Context, signedTxBase64 string, waitUntil TxExecutionStatus) (*TxResponse, error) {
	params := map[string]any{
		"signed_tx_base64": signedTxBase64,
		"wait_until":       waitUntil,
	}
	result, err := c.Call(ctx, "send_tx", params)
	if err != nil {
		return nil, err
	}
	var resp TxResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal send_tx result: %w", err)
	}
	return &resp, nil
}

// ViewAccessKey queries an access key at final finality.
func (c *HTTPClient) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKeyView, error) {
	params := map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}
	result, err := c.Call(ctx, "query", params)
	if err != nil {
		return nil, err
	}

	// Some nodes report query failures in the result instead of the error field.
	var qerr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(result, &qerr); err == nil && qerr.Error != "" {
		return nil, &RPCError{Code: -32000, Message: qerr.Error}
	}

	var view AccessKeyView
	if err := json.Unmarshal(result, &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access key: %w", err)
	}
	return &view, nil
}

// GetBlock fetches a block header.
func (c *HTTPClient) GetBlock(ctx context.Context, ref BlockReference) (*BlockView, error) {
	result, err := c.Call(ctx, "block", ref)
	if err != nil {
		return nil, err
	}
	var block BlockView
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	if block.Header.Hash == "" {
		return nil, errors.New("block response has no hash")
	}
	return &block, nil
}
