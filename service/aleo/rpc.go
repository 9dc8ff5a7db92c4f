package aleo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veilfi/veilfi/service/metrics"
)

// Client issues JSON-RPC calls against a single configured node endpoint and
// plain HTTP reads against a block-explorer endpoint. It is the only component
// that talks to the chain directly; everything above it works with parsed
// domain values.
type Client struct {
	endpoint    string // JSON-RPC endpoint URL
	explorerURL string // block-explorer base URL (latest height lookup)
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	label       string // endpoint identifier for metrics (host name)
}

// NewClient creates a new chain RPC client.
// If httpClient is nil a default with a 30s timeout is used.
// If m is nil, no metrics will be recorded.
func NewClient(endpoint, explorerURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	label := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		label = u.Host
	}
	return &Client{
		endpoint:    endpoint,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
		metrics:     m,
		label:       label,
	}
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rpcError is the JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// getMappingValueParams are the params for the getMappingValue method.
type getMappingValueParams struct {
	ProgramID   string `json:"program_id"`
	MappingName string `json:"mapping_name"`
	Key         string `json:"key"`
}

// GetMappingValue reads a single on-chain mapping entry. The returned value is
// the raw plaintext-encoded string; a missing entry ("result": null) yields an
// empty string and no error, since absent and zero are indistinguishable to
// most callers anyway.
func (c *Client) GetMappingValue(ctx context.Context, programID, mapping, key string) (string, error) {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		ID:      1,
		Method:  "getMappingValue",
		Params: getMappingValueParams{
			ProgramID:   programID,
			MappingName: mapping,
			Key:         key,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.DebugContext(ctx, "calling getMappingValue",
		"program_id", programID,
		"mapping", mapping,
		"key", key,
	)

	var lastErr error

	// Retry with exponential backoff. Public endpoints rate-limit
	// aggressively; 3 attempts keeps the worst case short.
	const maxAttempts = 3
	for attempt := range maxAttempts {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second // 1s, 2s
			c.logger.WarnContext(ctx, "retrying getMappingValue",
				"program_id", programID,
				"mapping", mapping,
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
				"error", lastErr,
			)
			if c.metrics != nil {
				reason := "error"
				if lastErr != nil && strings.Contains(lastErr.Error(), "429") {
					reason = "rate_limit"
				}
				c.metrics.RecordRPCRetry("getMappingValue", reason)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		value, err := c.doMappingCall(ctx, body)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}

	return "", lastErr
}

// doMappingCall performs one getMappingValue round trip.
func (c *Client) doMappingCall(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getMappingValue", status, c.label, duration)
	}
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope struct {
		Result *string   `json:"result"`
		Error  *rpcError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if envelope.Result == nil {
		// No entry under this key.
		return "", nil
	}
	return *envelope.Result, nil
}

// LatestHeight fetches the latest block height from the explorer endpoint.
// Unlike mapping reads, height lookups propagate errors: transaction builders
// cannot proceed without a fresh height, so the caller must see the failure.
func (c *Client) LatestHeight(ctx context.Context) (uint32, error) {
	u := c.explorerURL + "/latest/height"
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("latestHeight", status, c.label, duration)
	}
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	height, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid height %q: %w", strings.TrimSpace(string(raw)), err)
	}

	c.logger.DebugContext(ctx, "fetched latest height", "height", height)
	return uint32(height), nil
}
