package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/metrics"
)

// HTTPBridge is an Adapter backed by a wallet bridge service over HTTP. The
// bridge is the process that actually holds keys and builds proofs; this
// client only speaks its small JSON API:
//
//	GET  /public-key            -> {"public_key": "aleo1..."}
//	POST /records               -> {"records": [...]}, body {"program_id": "..."}
//	POST /transactions          -> {"transaction_id": "at1..."}, body = transaction
//
// Rejections surface as {"error": "...", "code": "..."} bodies; code is
// optional and, when present, feeds structured classification.
type HTTPBridge struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHTTPBridge creates a wallet bridge client.
// Proof generation is slow, so the default client timeout is generous.
func NewHTTPBridge(baseURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *HTTPBridge {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &HTTPBridge{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// bridgeError is a rejection from the bridge. It carries the optional
// structured code so Classify can avoid substring matching.
type bridgeError struct {
	Message string
	Code    string
}

func (e *bridgeError) Error() string { return e.Message }

// RejectionCode implements Coder.
func (e *bridgeError) RejectionCode() string { return e.Code }

// PublicKey returns the bridge's connected account address.
func (b *HTTPBridge) PublicKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+"/public-key", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	var resp struct {
		PublicKey string `json:"public_key"`
	}
	if err := b.do(ctx, "publicKey", req, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// RequestRecords lists the wallet's records for a program.
func (b *HTTPBridge) RequestRecords(ctx context.Context, programID string) ([]aleo.Record, error) {
	body, err := json.Marshal(map[string]string{"program_id": programID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/records", b.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Records []aleo.Record `json:"records"`
	}
	if err := b.do(ctx, "requestRecords", req, &resp); err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "fetched wallet records",
		"program_id", programID,
		"count", len(resp.Records),
	)
	return resp.Records, nil
}

// RequestTransaction submits a transaction through the bridge.
func (b *HTTPBridge) RequestTransaction(ctx context.Context, tx aleo.Transaction) (string, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := b.do(ctx, "requestTransaction", req, &resp); err != nil {
		return "", err
	}

	b.logger.InfoContext(ctx, "transaction accepted by wallet",
		"transaction_id", resp.TransactionID,
	)
	return resp.TransactionID, nil
}

// do executes a bridge request, records metrics, and decodes the response
// into out.
func (b *HTTPBridge) do(ctx context.Context, call string, req *http.Request, out any) error {
	start := time.Now()
	resp, err := b.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if b.metrics != nil {
		defer func() { b.metrics.RecordWalletCall(call, status, duration) }()
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status = "rejected"
		return parseBridgeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		status = "error"
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseBridgeError attempts to parse a rejection body from the bridge.
func parseBridgeError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &bridgeError{
			Message: fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body)),
		}
	}
	return &bridgeError{Message: errResp.Error, Code: errResp.Code}
}
