// Package client is the HTTP client for the veilfi dashboard gateway. It
// mirrors the gateway's REST surface and consumes its SSE operation stream.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Balance is one token's public and private balance row.
type Balance struct {
	TokenID        string `json:"token_id"`
	Symbol         string `json:"symbol"`
	Public         uint64 `json:"public"`
	Private        uint64 `json:"private"`
	PublicDisplay  string `json:"public_display"`
	PrivateDisplay string `json:"private_display"`
}

// Balances is the gateway's balances view for one address.
type Balances struct {
	Address  string    `json:"address"`
	Balances []Balance `json:"balances"`
	Pending  int       `json:"pending"`
}

// Receipt is an active lend position backed by a private record.
type Receipt struct {
	RecordID    string `json:"record_id"`
	Amount      uint64 `json:"amount"`
	TokenID     string `json:"token_id"`
	StartHeight uint32 `json:"start_height"`
	Rate        uint64 `json:"rate"`
}

// Loan is the public mapping entry for one loan.
type Loan struct {
	ID                uint64 `json:"id"`
	BorrowedAmount    uint64 `json:"borrowed_amount"`
	CollateralAmount  uint64 `json:"collateral_amount"`
	BorrowedTokenID   string `json:"borrowed_token_id"`
	CollateralTokenID string `json:"collateral_token_id"`
	StartHeight       uint32 `json:"start_height"`
	Rate              uint64 `json:"rate"`
	Active            bool   `json:"active"`
}

// Positions is the gateway's positions view for one address.
type Positions struct {
	Address          string    `json:"address"`
	Receipts         []Receipt `json:"receipts"`
	ActiveLendsTotal uint64    `json:"active_lends_total"`
	Loans            []Loan    `json:"loans"`
}

// Market is the pool's global state.
type Market struct {
	SuppliedTotal     uint64 `json:"supplied_total"`
	BorrowedTotal     uint64 `json:"borrowed_total"`
	AvailableToBorrow uint64 `json:"available_to_borrow"`
	NextLoanID        uint64 `json:"next_loan_id"`
	Height            uint32 `json:"height"`
}

// OperationRequest is the submission body. Amounts are display strings in
// token units ("1234.5678").
type OperationRequest struct {
	Kind             string `json:"kind"`
	Token            string `json:"token,omitempty"`
	Amount           string `json:"amount,omitempty"`
	CollateralToken  string `json:"collateral_token,omitempty"`
	CollateralAmount string `json:"collateral_amount,omitempty"`
	LoanID           uint64 `json:"loan_id,omitempty"`
	ReceiptRecordID  string `json:"receipt_record_id,omitempty"`
}

// Operation is a pending operation tracked by the gateway's reconciliation
// engine.
type Operation struct {
	ID                string `json:"id"`
	Kind              string `json:"kind"`
	Address           string `json:"address"`
	TokenID           string `json:"token_id,omitempty"`
	Amount            uint64 `json:"amount"`
	AmountDisplay     string `json:"amount_display,omitempty"`
	CollateralTokenID string `json:"collateral_token_id,omitempty"`
	CollateralAmount  uint64 `json:"collateral_amount,omitempty"`
	LoanID            uint64 `json:"loan_id,omitempty"`
	ReceiptRecordID   string `json:"receipt_record_id,omitempty"`
	TransactionID     string `json:"transaction_id"`
	State             string `json:"state"`
	SubmittedAt       string `json:"submitted_at"`
}

// OperationEvent is one SSE frame from the operation stream.
type OperationEvent struct {
	OperationID       string    `json:"operation_id"`
	TransactionID     string    `json:"transaction_id"`
	Address           string    `json:"address"`
	Kind              string    `json:"kind"`
	TokenID           string    `json:"token_id,omitempty"`
	Amount            uint64    `json:"amount"`
	CollateralTokenID string    `json:"collateral_token_id,omitempty"`
	CollateralAmount  uint64    `json:"collateral_amount,omitempty"`
	State             string    `json:"state"`
	Reason            string    `json:"reason,omitempty"`
	SubmittedAt       time.Time `json:"submitted_at"`
	PublishedAt       time.Time `json:"published_at"`
}

// Client is the HTTP client for the veilfi gateway service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Balances retrieves the ledger view for an address. With refresh the gateway
// resyncs from authoritative reads first.
func (c *Client) Balances(ctx context.Context, address string, refresh bool) (*Balances, error) {
	u := fmt.Sprintf("%s/api/v1/balances/%s", c.baseURL, url.PathEscape(address))
	if refresh {
		u += "?refresh=true"
	}

	var out Balances
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Positions retrieves the active lend receipts and loans for an address.
func (c *Client) Positions(ctx context.Context, address string) (*Positions, error) {
	u := fmt.Sprintf("%s/api/v1/positions/%s", c.baseURL, url.PathEscape(address))

	var out Positions
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Market retrieves the pool's global totals and block height.
func (c *Client) Market(ctx context.Context) (*Market, error) {
	var out Market
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/market", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Loan retrieves the public mapping entry for a loan id.
func (c *Client) Loan(ctx context.Context, id uint64) (*Loan, error) {
	var out Loan
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/loans/%d", c.baseURL, id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitOperation submits an operation for signing, broadcast, and
// reconciliation tracking.
func (c *Client) SubmitOperation(ctx context.Context, opReq OperationRequest) (*Operation, error) {
	body, err := json.Marshal(opReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/operations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var op Operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("operation submitted", "operation_id", op.ID, "kind", op.Kind)
	return &op, nil
}

// ListOperations retrieves all pending operations in submission order.
func (c *Client) ListOperations(ctx context.Context) ([]Operation, error) {
	var out struct {
		Operations []Operation `json:"operations"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/operations", &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// GetOperation retrieves one pending operation by id.
func (c *Client) GetOperation(ctx context.Context, id string) (*Operation, error) {
	u := fmt.Sprintf("%s/api/v1/operations/%s", c.baseURL, url.PathEscape(id))

	var op Operation
	if err := c.getJSON(ctx, u, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// CancelOperation tears down an operation's confirmation polling.
func (c *Client) CancelOperation(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/api/v1/operations/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("operation cancelled", "operation_id", id)
	return nil
}

// Health checks the gateway's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// errStopStreaming signals a clean handler-initiated stop inside
// StreamOperations.
var errStopStreaming = fmt.Errorf("stop streaming")

// StreamOperations consumes the SSE operation stream, invoking handler for
// each operation event. Blocks until the context is cancelled, the stream
// closes, or the handler returns an error. Pass an empty address to stream
// every address.
func (c *Client) StreamOperations(ctx context.Context, address string, handler func(*OperationEvent) error) error {
	u := c.baseURL + "/api/v1/stream/operations"
	if address != "" {
		u += "/" + url.PathEscape(address)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The default client timeout would kill a long-lived stream.
	streamClient := &http.Client{Timeout: 0, Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line terminates one SSE frame.
		if line == "" {
			if currentEvent == "operation" && currentData != "" {
				var event OperationEvent
				if err := json.Unmarshal([]byte(currentData), &event); err != nil {
					c.logger.Warn("failed to unmarshal operation event", "error", err)
				} else if err := handler(&event); err != nil {
					if err == errStopStreaming {
						return nil
					}
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

// Await blocks until an operation event matching the predicate arrives on the
// address's stream, or the context expires.
func (c *Client) Await(ctx context.Context, address string, match func(*OperationEvent) bool) (*OperationEvent, error) {
	var found *OperationEvent
	err := c.StreamOperations(ctx, address, func(event *OperationEvent) error {
		if match(event) {
			found = event
			return errStopStreaming
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("stream closed before a matching event arrived")
	}
	return found, nil
}

// getJSON performs a GET and decodes a JSON body.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
