package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/lending"
	"github.com/veilfi/veilfi/service/reconcile"
	"github.com/veilfi/veilfi/service/wallet"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for operation submission
	maxAddressLength   = 100
)

var (
	// Aleo addresses are bech32m with an aleo1 prefix; keep the check loose
	// enough for test fixtures but reject obvious garbage.
	validAddressRegex = regexp.MustCompile(`^aleo1[0-9a-z]+$`)
)

// operationRequest is the POST /api/v1/operations body. Amounts are display
// strings in token units ("1234.5678"); the gateway converts to raw smallest
// units.
type operationRequest struct {
	Kind             string `json:"kind"`
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	CollateralToken  string `json:"collateral_token"`
	CollateralAmount string `json:"collateral_amount"`
	LoanID           uint64 `json:"loan_id"`
	ReceiptRecordID  string `json:"receipt_record_id"`
}

// operationResponse is the wire form of a pending operation.
type operationResponse struct {
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

func operationToResponse(op *reconcile.PendingOperation) operationResponse {
	resp := operationResponse{
		ID:                op.ID,
		Kind:              string(op.Kind),
		Address:           op.Address,
		TokenID:           string(op.TokenID),
		Amount:            op.Amount,
		CollateralTokenID: string(op.CollateralTokenID),
		CollateralAmount:  op.CollateralAmount,
		LoanID:            op.LoanID,
		ReceiptRecordID:   op.ReceiptRecordID,
		TransactionID:     op.TransactionID,
		State:             string(op.State),
		SubmittedAt:       op.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if token, ok := lending.TokenByID(op.TokenID); ok {
		resp.AmountDisplay = lending.FormatAmount(op.Amount, token.Decimals)
	}
	return resp
}

// balanceEntry is one token's row in the balances response.
type balanceEntry struct {
	TokenID        string `json:"token_id"`
	Symbol         string `json:"symbol"`
	Public         uint64 `json:"public"`
	Private        uint64 `json:"private"`
	PublicDisplay  string `json:"public_display"`
	PrivateDisplay string `json:"private_display"`
}

// handleGetBalances returns the engine's ledger view for an address: public
// and private balances per registered token, with optimistic mutations from
// pending operations already applied.
// GET /api/v1/balances/{address}?refresh=true forces a fresh authoritative
// resync first.
func handleGetBalances(engine *reconcile.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("refresh") == "true" {
			if err := engine.Resync(r.Context(), address); err != nil {
				logger.Error("failed to resync ledger", "address", address, "error", err)
				writeError(w, "failed to refresh balances", http.StatusBadGateway)
				return
			}
		}

		public, private := engine.Ledger().Snapshot()
		entries := make([]balanceEntry, 0, len(lending.Tokens()))
		for _, token := range lending.Tokens() {
			entries = append(entries, balanceEntry{
				TokenID:        string(token.ID),
				Symbol:         token.Symbol,
				Public:         public[token.ID],
				Private:        private[token.ID],
				PublicDisplay:  lending.FormatAmount(public[token.ID], token.Decimals),
				PrivateDisplay: lending.FormatAmount(private[token.ID], token.Decimals),
			})
		}

		writeJSON(w, map[string]interface{}{
			"address":  address,
			"balances": entries,
			"pending":  len(engine.Pending()),
		}, http.StatusOK)
	})
}

// handleGetPositions returns the wallet's active lend receipts and loans.
// GET /api/v1/positions/{address}
func handleGetPositions(w wallet.Adapter, readers *lending.Readers, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(rw, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := w.RequestRecords(r.Context(), lending.LendProgramID)
		if err != nil {
			logger.Error("failed to list lend records", "address", address, "error", err)
			writeError(rw, "failed to fetch wallet records", http.StatusBadGateway)
			return
		}

		receipts := lending.ActiveReceipts(records)
		var activeLendsTotal uint64
		for _, receipt := range receipts {
			activeLendsTotal += receipt.Amount
		}

		loans := make([]*lending.LoanDetail, 0)
		for _, id := range lending.LoanIDs(records) {
			if detail, ok := readers.Loan(r.Context(), id); ok {
				loans = append(loans, detail)
			}
		}

		logger.Debug("positions retrieved", "address", address, "receipts", len(receipts), "loans", len(loans))
		writeJSON(rw, map[string]interface{}{
			"address":            address,
			"receipts":           receipts,
			"active_lends_total": activeLendsTotal,
			"loans":              loans,
		}, http.StatusOK)
	})
}

// handleGetMarket returns the pool's global totals and current block height.
// Totals come through the engine so pending borrows show up in the displayed
// borrowed total and remaining capacity.
// GET /api/v1/market
func handleGetMarket(engine *reconcile.Engine, readers *lending.Readers, chain lending.ChainReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied, borrowed := engine.MarketTotals(r.Context())
		available := lending.AvailableToBorrow(supplied, borrowed)
		nextLoanID := readers.NextLoanID(r.Context())

		var height uint32
		if h, err := chain.LatestHeight(r.Context()); err == nil {
			height = h
		} else {
			logger.Warn("failed to read block height", "error", err)
		}

		writeJSON(w, map[string]interface{}{
			"supplied_total":      supplied,
			"borrowed_total":      borrowed,
			"available_to_borrow": available,
			"next_loan_id":        nextLoanID,
			"height":              height,
		}, http.StatusOK)
	})
}

// handleGetLoan returns the public mapping entry for a loan id.
// GET /api/v1/loans/{id}
func handleGetLoan(readers *lending.Readers, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid loan id", http.StatusBadRequest)
			return
		}

		detail, ok := readers.Loan(r.Context(), id)
		if !ok {
			writeError(w, "loan not found", http.StatusNotFound)
			return
		}

		writeJSON(w, detail, http.StatusOK)
	})
}

// handleSubmitOperation validates an operation request, assembles its
// transaction, and hands it to the reconciliation engine.
// POST /api/v1/operations
func handleSubmitOperation(engine *reconcile.Engine, builder *lending.Builder, w wallet.Adapter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(rw, r.Body, maxRequestBodySize)

		var req operationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(rw, "invalid request body", http.StatusBadRequest)
			return
		}

		kind, err := reconcile.ParseKind(req.Kind)
		if err != nil {
			writeError(rw, err.Error(), http.StatusBadRequest)
			return
		}

		address, err := w.PublicKey(r.Context())
		if err != nil {
			logger.Error("failed to read wallet public key", "error", err)
			writeError(rw, "wallet unavailable", http.StatusBadGateway)
			return
		}
		if address == "" {
			writeError(rw, "no wallet connected", http.StatusConflict)
			return
		}

		intent, err := buildIntent(r, kind, address, req, builder, w)
		if err != nil {
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				writeError(rw, reqErr.message, reqErr.status)
				return
			}
			logger.Error("failed to build operation", "kind", kind, "error", err)
			writeError(rw, "failed to build transaction", http.StatusBadGateway)
			return
		}

		op, err := engine.Submit(r.Context(), intent)
		if err != nil {
			writeSubmitError(rw, logger, kind, err)
			return
		}

		logger.Info("operation accepted", "operation_id", op.ID, "kind", kind, "address", address)
		writeJSON(rw, operationToResponse(op), http.StatusAccepted)
	})
}

// buildIntent resolves the request's token amounts and records and assembles
// the per-kind transaction.
func buildIntent(r *http.Request, kind reconcile.Kind, address string, req operationRequest, builder *lending.Builder, w wallet.Adapter) (reconcile.Intent, error) {
	ctx := r.Context()
	intent := reconcile.Intent{Kind: kind, Address: address, LoanID: req.LoanID, ReceiptRecordID: req.ReceiptRecordID}

	switch kind {
	case reconcile.KindLend:
		token, amount, err := resolveAmount(req.Token, req.Amount)
		if err != nil {
			return intent, err
		}
		records, err := w.RequestRecords(ctx, lending.TokenProgramID)
		if err != nil {
			return intent, err
		}
		rec, ok := lending.SelectTokenRecord(records, token.ID, amount)
		if !ok {
			return intent, badRequest("no private %s record covers %s", token.Symbol, req.Amount)
		}
		tx, err := builder.Lend(ctx, address, rec, amount)
		if err != nil {
			return intent, err
		}
		intent.TokenID, intent.Amount, intent.Transaction = token.ID, amount, tx

	case reconcile.KindRedeem:
		if req.ReceiptRecordID == "" {
			return intent, badRequest("receipt_record_id is required")
		}
		records, err := w.RequestRecords(ctx, lending.LendProgramID)
		if err != nil {
			return intent, err
		}
		receipt, ok := findRecord(records, lending.ReceiptRecordName, req.ReceiptRecordID)
		if !ok {
			return intent, &requestError{http.StatusNotFound, "receipt record not found"}
		}
		amount, _ := receipt.DataUint("amount")
		tokenID, _ := receipt.DataFieldID("token_id")
		tx, err := builder.Redeem(ctx, address, receipt)
		if err != nil {
			return intent, err
		}
		intent.TokenID, intent.Amount, intent.Transaction = lending.TokenID(tokenID), amount, tx

	case reconcile.KindBorrow:
		token, amount, err := resolveAmount(req.Token, req.Amount)
		if err != nil {
			return intent, err
		}
		collateralToken, collateral, err := resolveAmount(req.CollateralToken, req.CollateralAmount)
		if err != nil {
			return intent, err
		}
		records, err := w.RequestRecords(ctx, lending.TokenProgramID)
		if err != nil {
			return intent, err
		}
		rec, ok := lending.SelectTokenRecord(records, collateralToken.ID, collateral)
		if !ok {
			return intent, badRequest("no private %s record covers collateral %s", collateralToken.Symbol, req.CollateralAmount)
		}
		tx, err := builder.Borrow(ctx, address, rec, amount)
		if err != nil {
			return intent, err
		}
		intent.TokenID, intent.Amount = token.ID, amount
		intent.CollateralTokenID, intent.CollateralAmount = collateralToken.ID, collateral
		intent.Transaction = tx

	case reconcile.KindRepay:
		token, amount, err := resolveAmount(req.Token, req.Amount)
		if err != nil {
			return intent, err
		}
		lendRecords, err := w.RequestRecords(ctx, lending.LendProgramID)
		if err != nil {
			return intent, err
		}
		loanRec, ok := findLoanRecord(lendRecords, req.LoanID)
		if !ok {
			return intent, &requestError{http.StatusNotFound, "loan record not found"}
		}
		tokenRecords, err := w.RequestRecords(ctx, lending.TokenProgramID)
		if err != nil {
			return intent, err
		}
		payment, ok := lending.SelectTokenRecord(tokenRecords, token.ID, amount)
		if !ok {
			return intent, badRequest("no private %s record covers repayment %s", token.Symbol, req.Amount)
		}
		tx, err := builder.Repay(ctx, address, loanRec, payment)
		if err != nil {
			return intent, err
		}
		intent.TokenID, intent.Amount = token.ID, amount
		intent.CollateralTokenID = lending.TokenID(firstFieldID(loanRec, "collateral_token_id"))
		intent.CollateralAmount, _ = loanRec.DataUint("collateral_amount")
		intent.Transaction = tx

	case reconcile.KindTransfer:
		token, amount, err := resolveAmount(req.Token, req.Amount)
		if err != nil {
			return intent, err
		}
		intent.TokenID, intent.Amount = token.ID, amount
		intent.Transaction = builder.TransferPublicToPrivate(address, token, amount)

	case reconcile.KindWrap, reconcile.KindUnwrap:
		source := lending.ALEO
		if kind == reconcile.KindUnwrap {
			source = lending.WAL
		}
		_, amount, err := resolveAmount(source.Symbol, req.Amount)
		if err != nil {
			return intent, err
		}
		records, err := w.RequestRecords(ctx, lending.TokenProgramID)
		if err != nil {
			return intent, err
		}
		rec, ok := lending.SelectTokenRecord(records, source.ID, amount)
		if !ok {
			return intent, badRequest("no private %s record covers %s", source.Symbol, req.Amount)
		}
		intent.TokenID, intent.Amount = source.ID, amount
		if kind == reconcile.KindWrap {
			intent.Transaction = builder.Wrap(address, rec, amount)
		} else {
			intent.Transaction = builder.Unwrap(address, rec, amount)
		}
	}

	return intent, nil
}

// handleListOperations returns all pending operations in submission order.
// GET /api/v1/operations
func handleListOperations(engine *reconcile.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pending := engine.Pending()
		resp := make([]operationResponse, len(pending))
		for i, op := range pending {
			resp[i] = operationToResponse(op)
		}
		logger.Debug("operations listed", "count", len(resp))
		writeJSON(w, map[string]interface{}{"operations": resp}, http.StatusOK)
	})
}

// handleGetOperation returns one pending operation by id.
// GET /api/v1/operations/{id}
func handleGetOperation(engine *reconcile.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, ok := engine.Operation(r.PathValue("id"))
		if !ok {
			writeError(w, "operation not found", http.StatusNotFound)
			return
		}
		writeJSON(w, operationToResponse(op), http.StatusOK)
	})
}

// handleCancelOperation tears down an operation's polling without touching
// the ledger.
// DELETE /api/v1/operations/{id}
func handleCancelOperation(engine *reconcile.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !engine.Cancel(id) {
			writeError(w, "operation not found", http.StatusNotFound)
			return
		}
		logger.Info("operation cancelled", "operation_id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// writeSubmitError maps an engine submission failure to a response. Wallet
// rejections carry the short user-facing message from the classification.
func writeSubmitError(w http.ResponseWriter, logger *slog.Logger, kind reconcile.Kind, err error) {
	if errors.Is(err, reconcile.ErrEngineClosed) {
		writeError(w, "service shutting down", http.StatusServiceUnavailable)
		return
	}
	if errors.Is(err, reconcile.ErrWalletRejected) {
		category := wallet.Classify(err)
		status := http.StatusBadGateway
		switch category {
		case wallet.RejectionUserCancelled:
			status = http.StatusConflict
		case wallet.RejectionInsufficientFunds:
			status = http.StatusBadRequest
		}
		logger.Info("wallet rejected operation", "kind", kind, "category", category, "error", err)
		writeError(w, wallet.UserMessage(category), status)
		return
	}
	logger.Error("failed to submit operation", "kind", kind, "error", err)
	writeError(w, err.Error(), http.StatusBadRequest)
}

// requestError is a handler-level validation failure with its HTTP status.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...interface{}) *requestError {
	return &requestError{http.StatusBadRequest, fmt.Sprintf(format, args...)}
}

// resolveAmount looks up a token by symbol and parses a display amount into
// raw smallest units.
func resolveAmount(symbol, amount string) (lending.TokenInfo, uint64, error) {
	token, ok := lending.TokenBySymbol(symbol)
	if !ok {
		return lending.TokenInfo{}, 0, badRequest("unknown token %q", symbol)
	}
	raw, err := lending.ParseAmount(amount, token.Decimals)
	if err != nil {
		return lending.TokenInfo{}, 0, badRequest("invalid amount: %v", err)
	}
	if raw == 0 {
		return lending.TokenInfo{}, 0, badRequest("amount must be greater than zero")
	}
	return token, raw, nil
}

// findRecord locates an unspent record by name and id.
func findRecord(records []aleo.Record, recordName, id string) (aleo.Record, bool) {
	for _, rec := range records {
		if !rec.Spent && rec.RecordName == recordName && rec.ID == id {
			return rec, true
		}
	}
	return aleo.Record{}, false
}

// findLoanRecord locates the unspent loan record carrying the given loan id.
func findLoanRecord(records []aleo.Record, loanID uint64) (aleo.Record, bool) {
	for _, rec := range records {
		if rec.Spent || rec.RecordName != lending.LoanRecordName {
			continue
		}
		if id, ok := rec.DataUint("loan_id"); ok && id == loanID {
			return rec, true
		}
	}
	return aleo.Record{}, false
}

func firstFieldID(rec aleo.Record, key string) string {
	v, _ := rec.DataFieldID(key)
	return v
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address for format and length.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long")
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format")
	}
	return nil
}
