package lending

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/metrics"
)

// ChainReader is the subset of the RPC client the domain readers need.
// This allows the RPC layer to be mocked in tests without a live node.
type ChainReader interface {
	GetMappingValue(ctx context.Context, programID, mapping, key string) (string, error)
	LatestHeight(ctx context.Context) (uint32, error)
}

// Readers fetch and parse on-chain mapping values into typed domain values.
// Every reader fails closed: on RPC or parse failure it logs, records a
// fallback metric, and returns a zero value. Callers cannot distinguish
// "zero returned" from "zero is the true value"; anything that needs the
// distinction must go through the error-propagating paths on Builder.
type Readers struct {
	chain   ChainReader
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewReaders creates domain readers on top of a chain reader.
// If m is nil, no metrics will be recorded.
func NewReaders(chain ChainReader, m *metrics.Metrics, logger *slog.Logger) *Readers {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Readers{chain: chain, logger: logger, metrics: m}
}

// BalanceKey builds the public balances mapping key for an account and token.
func BalanceKey(address string, token TokenInfo) string {
	return fmt.Sprintf("{account: %s, token_id: %s}", address, token.ID)
}

// PublicBalance reads an account's public balance for a token. Returns zero
// when the mapping has no entry or the read fails.
func (r *Readers) PublicBalance(ctx context.Context, address string, token TokenInfo) uint64 {
	value, err := r.chain.GetMappingValue(ctx, token.ProgramID, BalancesMapping, BalanceKey(address, token))
	if err != nil {
		r.fallback(ctx, "public_balance", "rpc", err)
		return 0
	}
	if value == "" {
		return 0
	}
	amount, ok := aleo.Uint(value)
	if !ok {
		r.fallback(ctx, "public_balance", "parse", fmt.Errorf("malformed balance %q", value))
		return 0
	}
	return amount
}

// LendingTotals reads the pool's supplied and borrowed totals. Either value
// falls back to zero independently on failure.
func (r *Readers) LendingTotals(ctx context.Context) (supplied, borrowed uint64) {
	supplied = r.singletonUint(ctx, SuppliedTotalMapping, "supplied_total")
	borrowed = r.singletonUint(ctx, BorrowedTotalMapping, "borrowed_total")
	return supplied, borrowed
}

// NextLoanID reads the pool's loan id counter.
func (r *Readers) NextLoanID(ctx context.Context) uint64 {
	return r.singletonUint(ctx, NextLoanIDMapping, "next_loan_id")
}

// AvailableToBorrow computes remaining borrow capacity from pool totals.
func AvailableToBorrow(supplied, borrowed uint64) uint64 {
	if borrowed >= supplied {
		return 0
	}
	return supplied - borrowed
}

// LoanDetail is a public loan mapping entry.
type LoanDetail struct {
	ID                uint64  `json:"id"`
	BorrowedAmount    uint64  `json:"borrowed_amount"`
	CollateralAmount  uint64  `json:"collateral_amount"`
	BorrowedTokenID   TokenID `json:"borrowed_token_id"`
	CollateralTokenID TokenID `json:"collateral_token_id"`
	StartHeight       uint32  `json:"start_height"`
	Rate              uint64  `json:"rate"`
	Active            bool    `json:"active"`
}

// Loan reads the public mapping entry for a loan id. The second return is
// false when the entry is absent or unreadable.
func (r *Readers) Loan(ctx context.Context, id uint64) (*LoanDetail, bool) {
	value, err := r.chain.GetMappingValue(ctx, LendProgramID, LoansMapping, aleo.EncodeU64(id))
	if err != nil {
		r.fallback(ctx, "loan", "rpc", err)
		return nil, false
	}
	if value == "" {
		return nil, false
	}

	detail := &LoanDetail{ID: id}
	var ok bool
	if detail.BorrowedAmount, ok = aleo.StructUint(value, "borrowed_amount"); !ok {
		r.fallback(ctx, "loan", "parse", fmt.Errorf("malformed loan entry %q", value))
		return nil, false
	}
	detail.CollateralAmount, _ = aleo.StructUint(value, "collateral_amount")
	if raw, found := aleo.StructFieldID(value, "borrowed_token_id"); found {
		detail.BorrowedTokenID = TokenID(raw)
	}
	if raw, found := aleo.StructFieldID(value, "collateral_token_id"); found {
		detail.CollateralTokenID = TokenID(raw)
	}
	if h, found := aleo.StructUint(value, "start_height"); found {
		detail.StartHeight = uint32(h)
	}
	detail.Rate, _ = aleo.StructUint(value, "rate")
	detail.Active, _ = aleo.StructBool(value, "active")
	return detail, true
}

// singletonUint reads one of the pool's singleton mappings, failing closed.
func (r *Readers) singletonUint(ctx context.Context, mapping, reader string) uint64 {
	value, err := r.chain.GetMappingValue(ctx, LendProgramID, mapping, SingletonKey)
	if err != nil {
		r.fallback(ctx, reader, "rpc", err)
		return 0
	}
	if value == "" {
		return 0
	}
	v, ok := aleo.Uint(value)
	if !ok {
		r.fallback(ctx, reader, "parse", fmt.Errorf("malformed value %q", value))
		return 0
	}
	return v
}

// fallback logs and counts a reader failure.
func (r *Readers) fallback(ctx context.Context, reader, reason string, err error) {
	r.logger.WarnContext(ctx, "reader failed, returning zero value",
		"reader", reader,
		"reason", reason,
		"error", err,
	)
	if r.metrics != nil {
		r.metrics.RecordReaderFallback(reader, reason)
	}
}

// Receipt is a typed view of an unspent lend-receipt record.
type Receipt struct {
	RecordID    string  `json:"record_id"`
	Amount      uint64  `json:"amount"`
	TokenID     TokenID `json:"token_id"`
	StartHeight uint32  `json:"start_height"`
	Rate        uint64  `json:"rate"`
}

// PrivateBalances sums unspent Token records per token id. Records with
// unparseable fields are skipped, consistent with the fail-closed reader
// contract.
func PrivateBalances(records []aleo.Record) map[TokenID]uint64 {
	balances := make(map[TokenID]uint64)
	for _, rec := range records {
		if rec.Spent || rec.RecordName != TokenRecordName {
			continue
		}
		amount, ok := rec.DataUint("amount")
		if !ok {
			continue
		}
		id, ok := rec.DataFieldID("token_id")
		if !ok {
			continue
		}
		balances[TokenID(id)] += amount
	}
	return balances
}

// ActiveReceipts extracts typed receipts from unspent lend-receipt records.
func ActiveReceipts(records []aleo.Record) []Receipt {
	receipts := make([]Receipt, 0)
	for _, rec := range records {
		if rec.Spent || rec.RecordName != ReceiptRecordName {
			continue
		}
		amount, ok := rec.DataUint("amount")
		if !ok {
			continue
		}
		receipt := Receipt{RecordID: rec.ID, Amount: amount}
		if id, found := rec.DataFieldID("token_id"); found {
			receipt.TokenID = TokenID(id)
		}
		if h, found := rec.DataUint("start_height"); found {
			receipt.StartHeight = uint32(h)
		}
		receipt.Rate, _ = rec.DataUint("rate")
		receipts = append(receipts, receipt)
	}
	return receipts
}

// SelectTokenRecord picks the first unspent Token record of the given token
// holding at least minAmount. Used when assembling transactions that consume a
// private record.
func SelectTokenRecord(records []aleo.Record, tokenID TokenID, minAmount uint64) (aleo.Record, bool) {
	for _, rec := range records {
		if rec.Spent || rec.RecordName != TokenRecordName {
			continue
		}
		id, ok := rec.DataFieldID("token_id")
		if !ok || TokenID(id) != tokenID {
			continue
		}
		amount, ok := rec.DataUint("amount")
		if !ok || amount < minAmount {
			continue
		}
		return rec, true
	}
	return aleo.Record{}, false
}

// LoanIDs extracts loan ids from unspent Loan records.
func LoanIDs(records []aleo.Record) []uint64 {
	ids := make([]uint64, 0)
	for _, rec := range records {
		if rec.Spent || rec.RecordName != LoanRecordName {
			continue
		}
		if id, ok := rec.DataUint("loan_id"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
