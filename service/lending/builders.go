package lending

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/veilfi/veilfi/service/aleo"
)

// Builder assembles outbound transactions from validated domain inputs and
// freshly read chain totals. The target program functions check the totals
// they are handed against on-chain state, so builders re-fetch them at build
// time instead of reusing values from earlier reads; unlike the fail-closed
// Readers, these required reads propagate errors because a build cannot
// proceed without them.
//
// Builders perform no optimistic state mutation. That is the reconciliation
// engine's job.
type Builder struct {
	chain      ChainReader
	chainID    string
	fee        uint64
	feePrivate bool
	logger     *slog.Logger
}

// NewBuilder creates a transaction builder. fee is the flat fee attached to
// every transaction, in smallest units of the fee token.
func NewBuilder(chain ChainReader, chainID string, fee uint64, feePrivate bool, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Builder{
		chain:      chain,
		chainID:    chainID,
		fee:        fee,
		feePrivate: feePrivate,
		logger:     logger,
	}
}

// Lend builds a lend transaction: deposit amount from a private Token record
// into the pool, receiving a Receipt record.
func (b *Builder) Lend(ctx context.Context, address string, tokenRecord aleo.Record, amount uint64) (aleo.Transaction, error) {
	supplied, err := b.freshSingleton(ctx, SuppliedTotalMapping)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read supplied total: %w", err)
	}
	height, err := b.chain.LatestHeight(ctx)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read block height: %w", err)
	}

	return b.transaction(address, Transition(LendProgramID, "lend",
		tokenRecord,
		aleo.EncodeU128(amount),
		aleo.EncodeU128(supplied),
		aleo.EncodeU32(height),
	)), nil
}

// Redeem builds a redeem transaction: consume a Receipt record, returning the
// deposited amount plus accrued yield as a private Token record.
func (b *Builder) Redeem(ctx context.Context, address string, receipt aleo.Record) (aleo.Transaction, error) {
	supplied, err := b.freshSingleton(ctx, SuppliedTotalMapping)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read supplied total: %w", err)
	}
	height, err := b.chain.LatestHeight(ctx)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read block height: %w", err)
	}

	return b.transaction(address, Transition(LendProgramID, "redeem",
		receipt,
		aleo.EncodeU128(supplied),
		aleo.EncodeU32(height),
	)), nil
}

// Borrow builds a borrow transaction: lock a private collateral record and
// receive the borrowed amount plus a Loan record. The pool's borrowed total
// and loan id counter are read fresh because the program validates both.
func (b *Builder) Borrow(ctx context.Context, address string, collateralRecord aleo.Record, amount uint64) (aleo.Transaction, error) {
	borrowed, err := b.freshSingleton(ctx, BorrowedTotalMapping)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read borrowed total: %w", err)
	}
	nextID, err := b.freshSingleton(ctx, NextLoanIDMapping)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read next loan id: %w", err)
	}
	height, err := b.chain.LatestHeight(ctx)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read block height: %w", err)
	}

	return b.transaction(address, Transition(LendProgramID, "borrow",
		collateralRecord,
		aleo.EncodeU128(amount),
		aleo.EncodeU128(borrowed),
		aleo.EncodeU64(nextID),
		aleo.EncodeU32(height),
	)), nil
}

// Repay builds a repay transaction: consume the Loan record together with a
// Token record covering the debt, releasing the collateral.
func (b *Builder) Repay(ctx context.Context, address string, loanRecord, paymentRecord aleo.Record) (aleo.Transaction, error) {
	borrowed, err := b.freshSingleton(ctx, BorrowedTotalMapping)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read borrowed total: %w", err)
	}
	height, err := b.chain.LatestHeight(ctx)
	if err != nil {
		return aleo.Transaction{}, fmt.Errorf("failed to read block height: %w", err)
	}

	return b.transaction(address, Transition(LendProgramID, "repay",
		loanRecord,
		paymentRecord,
		aleo.EncodeU128(borrowed),
		aleo.EncodeU32(height),
	)), nil
}

// TransferPublicToPrivate builds a transfer moving amount of a token from the
// account's public balance into a private Token record.
func (b *Builder) TransferPublicToPrivate(address string, token TokenInfo, amount uint64) aleo.Transaction {
	return b.transaction(address, Transition(token.ProgramID, "transfer_public_to_private",
		string(token.ID),
		aleo.EncodeU128(amount),
	))
}

// Wrap builds a wrap transaction: convert private ALEO into wALEO.
func (b *Builder) Wrap(address string, aleoRecord aleo.Record, amount uint64) aleo.Transaction {
	return b.transaction(address, Transition(WrapProgramID, "wrap",
		aleoRecord,
		aleo.EncodeU128(amount),
	))
}

// Unwrap builds an unwrap transaction: convert private wALEO back into ALEO.
func (b *Builder) Unwrap(address string, walRecord aleo.Record, amount uint64) aleo.Transaction {
	return b.transaction(address, Transition(WrapProgramID, "unwrap",
		walRecord,
		aleo.EncodeU128(amount),
	))
}

// Transition assembles a single program invocation.
func Transition(program, functionName string, inputs ...any) aleo.Transition {
	return aleo.Transition{
		Program:      program,
		FunctionName: functionName,
		Inputs:       inputs,
	}
}

// transaction wraps transitions in the outbound transaction envelope.
func (b *Builder) transaction(address string, transitions ...aleo.Transition) aleo.Transaction {
	return aleo.Transaction{
		Address:     address,
		ChainID:     b.chainID,
		Transitions: transitions,
		Fee:         b.fee,
		FeePrivate:  b.feePrivate,
	}
}

// freshSingleton reads a singleton mapping with error propagation; a missing
// entry decodes as zero, which is valid for a freshly deployed pool.
func (b *Builder) freshSingleton(ctx context.Context, mapping string) (uint64, error) {
	value, err := b.chain.GetMappingValue(ctx, LendProgramID, mapping, SingletonKey)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	v, ok := aleo.Uint(value)
	if !ok {
		return 0, fmt.Errorf("malformed %s value %q", mapping, value)
	}
	return v, nil
}
