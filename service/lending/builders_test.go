package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilfi/veilfi/service/aleo"
)

const testChainID = "testnetbeta"

func newTestBuilder(chain ChainReader) *Builder {
	return NewBuilder(chain, testChainID, 50000, false, nil)
}

func tokenRecordFixture(id string, amount string) aleo.Record {
	return aleo.Record{
		ID:         id,
		Owner:      "aleo1x",
		ProgramID:  TokenProgramID,
		RecordName: TokenRecordName,
		Data:       map[string]string{"amount": amount, "token_id": "1field"},
	}
}

func TestBuilderLend(t *testing.T) {
	chain := newMockChain()
	chain.set(LendProgramID, SuppliedTotalMapping, SingletonKey, "5000000u128")
	chain.height = 4821

	b := newTestBuilder(chain)
	rec := tokenRecordFixture("r1", "2000000u128")

	tx, err := b.Lend(context.Background(), "aleo1x", rec, 1000000)
	require.NoError(t, err)

	assert.Equal(t, "aleo1x", tx.Address)
	assert.Equal(t, testChainID, tx.ChainID)
	assert.Equal(t, uint64(50000), tx.Fee)
	assert.False(t, tx.FeePrivate)

	require.Len(t, tx.Transitions, 1)
	tr := tx.Transitions[0]
	assert.Equal(t, LendProgramID, tr.Program)
	assert.Equal(t, "lend", tr.FunctionName)
	require.Len(t, tr.Inputs, 4)
	assert.Equal(t, rec, tr.Inputs[0])
	assert.Equal(t, "1000000u128", tr.Inputs[1])
	assert.Equal(t, "5000000u128", tr.Inputs[2])
	assert.Equal(t, "4821u32", tr.Inputs[3])

	// The supplied total and height must come from fresh reads at build time.
	assert.Equal(t, 1, chain.callCount(chainKey(LendProgramID, SuppliedTotalMapping, SingletonKey)))
	assert.Equal(t, 1, chain.callCount("height"))
}

func TestBuilderLend_ReadFailures(t *testing.T) {
	chain := newMockChain()
	chain.setErr(LendProgramID, SuppliedTotalMapping, SingletonKey, errors.New("rpc down"))

	b := newTestBuilder(chain)
	_, err := b.Lend(context.Background(), "aleo1x", tokenRecordFixture("r1", "1u128"), 1)
	require.ErrorContains(t, err, "supplied total")

	chain2 := newMockChain()
	chain2.set(LendProgramID, SuppliedTotalMapping, SingletonKey, "5u128")
	chain2.heightE = errors.New("explorer down")

	b2 := newTestBuilder(chain2)
	_, err = b2.Lend(context.Background(), "aleo1x", tokenRecordFixture("r1", "1u128"), 1)
	require.ErrorContains(t, err, "block height")
}

func TestBuilderLend_FreshPoolDefaultsToZero(t *testing.T) {
	// A freshly deployed pool has no supplied_total entry yet; the builder
	// encodes zero rather than failing.
	chain := newMockChain()
	b := newTestBuilder(chain)

	tx, err := b.Lend(context.Background(), "aleo1x", tokenRecordFixture("r1", "1u128"), 1)
	require.NoError(t, err)
	assert.Equal(t, "0u128", tx.Transitions[0].Inputs[2])
}

func TestBuilderRedeem(t *testing.T) {
	chain := newMockChain()
	chain.set(LendProgramID, SuppliedTotalMapping, SingletonKey, "5000000u128")

	b := newTestBuilder(chain)
	receipt := aleo.Record{ID: "rcpt1", RecordName: ReceiptRecordName}

	tx, err := b.Redeem(context.Background(), "aleo1x", receipt)
	require.NoError(t, err)

	tr := tx.Transitions[0]
	assert.Equal(t, "redeem", tr.FunctionName)
	require.Len(t, tr.Inputs, 3)
	assert.Equal(t, receipt, tr.Inputs[0])
	assert.Equal(t, "5000000u128", tr.Inputs[1])
	assert.Equal(t, "4821u32", tr.Inputs[2])
}

func TestBuilderBorrow(t *testing.T) {
	chain := newMockChain()
	chain.set(LendProgramID, BorrowedTotalMapping, SingletonKey, "1500000u128")
	chain.set(LendProgramID, NextLoanIDMapping, SingletonKey, "12u64")

	b := newTestBuilder(chain)
	collateral := tokenRecordFixture("col1", "9000000u128")

	tx, err := b.Borrow(context.Background(), "aleo1x", collateral, 3000000)
	require.NoError(t, err)

	tr := tx.Transitions[0]
	assert.Equal(t, "borrow", tr.FunctionName)
	require.Len(t, tr.Inputs, 5)
	assert.Equal(t, collateral, tr.Inputs[0])
	assert.Equal(t, "3000000u128", tr.Inputs[1])
	assert.Equal(t, "1500000u128", tr.Inputs[2])
	assert.Equal(t, "12u64", tr.Inputs[3])
	assert.Equal(t, "4821u32", tr.Inputs[4])
}

func TestBuilderBorrow_NextLoanIDFailure(t *testing.T) {
	chain := newMockChain()
	chain.set(LendProgramID, BorrowedTotalMapping, SingletonKey, "1u128")
	chain.setErr(LendProgramID, NextLoanIDMapping, SingletonKey, errors.New("rpc down"))

	b := newTestBuilder(chain)
	_, err := b.Borrow(context.Background(), "aleo1x", tokenRecordFixture("col1", "1u128"), 1)
	require.ErrorContains(t, err, "next loan id")
}

func TestBuilderRepay(t *testing.T) {
	chain := newMockChain()
	chain.set(LendProgramID, BorrowedTotalMapping, SingletonKey, "1500000u128")

	b := newTestBuilder(chain)
	loan := aleo.Record{ID: "loan1", RecordName: LoanRecordName}
	payment := tokenRecordFixture("pay1", "4000000u128")

	tx, err := b.Repay(context.Background(), "aleo1x", loan, payment)
	require.NoError(t, err)

	tr := tx.Transitions[0]
	assert.Equal(t, "repay", tr.FunctionName)
	require.Len(t, tr.Inputs, 4)
	assert.Equal(t, loan, tr.Inputs[0])
	assert.Equal(t, payment, tr.Inputs[1])
	assert.Equal(t, "1500000u128", tr.Inputs[2])
	assert.Equal(t, "4821u32", tr.Inputs[3])
}

func TestBuilderTransferPublicToPrivate(t *testing.T) {
	b := newTestBuilder(newMockChain())

	tx := b.TransferPublicToPrivate("aleo1x", VUSD, 250000)

	tr := tx.Transitions[0]
	assert.Equal(t, TokenProgramID, tr.Program)
	assert.Equal(t, "transfer_public_to_private", tr.FunctionName)
	require.Len(t, tr.Inputs, 2)
	assert.Equal(t, "3field", tr.Inputs[0])
	assert.Equal(t, "250000u128", tr.Inputs[1])
}

func TestBuilderWrapUnwrap(t *testing.T) {
	b := newTestBuilder(newMockChain())
	rec := tokenRecordFixture("r1", "1000000u128")

	tx := b.Wrap("aleo1x", rec, 600000)
	tr := tx.Transitions[0]
	assert.Equal(t, WrapProgramID, tr.Program)
	assert.Equal(t, "wrap", tr.FunctionName)
	assert.Equal(t, []any{rec, "600000u128"}, tr.Inputs)

	tx = b.Unwrap("aleo1x", rec, 600000)
	tr = tx.Transitions[0]
	assert.Equal(t, WrapProgramID, tr.Program)
	assert.Equal(t, "unwrap", tr.FunctionName)
	assert.Equal(t, []any{rec, "600000u128"}, tr.Inputs)
}
