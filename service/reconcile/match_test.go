package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/lending"
)

func pendingLend(id string, amount uint64, submitted time.Time) *PendingOperation {
	return &PendingOperation{
		ID:          id,
		Kind:        KindLend,
		TokenID:     lending.ALEO.ID,
		Amount:      amount,
		SubmittedAt: submitted,
		State:       StatePolling,
	}
}

func receiptRecord(id string, amount string) aleo.Record {
	return aleo.Record{
		ID:         id,
		RecordName: lending.ReceiptRecordName,
		Data:       map[string]string{"amount": amount, "token_id": "1field"},
	}
}

func TestMatcherAssign(t *testing.T) {
	m := NewMatcher()
	op := pendingLend("op-1", 500000, time.Now())

	rec, ok := m.Assign([]*PendingOperation{op},
		[]aleo.Record{receiptRecord("r1", "500000u128")},
		matchesLendReceipt, "op-1")
	require.True(t, ok)
	assert.Equal(t, "r1", rec.ID)
	assert.True(t, m.isClaimed("r1"))
}

func TestMatcherAssign_NoMatch(t *testing.T) {
	m := NewMatcher()
	op := pendingLend("op-1", 500000, time.Now())

	_, ok := m.Assign([]*PendingOperation{op},
		[]aleo.Record{receiptRecord("r1", "123u128")},
		matchesLendReceipt, "op-1")
	assert.False(t, ok)
}

func TestMatcherAssign_AtMostOnce(t *testing.T) {
	// A record claimed for one operation must never re-match a second one,
	// even across later passes.
	m := NewMatcher()
	now := time.Now()
	a := pendingLend("op-a", 500000, now)
	b := pendingLend("op-b", 500000, now.Add(time.Second))
	fifo := []*PendingOperation{a, b}
	candidates := []aleo.Record{receiptRecord("r1", "500000u128")}

	_, okA := m.Assign(fifo, candidates, matchesLendReceipt, "op-a")
	require.True(t, okA)

	_, okB := m.Assign(fifo, candidates, matchesLendReceipt, "op-b")
	assert.False(t, okB, "single record must not confirm two operations")
}

func TestMatcherAssign_FIFOOrder(t *testing.T) {
	// When a later operation polls first, the single matching record still
	// goes to the earlier operation in submission order.
	m := NewMatcher()
	now := time.Now()
	a := pendingLend("op-a", 500000, now)
	b := pendingLend("op-b", 500000, now.Add(time.Second))
	fifo := []*PendingOperation{a, b}
	candidates := []aleo.Record{receiptRecord("r1", "500000u128")}

	_, okB := m.Assign(fifo, candidates, matchesLendReceipt, "op-b")
	assert.False(t, okB)

	rec, okA := m.Assign(fifo, candidates, matchesLendReceipt, "op-a")
	require.True(t, okA)
	assert.Equal(t, "r1", rec.ID)
}

func TestMatcherAssign_EqualAmountsDistinctRecords(t *testing.T) {
	m := NewMatcher()
	now := time.Now()
	a := pendingLend("op-a", 500000, now)
	b := pendingLend("op-b", 500000, now.Add(time.Second))
	fifo := []*PendingOperation{a, b}
	candidates := []aleo.Record{
		receiptRecord("r1", "500000u128"),
		receiptRecord("r2", "500000u128"),
	}

	recA, okA := m.Assign(fifo, candidates, matchesLendReceipt, "op-a")
	recB, okB := m.Assign(fifo, candidates, matchesLendReceipt, "op-b")
	require.True(t, okA)
	require.True(t, okB)
	assert.NotEqual(t, recA.ID, recB.ID)
}

func TestMatcherAssign_SkipsBaselineRecords(t *testing.T) {
	// A record that existed before submission never confirms the operation.
	m := NewMatcher()
	op := pendingLend("op-1", 500000, time.Now())
	op.baselineRecords = map[string]bool{"r-old": true}

	_, ok := m.Assign([]*PendingOperation{op},
		[]aleo.Record{receiptRecord("r-old", "500000u128")},
		matchesLendReceipt, "op-1")
	assert.False(t, ok)

	rec, ok := m.Assign([]*PendingOperation{op},
		[]aleo.Record{receiptRecord("r-old", "500000u128"), receiptRecord("r-new", "500000u128")},
		matchesLendReceipt, "op-1")
	require.True(t, ok)
	assert.Equal(t, "r-new", rec.ID)
}

func TestMatchesLendReceipt_TokenMismatch(t *testing.T) {
	op := pendingLend("op-1", 500000, time.Now())
	rec := receiptRecord("r1", "500000u128")
	rec.Data["token_id"] = "2field"
	assert.False(t, matchesLendReceipt(op, rec))
}
