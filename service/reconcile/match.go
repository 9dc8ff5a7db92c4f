package reconcile

import (
	"sync"

	"github.com/veilfi/veilfi/service/aleo"
)

// Matcher pairs newly observed records with pending operations. The ledger
// exposes no client-assigned correlation ids, so a record is matched by value
// equality on the fields the operation controls. Two disciplines keep that
// sound when amounts collide:
//
//   - FIFO: candidates are assigned to pending operations in submission
//     order, so an earlier operation is never starved by a later one that
//     happens to match the same record.
//   - Claim-once: a record id, once claimed for an operation, is never
//     matched again, and an operation holds at most one claim.
type Matcher struct {
	mu      sync.Mutex
	claimed map[string]string // record id -> operation id
	awarded map[string]string // operation id -> record id
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		claimed: make(map[string]string),
		awarded: make(map[string]string),
	}
}

// Assign walks the pending operations in FIFO submission order and claims the
// first unclaimed candidate matching each, at most one per operation. Records
// listed in an operation's baseline set predate its submission and are never
// assigned to it. Returns the record claimed for wantOp this pass, or the one
// it already held, with ok=false when it still has none.
func (m *Matcher) Assign(fifo []*PendingOperation, candidates []aleo.Record, matches func(*PendingOperation, aleo.Record) bool, wantOp string) (aleo.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range fifo {
		if _, ok := m.awarded[op.ID]; ok {
			continue
		}
		for _, rec := range candidates {
			if _, taken := m.claimed[rec.ID]; taken {
				continue
			}
			if op.baselineRecords[rec.ID] {
				continue
			}
			if !matches(op, rec) {
				continue
			}
			m.claimed[rec.ID] = op.ID
			m.awarded[op.ID] = rec.ID
			break
		}
	}

	recordID, ok := m.awarded[wantOp]
	if !ok {
		return aleo.Record{}, false
	}
	for _, rec := range candidates {
		if rec.ID == recordID {
			return rec, true
		}
	}
	// Claimed on an earlier pass; the record may have left the candidate
	// set since. The claim stands.
	return aleo.Record{ID: recordID}, true
}

// isClaimed reports whether a record id has been claimed by any operation.
func (m *Matcher) isClaimed(recordID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claimed[recordID]
	return ok
}

// forget releases an operation's award without unclaiming the record, so a
// record observed once can never re-match a different operation. Called when
// an operation leaves the pending set.
func (m *Matcher) forget(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.awarded, opID)
}

// reset drops all claim state. Called once the pending set drains: every
// record observed by then appears in the baseline set of any operation
// submitted afterwards, so the claims are redundant and the maps must not
// grow for the life of the process.
func (m *Matcher) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.claimed)
	clear(m.awarded)
}

// matchesLendReceipt pairs a lend operation with a receipt record: the
// deposited amount must be equal, and when the record carries a token id it
// must match too.
func matchesLendReceipt(op *PendingOperation, rec aleo.Record) bool {
	amount, ok := rec.DataUint("amount")
	if !ok || amount != op.Amount {
		return false
	}
	if id, found := rec.DataFieldID("token_id"); found && id != string(op.TokenID) {
		return false
	}
	return true
}
