package reconcile

import (
	"fmt"
	"sync"

	"github.com/veilfi/veilfi/service/lending"
)

// Scope selects which ledger a mutation delta applies to.
type Scope string

const (
	// ScopePublic is the on-chain mapping-visible balance ledger.
	ScopePublic Scope = "public"
	// ScopePrivate is the record-visible balance ledger.
	ScopePrivate Scope = "private"
	// ScopeBorrowedTotal is the pool-global borrowed total. Delta token is
	// ignored.
	ScopeBorrowedTotal Scope = "borrowed_total"
)

// Delta is a single signed balance change.
type Delta struct {
	Scope  Scope
	Token  lending.TokenID
	Amount int64
}

// Mutation is an atomic group of deltas. Either every delta applies or none
// does.
type Mutation []Delta

// Invert returns the mutation that undoes m.
func (m Mutation) Invert() Mutation {
	out := make(Mutation, len(m))
	for i, d := range m {
		out[i] = Delta{Scope: d.Scope, Token: d.Token, Amount: -d.Amount}
	}
	return out
}

// BalanceLedger holds the account's displayed balances: a public and a
// private per-token ledger plus the pool-global borrowed total. Optimistic
// mutations and authoritative replacements both go through the same mutex, so
// every update is a read-modify-write against the latest state rather than a
// captured snapshot.
//
// Balances are unsigned and never go negative: Apply rejects a mutation whose
// debits exceed the current values, applying nothing.
type BalanceLedger struct {
	mu            sync.Mutex
	public        map[lending.TokenID]uint64
	private       map[lending.TokenID]uint64
	borrowedTotal uint64
}

// NewBalanceLedger creates an empty ledger.
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{
		public:  make(map[lending.TokenID]uint64),
		private: make(map[lending.TokenID]uint64),
	}
}

// Apply applies every delta in the mutation atomically. If any debit would
// drive a balance negative, nothing is applied and an error is returned.
func (l *BalanceLedger) Apply(m Mutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(m); err != nil {
		return err
	}
	for _, d := range m {
		switch d.Scope {
		case ScopePublic:
			l.public[d.Token] = applyDelta(l.public[d.Token], d.Amount)
		case ScopePrivate:
			l.private[d.Token] = applyDelta(l.private[d.Token], d.Amount)
		case ScopeBorrowedTotal:
			l.borrowedTotal = applyDelta(l.borrowedTotal, d.Amount)
		}
	}
	return nil
}

// CanApply reports whether Apply would succeed for the mutation right now.
// Used as a pre-submission check so an unaffordable debit is rejected before
// the wallet is ever asked to sign.
func (l *BalanceLedger) CanApply(m Mutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(m)
}

func (l *BalanceLedger) check(m Mutation) error {
	for _, d := range m {
		if d.Amount >= 0 {
			continue
		}
		debit := uint64(-d.Amount)
		var have uint64
		switch d.Scope {
		case ScopePublic:
			have = l.public[d.Token]
		case ScopePrivate:
			have = l.private[d.Token]
		case ScopeBorrowedTotal:
			have = l.borrowedTotal
		default:
			return fmt.Errorf("unknown ledger scope %q", d.Scope)
		}
		if debit > have {
			return fmt.Errorf("insufficient %s balance for %s: have %d, need %d", d.Scope, d.Token, have, debit)
		}
	}
	return nil
}

func applyDelta(have uint64, delta int64) uint64 {
	if delta >= 0 {
		return have + uint64(delta)
	}
	return have - uint64(-delta)
}

// Public returns the public balance for a token.
func (l *BalanceLedger) Public(token lending.TokenID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.public[token]
}

// Private returns the private balance for a token.
func (l *BalanceLedger) Private(token lending.TokenID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.private[token]
}

// BorrowedTotal returns the pool-global borrowed total.
func (l *BalanceLedger) BorrowedTotal() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.borrowedTotal
}

// SetPublic replaces a token's public balance with an authoritative read.
func (l *BalanceLedger) SetPublic(token lending.TokenID, v uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.public[token] = v
}

// SetPrivate replaces a token's private balance with an authoritative read.
func (l *BalanceLedger) SetPrivate(token lending.TokenID, v uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.private[token] = v
}

// SetPrivateAll replaces the whole private ledger with authoritative
// record-derived balances. Tokens absent from the input are zeroed, matching
// what the records actually show.
func (l *BalanceLedger) SetPrivateAll(balances map[lending.TokenID]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.private = make(map[lending.TokenID]uint64, len(balances))
	for token, v := range balances {
		l.private[token] = v
	}
}

// SetBorrowedTotal replaces the borrowed total with an authoritative read.
func (l *BalanceLedger) SetBorrowedTotal(v uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.borrowedTotal = v
}

// Snapshot returns copies of both per-token ledgers.
func (l *BalanceLedger) Snapshot() (public, private map[lending.TokenID]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	public = make(map[lending.TokenID]uint64, len(l.public))
	for token, v := range l.public {
		public[token] = v
	}
	private = make(map[lending.TokenID]uint64, len(l.private))
	for token, v := range l.private {
		private[token] = v
	}
	return public, private
}
