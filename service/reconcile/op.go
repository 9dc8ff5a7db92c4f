// Package reconcile keeps locally displayed balances and positions consistent
// with eventually-confirmed on-chain state while transactions are in flight.
//
// Each submitted operation moves through a small state machine:
//
//	SUBMITTED -> POLLING -> CONFIRMED | TIMED_OUT | CANCELLED
//
// SUBMITTED applies an optimistic ledger mutation the instant the wallet
// boundary accepts the transaction. POLLING watches wallet records and chain
// mappings for matching evidence. CONFIRMED keeps the mutation in place (it is
// now authoritative) and drops the pending entry. TIMED_OUT drops the pending
// entry and replaces the optimistic values with fresh authoritative reads, so
// a timeout never leaves a permanently diverged local state. CANCELLED is the
// caller-initiated teardown: polling stops and the ledger is left for the next
// resync or confirmation to converge.
package reconcile

import (
	"fmt"
	"time"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/lending"
)

// Kind identifies an operation. The set is closed; dispatch over it is
// exhaustive.
type Kind string

const (
	KindLend     Kind = "lend"
	KindRedeem   Kind = "redeem"
	KindBorrow   Kind = "borrow"
	KindRepay    Kind = "repay"
	KindTransfer Kind = "transfer"
	KindWrap     Kind = "wrap"
	KindUnwrap   Kind = "unwrap"
)

// Kinds returns every operation kind.
func Kinds() []Kind {
	return []Kind{KindLend, KindRedeem, KindBorrow, KindRepay, KindTransfer, KindWrap, KindUnwrap}
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// recordMatched reports whether confirmation for this kind is established by
// watching the wallet's record set rather than balance reads.
func (k Kind) recordMatched() bool {
	switch k {
	case KindLend, KindBorrow, KindRedeem, KindRepay:
		return true
	}
	return false
}

// recordsProgram is the program whose wallet records this kind's polling
// watches.
func (k Kind) recordsProgram() string {
	if k.recordMatched() {
		return lending.LendProgramID
	}
	return lending.TokenProgramID
}

// State is a pending operation's position in the reconciliation state machine.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateConfirmed State = "confirmed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Intent is a validated user intent handed to the engine together with the
// transaction built for it. The engine submits the transaction, applies the
// kind's optimistic mutation, and polls for confirmation.
type Intent struct {
	Kind    Kind
	Address string

	// TokenID and Amount are the primary token and amount the operation
	// moves: the deposited amount for lend/redeem, the borrowed amount for
	// borrow/repay, the moved amount for transfer/wrap/unwrap.
	TokenID lending.TokenID
	Amount  uint64

	// Collateral fields are set for borrow and repay only.
	CollateralTokenID lending.TokenID
	CollateralAmount  uint64

	// LoanID is set for repay: confirmation is the loan record leaving the
	// unspent set.
	LoanID uint64

	// ReceiptRecordID is set for redeem: confirmation is the consumed
	// receipt record leaving the unspent set.
	ReceiptRecordID string

	// Transaction is the prebuilt outbound transaction for this intent.
	Transaction aleo.Transaction
}

// Validate checks the intent's per-kind required fields.
func (in Intent) Validate() error {
	if _, err := ParseKind(string(in.Kind)); err != nil {
		return err
	}
	if in.Address == "" {
		return fmt.Errorf("intent missing address")
	}
	switch in.Kind {
	case KindRedeem:
		if in.ReceiptRecordID == "" {
			return fmt.Errorf("redeem intent missing receipt record id")
		}
	case KindRepay:
		if in.Amount == 0 {
			return fmt.Errorf("repay intent missing amount")
		}
	default:
		if in.Amount == 0 {
			return fmt.Errorf("%s intent missing amount", in.Kind)
		}
	}
	if in.Kind == KindBorrow {
		if in.CollateralAmount == 0 || in.CollateralTokenID == "" {
			return fmt.Errorf("borrow intent missing collateral")
		}
	}
	return nil
}

// PendingOperation is a submitted-but-unconfirmed intent tracked by the
// engine. It is created the instant the wallet boundary accepts a transaction
// and destroyed when confirmation evidence is observed or the budget elapses.
type PendingOperation struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Address       string          `json:"address"`
	TokenID       lending.TokenID `json:"token_id,omitempty"`
	Amount        uint64          `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	State         State           `json:"state"`

	CollateralTokenID lending.TokenID `json:"collateral_token_id,omitempty"`
	CollateralAmount  uint64          `json:"collateral_amount,omitempty"`
	LoanID            uint64          `json:"loan_id,omitempty"`
	ReceiptRecordID   string          `json:"receipt_record_id,omitempty"`

	// baselineRecords holds the ids of records that already existed when the
	// operation was submitted; a pre-existing record never confirms it.
	baselineRecords map[string]bool

	// baselineCredited is the authoritative private balance of the credited
	// token at submit time, for balance-watched kinds.
	baselineCredited uint64
}

// clone returns a copy safe to hand outside the engine's lock.
func (op *PendingOperation) clone() *PendingOperation {
	c := *op
	c.baselineRecords = nil
	return &c
}

// OptimisticMutation is the ledger mutation applied when the operation enters
// SUBMITTED, per kind:
//
//	lend      private[token] -= amount
//	redeem    private[token] += amount
//	borrow    private[token] += amount; private[collateral] -= collateralAmount; borrowedTotal += amount
//	repay     private[token] -= amount; private[collateral] += collateralAmount
//	transfer  public[token] -= amount; private[token] += amount
//	wrap      private[ALEO] -= amount; private[wALEO] += amount
//	unwrap    private[wALEO] -= amount; private[ALEO] += amount
func (op *PendingOperation) OptimisticMutation() Mutation {
	amount := int64(op.Amount)
	collateral := int64(op.CollateralAmount)

	switch op.Kind {
	case KindLend:
		return Mutation{{ScopePrivate, op.TokenID, -amount}}
	case KindRedeem:
		return Mutation{{ScopePrivate, op.TokenID, amount}}
	case KindBorrow:
		return Mutation{
			{ScopePrivate, op.TokenID, amount},
			{ScopePrivate, op.CollateralTokenID, -collateral},
			{ScopeBorrowedTotal, "", amount},
		}
	case KindRepay:
		return Mutation{
			{ScopePrivate, op.TokenID, -amount},
			{ScopePrivate, op.CollateralTokenID, collateral},
		}
	case KindTransfer:
		return Mutation{
			{ScopePublic, op.TokenID, -amount},
			{ScopePrivate, op.TokenID, amount},
		}
	case KindWrap:
		return Mutation{
			{ScopePrivate, lending.ALEO.ID, -amount},
			{ScopePrivate, lending.WAL.ID, amount},
		}
	case KindUnwrap:
		return Mutation{
			{ScopePrivate, lending.WAL.ID, -amount},
			{ScopePrivate, lending.ALEO.ID, amount},
		}
	}
	return nil
}

// creditedToken is the token whose private balance grows once a
// balance-watched operation lands on-chain.
func (op *PendingOperation) creditedToken() lending.TokenID {
	switch op.Kind {
	case KindWrap:
		return lending.WAL.ID
	case KindUnwrap:
		return lending.ALEO.ID
	default:
		return op.TokenID
	}
}
