package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/events"
	"github.com/veilfi/veilfi/service/lending"
	"github.com/veilfi/veilfi/service/metrics"
	"github.com/veilfi/veilfi/service/wallet"
)

// ErrEngineClosed is returned by Submit after Close.
var ErrEngineClosed = fmt.Errorf("reconciliation engine is closed")

// ErrWalletRejected wraps wallet boundary rejections surfaced by Submit, so
// callers can tell them apart from local validation failures.
var ErrWalletRejected = fmt.Errorf("wallet rejected transaction")

// Engine tracks pending operations through the reconciliation state machine.
// Every submitted operation gets its own cancellable polling task, registered
// in a task registry keyed by operation id, so teardown is deterministic and
// no timer ever fires into a detached context.
type Engine struct {
	wallet    wallet.Adapter
	readers   *lending.Readers
	ledger    *BalanceLedger
	policy    Policy
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	lister    *recordLister
	matcher   *Matcher

	mu      sync.Mutex
	pending []*PendingOperation // FIFO submission order
	tasks   map[string]context.CancelFunc
	nextSeq int
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine creates a reconciliation engine. The publisher and metrics may be
// nil, in which case lifecycle events and metrics are not emitted.
func NewEngine(w wallet.Adapter, readers *lending.Readers, publisher events.Publisher, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Engine{
		wallet:    w,
		readers:   readers,
		ledger:    NewBalanceLedger(),
		policy:    policy,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		lister:    newRecordLister(w),
		matcher:   NewMatcher(),
		tasks:     make(map[string]context.CancelFunc),
	}
}

// Ledger returns the engine's balance ledger.
func (e *Engine) Ledger() *BalanceLedger {
	return e.ledger
}

// Submit asks the wallet to sign and broadcast the intent's transaction. On
// acceptance it applies the kind's optimistic ledger mutation, registers a
// pending operation, and starts its confirmation polling task. The returned
// operation is a snapshot; the engine keeps the live copy.
func (e *Engine) Submit(ctx context.Context, intent Intent) (*PendingOperation, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.nextSeq++
	seq := e.nextSeq
	e.mu.Unlock()

	op := &PendingOperation{
		ID:                fmt.Sprintf("op-%06d", seq),
		Kind:              intent.Kind,
		Address:           intent.Address,
		TokenID:           intent.TokenID,
		Amount:            intent.Amount,
		CollateralTokenID: intent.CollateralTokenID,
		CollateralAmount:  intent.CollateralAmount,
		LoanID:            intent.LoanID,
		ReceiptRecordID:   intent.ReceiptRecordID,
		State:             StateSubmitted,
	}

	mut := op.OptimisticMutation()
	if err := e.ledger.CanApply(mut); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := e.snapshotBaseline(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to snapshot records before submission: %w", err)
	}

	txID, err := e.wallet.RequestTransaction(ctx, intent.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletRejected, err)
	}
	op.TransactionID = txID
	op.SubmittedAt = time.Now().UTC()

	if err := e.ledger.Apply(mut); err != nil {
		// Concurrent submissions consumed the balance between the pre-check
		// and acceptance. The transaction is already in flight; track it
		// without the optimistic mutation and let confirmation reads
		// converge the display.
		e.logger.WarnContext(ctx, "optimistic mutation skipped after submission",
			"operation_id", op.ID,
			"kind", op.Kind,
			"error", err,
		)
	}

	taskCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil, ErrEngineClosed
	}
	op.State = StatePolling
	e.pending = append(e.pending, op)
	e.tasks[op.ID] = cancel
	pendingCount := len(e.pending)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordOperationSubmitted(string(op.Kind))
		e.metrics.RecordPendingOperations(op.Address, float64(pendingCount))
	}
	e.publish(ctx, op, events.StateSubmitted, "")
	e.logger.InfoContext(ctx, "operation submitted",
		"operation_id", op.ID,
		"kind", op.Kind,
		"transaction_id", op.TransactionID,
		"amount", op.Amount,
	)

	e.wg.Add(1)
	go e.poll(taskCtx, op)

	return op.clone(), nil
}

// snapshotBaseline captures what the wallet already holds before submission.
// For record-matched kinds it remembers existing record ids so a pre-existing
// record never confirms the new operation; for balance-watched kinds it
// captures the credited token's current authoritative private balance.
func (e *Engine) snapshotBaseline(ctx context.Context, op *PendingOperation) error {
	switch op.Kind {
	case KindLend, KindBorrow:
		records, err := e.lister.List(ctx, op.Kind.recordsProgram())
		if err != nil {
			return err
		}
		op.baselineRecords = make(map[string]bool, len(records))
		for _, rec := range records {
			op.baselineRecords[rec.ID] = true
		}
	case KindTransfer, KindWrap, KindUnwrap:
		records, err := e.lister.List(ctx, op.Kind.recordsProgram())
		if err != nil {
			return err
		}
		op.baselineCredited = lending.PrivateBalances(records)[op.creditedToken()]
	}
	return nil
}

// poll is one operation's confirmation loop. Polls are strictly sequential
// within the loop; the budget timer and the task context are the only two
// ways out besides confirmation.
func (e *Engine) poll(ctx context.Context, op *PendingOperation) {
	defer e.wg.Done()

	deadline := time.NewTimer(e.policy.Budget)
	defer deadline.Stop()

	attempt := 0
	for {
		wait := time.NewTimer(e.policy.Interval(op.Kind, attempt))
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-deadline.C:
			wait.Stop()
			e.timeout(op)
			return
		case <-wait.C:
		}

		confirmed, err := e.checkConfirmation(ctx, op)
		if e.metrics != nil {
			status := "miss"
			switch {
			case err != nil:
				status = "error"
			case confirmed:
				status = "hit"
			}
			e.metrics.RecordPollTick(string(op.Kind), status)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.DebugContext(ctx, "confirmation poll failed",
				"operation_id", op.ID,
				"kind", op.Kind,
				"attempt", attempt,
				"error", err,
			)
		}
		if confirmed {
			e.confirm(ctx, op)
			return
		}
		attempt++
	}
}

// checkConfirmation runs one poll tick's confirmation predicate for the
// operation's kind.
func (e *Engine) checkConfirmation(ctx context.Context, op *PendingOperation) (bool, error) {
	records, err := e.lister.List(ctx, op.Kind.recordsProgram())
	if err != nil {
		return false, err
	}

	switch op.Kind {
	case KindLend:
		candidates := wallet.UnspentRecords(records, lending.ReceiptRecordName)
		_, ok := e.matcher.Assign(e.pendingOfKind(KindLend), candidates, matchesLendReceipt, op.ID)
		return ok, nil

	case KindBorrow:
		candidates := wallet.UnspentRecords(records, lending.LoanRecordName)
		match := func(p *PendingOperation, rec aleo.Record) bool {
			return e.loanMatches(ctx, p, rec)
		}
		_, ok := e.matcher.Assign(e.pendingOfKind(KindBorrow), candidates, match, op.ID)
		return ok, nil

	case KindRedeem:
		// Confirmed once the consumed receipt leaves the unspent set.
		for _, rec := range wallet.UnspentRecords(records, lending.ReceiptRecordName) {
			if rec.ID == op.ReceiptRecordID {
				return false, nil
			}
		}
		return true, nil

	case KindRepay:
		// Confirmed once the loan record leaves the unspent set.
		for _, rec := range wallet.UnspentRecords(records, lending.LoanRecordName) {
			if id, ok := rec.DataUint("loan_id"); ok && id == op.LoanID {
				return false, nil
			}
		}
		return true, nil

	default:
		// Balance-watched kinds: confirmed once the credited token's
		// authoritative private balance reflects the submitted amount.
		balances := lending.PrivateBalances(records)
		return balances[op.creditedToken()] >= op.baselineCredited+op.Amount, nil
	}
}

// loanMatches checks a candidate loan record's public mapping entry against a
// pending borrow's controlled fields.
func (e *Engine) loanMatches(ctx context.Context, op *PendingOperation, rec aleo.Record) bool {
	id, ok := rec.DataUint("loan_id")
	if !ok {
		return false
	}
	detail, ok := e.readers.Loan(ctx, id)
	if !ok {
		return false
	}
	return detail.BorrowedAmount == op.Amount &&
		detail.CollateralAmount == op.CollateralAmount &&
		detail.CollateralTokenID == op.CollateralTokenID
}

// confirm finalizes a confirmed operation: the optimistic mutation stays (it
// is now authoritative), the pending entry is dropped, and kinds whose
// mutation touched derived state adopt fresh authoritative values.
func (e *Engine) confirm(ctx context.Context, op *PendingOperation) {
	if !e.remove(op, StateConfirmed) {
		return
	}

	switch op.Kind {
	case KindBorrow:
		// Adopt the authoritative borrowed total only once it reflects the
		// submitted amount; a lagging read must not shrink the ledger below
		// the borrow that just confirmed.
		cur := e.ledger.BorrowedTotal()
		var prev uint64
		if cur >= op.Amount {
			prev = cur - op.Amount
		}
		if _, borrowed := e.readers.LendingTotals(ctx); borrowed >= prev+op.Amount {
			e.ledger.SetBorrowedTotal(borrowed)
		}
	case KindTransfer, KindWrap, KindUnwrap:
		e.adoptPrivateBalances(ctx)
		if op.Kind == KindTransfer {
			if token, ok := lending.TokenByID(op.TokenID); ok {
				e.ledger.SetPublic(op.TokenID, e.readers.PublicBalance(ctx, op.Address, token))
			}
		}
	}

	elapsed := time.Since(op.SubmittedAt)
	if e.metrics != nil {
		e.metrics.RecordOperationConfirmed(string(op.Kind), elapsed.Seconds())
	}
	e.publish(ctx, op, events.StateConfirmed, "")
	e.logger.InfoContext(ctx, "operation confirmed",
		"operation_id", op.ID,
		"kind", op.Kind,
		"transaction_id", op.TransactionID,
		"elapsed", elapsed.String(),
	)
}

// timeout finalizes an operation whose confirmation budget elapsed: the
// pending entry is dropped and every scope the optimistic mutation touched is
// replaced by a fresh authoritative read, so the display converges instead of
// keeping a stale optimistic value.
func (e *Engine) timeout(op *PendingOperation) {
	if !e.remove(op, StateTimedOut) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mut := op.OptimisticMutation()
	touchedPrivate := false
	for _, d := range mut {
		switch d.Scope {
		case ScopePublic:
			if token, ok := lending.TokenByID(d.Token); ok {
				e.ledger.SetPublic(d.Token, e.readers.PublicBalance(ctx, op.Address, token))
			}
		case ScopePrivate:
			touchedPrivate = true
		case ScopeBorrowedTotal:
			_, borrowed := e.readers.LendingTotals(ctx)
			e.ledger.SetBorrowedTotal(borrowed)
		}
	}
	if touchedPrivate && !e.adoptPrivateBalances(ctx) {
		// Authoritative read unavailable; undoing the optimistic deltas is
		// the closest reachable state. Applied best-effort: the inverse can
		// legitimately fail if later operations already consumed the
		// optimistic credit.
		if err := e.ledger.Apply(mut.Invert()); err != nil {
			e.logger.Warn("timeout rollback left optimistic values in place",
				"operation_id", op.ID,
				"error", err,
			)
		}
	}

	if e.metrics != nil {
		e.metrics.RecordOperationTimedOut(string(op.Kind))
	}
	e.publish(ctx, op, events.StateTimedOut, "confirmation budget exhausted")
	e.logger.Warn("operation timed out waiting for confirmation",
		"operation_id", op.ID,
		"kind", op.Kind,
		"transaction_id", op.TransactionID,
		"budget", e.policy.Budget.String(),
	)
}

// adoptPrivateBalances replaces the private ledger with record-derived
// authoritative balances. Returns false when the wallet listing failed.
func (e *Engine) adoptPrivateBalances(ctx context.Context) bool {
	records, err := e.lister.List(ctx, lending.TokenProgramID)
	if err != nil {
		return false
	}
	e.ledger.SetPrivateAll(lending.PrivateBalances(records))
	return true
}

// remove takes an operation out of the pending set and task registry,
// recording its terminal state. Returns false if it was already removed.
func (e *Engine) remove(op *PendingOperation, terminal State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	found := false
	out := e.pending[:0]
	for _, p := range e.pending {
		if p.ID == op.ID {
			found = true
			continue
		}
		out = append(out, p)
	}
	e.pending = out
	if !found {
		return false
	}

	op.State = terminal
	// The award goes, the claimed record stays claimed. Once the pending
	// set drains, every record observed so far lands in the baseline set of
	// any later submission, so the claims are redundant and dropped.
	e.matcher.forget(op.ID)
	if len(e.pending) == 0 {
		e.matcher.reset()
	}
	if cancel, ok := e.tasks[op.ID]; ok {
		delete(e.tasks, op.ID)
		defer cancel()
	}
	if e.metrics != nil {
		e.metrics.RecordPendingOperations(op.Address, float64(len(e.pending)))
	}
	return true
}

// Cancel tears down an operation's polling task and drops it from the pending
// set without touching the ledger. This is the unmount path: the owning
// consumer is gone, so nothing should keep polling on its behalf.
func (e *Engine) Cancel(opID string) bool {
	e.mu.Lock()
	var op *PendingOperation
	for _, p := range e.pending {
		if p.ID == opID {
			op = p
			break
		}
	}
	e.mu.Unlock()
	if op == nil {
		return false
	}
	if !e.remove(op, StateCancelled) {
		return false
	}

	ctx := context.Background()
	e.publish(ctx, op, events.StateCancelled, "cancelled by client")
	e.logger.InfoContext(ctx, "operation cancelled",
		"operation_id", op.ID,
		"kind", op.Kind,
		"transaction_id", op.TransactionID,
	)
	return true
}

// Pending returns snapshots of all pending operations in submission order.
func (e *Engine) Pending() []*PendingOperation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*PendingOperation, 0, len(e.pending))
	for _, op := range e.pending {
		out = append(out, op.clone())
	}
	return out
}

// Operation returns a snapshot of one pending operation by id.
func (e *Engine) Operation(opID string) (*PendingOperation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range e.pending {
		if op.ID == opID {
			return op.clone(), true
		}
	}
	return nil, false
}

// pendingOfKind returns the live pending operations of one kind in submission
// order, for FIFO matching.
func (e *Engine) pendingOfKind(kind Kind) []*PendingOperation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*PendingOperation, 0)
	for _, op := range e.pending {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// MarketTotals returns the pool totals for display: fresh authoritative reads
// with the optimistic amounts of still-pending borrows applied on top, so the
// displayed capacity reflects borrows the chain has not confirmed yet. The
// resulting borrowed total becomes the ledger's new baseline.
func (e *Engine) MarketTotals(ctx context.Context) (supplied, borrowed uint64) {
	supplied, borrowed = e.readers.LendingTotals(ctx)
	for _, op := range e.pendingOfKind(KindBorrow) {
		borrowed += op.Amount
	}
	e.ledger.SetBorrowedTotal(borrowed)
	return supplied, borrowed
}

// Resync replaces the whole ledger with fresh authoritative reads: public
// balances for every registered token, private balances from wallet records,
// and the pool's borrowed total.
func (e *Engine) Resync(ctx context.Context, address string) error {
	records, err := e.lister.List(ctx, lending.TokenProgramID)
	if err != nil {
		return fmt.Errorf("failed to list token records: %w", err)
	}
	e.ledger.SetPrivateAll(lending.PrivateBalances(records))
	for _, token := range lending.Tokens() {
		e.ledger.SetPublic(token.ID, e.readers.PublicBalance(ctx, address, token))
	}
	_, borrowed := e.readers.LendingTotals(ctx)
	e.ledger.SetBorrowedTotal(borrowed)
	return nil
}

// Close cancels every polling task and waits for them to finish. Submit
// returns ErrEngineClosed afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for id, cancel := range e.tasks {
		delete(e.tasks, id)
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// publish emits an operation lifecycle event, if a publisher is configured.
func (e *Engine) publish(ctx context.Context, op *PendingOperation, state, reason string) {
	if e.publisher == nil {
		return
	}
	event := &events.OperationEvent{
		OperationID:       op.ID,
		TransactionID:     op.TransactionID,
		Address:           op.Address,
		Kind:              string(op.Kind),
		TokenID:           string(op.TokenID),
		Amount:            op.Amount,
		CollateralTokenID: string(op.CollateralTokenID),
		CollateralAmount:  op.CollateralAmount,
		State:             state,
		Reason:            reason,
		SubmittedAt:       op.SubmittedAt,
		PublishedAt:       time.Now().UTC(),
	}
	if err := e.publisher.PublishOperation(ctx, event); err != nil {
		e.logger.Warn("failed to publish operation event",
			"operation_id", op.ID,
			"state", state,
			"error", err,
		)
	}
}
