package reconcile

import "time"

// Policy sets the polling cadence and confirmation budget. The defaults are
// tuned for a chain with block times in the low tens of seconds; tests shrink
// them to milliseconds.
type Policy struct {
	// RecordPollInterval is the fixed interval between polls for
	// record-watched kinds (lend, borrow, redeem, repay).
	RecordPollInterval time.Duration

	// BalanceSchedule lists the per-attempt intervals for balance-watched
	// kinds (transfer, wrap, unwrap). Attempts beyond the end of the slice
	// reuse the last entry. The front-loaded schedule keeps the UI
	// responsive right after submission without hammering the RPC endpoint
	// for the long tail.
	BalanceSchedule []time.Duration

	// Budget is the ceiling on total confirmation polling per operation.
	// When it elapses the operation times out and the optimistic values are
	// replaced by fresh authoritative reads.
	Budget time.Duration
}

// DefaultPolicy returns the production cadence: 5s record polls, a
// 2s/2s/2s/3s/3s/3s then 5s balance schedule, and a 180s budget.
func DefaultPolicy() Policy {
	return Policy{
		RecordPollInterval: 5 * time.Second,
		BalanceSchedule: []time.Duration{
			2 * time.Second, 2 * time.Second, 2 * time.Second,
			3 * time.Second, 3 * time.Second, 3 * time.Second,
			5 * time.Second,
		},
		Budget: 180 * time.Second,
	}
}

// Interval returns the wait before poll attempt n (zero-based) for a kind.
func (p Policy) Interval(kind Kind, attempt int) time.Duration {
	if kind.recordMatched() {
		return p.RecordPollInterval
	}
	if len(p.BalanceSchedule) == 0 {
		return p.RecordPollInterval
	}
	if attempt >= len(p.BalanceSchedule) {
		attempt = len(p.BalanceSchedule) - 1
	}
	return p.BalanceSchedule[attempt]
}
