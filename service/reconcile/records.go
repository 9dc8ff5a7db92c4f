package reconcile

import (
	"context"
	"sync"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/wallet"
)

// recordLister de-duplicates concurrent wallet record listings per program.
// The wallet's record-listing call is the most expensive dependency in the
// system; when several pending operations poll the same program at once, the
// later callers wait on the first in-flight request instead of issuing their
// own. Results are not cached beyond the in-flight window, so every poll tick
// still sees fresh data.
type recordLister struct {
	wallet wallet.Adapter

	mu       sync.Mutex
	inflight map[string]*listCall
}

type listCall struct {
	done    chan struct{}
	records []aleo.Record
	err     error
}

func newRecordLister(w wallet.Adapter) *recordLister {
	return &recordLister{
		wallet:   w,
		inflight: make(map[string]*listCall),
	}
}

// List returns the wallet's records for a program, sharing a single in-flight
// request per program id among concurrent callers.
func (l *recordLister) List(ctx context.Context, programID string) ([]aleo.Record, error) {
	l.mu.Lock()
	if call, ok := l.inflight[programID]; ok {
		l.mu.Unlock()
		select {
		case <-call.done:
			return call.records, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &listCall{done: make(chan struct{})}
	l.inflight[programID] = call
	l.mu.Unlock()

	call.records, call.err = l.wallet.RequestRecords(ctx, programID)

	l.mu.Lock()
	delete(l.inflight, programID)
	l.mu.Unlock()
	close(call.done)

	return call.records, call.err
}
