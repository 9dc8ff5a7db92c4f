package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilfi/veilfi/service/aleo"
)

// slowAdapter blocks RequestRecords until released, counting calls.
type slowAdapter struct {
	calls   atomic.Int64
	release chan struct{}
}

func (a *slowAdapter) PublicKey(ctx context.Context) (string, error) { return testAddress, nil }

func (a *slowAdapter) RequestRecords(ctx context.Context, programID string) ([]aleo.Record, error) {
	a.calls.Add(1)
	select {
	case <-a.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []aleo.Record{{ID: "r1", ProgramID: programID}}, nil
}

func (a *slowAdapter) RequestTransaction(ctx context.Context, tx aleo.Transaction) (string, error) {
	return "at1slow", nil
}

func TestRecordLister_SharesInflightRequest(t *testing.T) {
	adapter := &slowAdapter{release: make(chan struct{})}
	lister := newRecordLister(adapter)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]aleo.Record, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = lister.List(context.Background(), "veil_lend.aleo")
		}()
	}

	// Let every caller reach the lister before releasing the single
	// underlying request.
	require.Eventually(t, func() bool {
		return adapter.calls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(adapter.release)
	wg.Wait()

	assert.Equal(t, int64(1), adapter.calls.Load(), "concurrent callers must share one request")
	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
	}
}

func TestRecordLister_DistinctProgramsDoNotShare(t *testing.T) {
	adapter := &slowAdapter{release: make(chan struct{})}
	close(adapter.release)
	lister := newRecordLister(adapter)

	_, err := lister.List(context.Background(), "veil_lend.aleo")
	require.NoError(t, err)
	_, err = lister.List(context.Background(), "veil_token.aleo")
	require.NoError(t, err)

	assert.Equal(t, int64(2), adapter.calls.Load())
}

func TestRecordLister_WaiterHonorsContext(t *testing.T) {
	adapter := &slowAdapter{release: make(chan struct{})}
	lister := newRecordLister(adapter)

	go lister.List(context.Background(), "veil_lend.aleo") //nolint:errcheck

	require.Eventually(t, func() bool {
		return adapter.calls.Load() == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := lister.List(ctx, "veil_lend.aleo")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(adapter.release)
}
