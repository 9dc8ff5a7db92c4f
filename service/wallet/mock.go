package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/veilfi/veilfi/service/aleo"
)

// Mock is a mock implementation of Adapter for testing. Records are keyed by
// program id; submitted transactions are captured for inspection.
type Mock struct {
	mu            sync.RWMutex
	publicKey     string
	records       map[string][]aleo.Record
	submitted     []aleo.Transaction
	nextTxSeq     int
	submitErr     error
	recordsErr    error
	recordsCalls  map[string]int
	onTransaction func(tx aleo.Transaction) (string, error)
}

// NewMock creates a mock wallet for the given account address.
func NewMock(publicKey string) *Mock {
	return &Mock{
		publicKey:    publicKey,
		records:      make(map[string][]aleo.Record),
		recordsCalls: make(map[string]int),
	}
}

// PublicKey returns the configured account address.
func (m *Mock) PublicKey(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publicKey, nil
}

// RequestRecords returns the configured records for a program.
func (m *Mock) RequestRecords(ctx context.Context, programID string) ([]aleo.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordsCalls[programID]++
	if m.recordsErr != nil {
		return nil, m.recordsErr
	}

	out := make([]aleo.Record, len(m.records[programID]))
	copy(out, m.records[programID])
	return out, nil
}

// RequestTransaction records the transaction and returns a synthetic id, or
// the configured error / hook result.
func (m *Mock) RequestTransaction(ctx context.Context, tx aleo.Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.onTransaction != nil {
		return m.onTransaction(tx)
	}
	if m.submitErr != nil {
		return "", m.submitErr
	}

	m.submitted = append(m.submitted, tx)
	m.nextTxSeq++
	return fmt.Sprintf("at1mock%06d", m.nextTxSeq), nil
}

// SetRecords replaces the record set for a program.
func (m *Mock) SetRecords(programID string, records []aleo.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[programID] = records
}

// AddRecord appends a record to a program's record set. Useful for simulating
// a confirmation landing mid-poll.
func (m *Mock) AddRecord(programID string, rec aleo.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[programID] = append(m.records[programID], rec)
}

// MarkSpent flags the record with the given id as spent.
func (m *Mock) MarkSpent(programID, recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[programID]
	for i := range recs {
		if recs[i].ID == recordID {
			recs[i].Spent = true
		}
	}
}

// RemoveRecord deletes the record with the given id.
func (m *Mock) RemoveRecord(programID, recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[programID]
	out := recs[:0]
	for _, rec := range recs {
		if rec.ID != recordID {
			out = append(out, rec)
		}
	}
	m.records[programID] = out
}

// SetSubmitError configures RequestTransaction to fail.
func (m *Mock) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// SetRecordsError configures RequestRecords to fail.
func (m *Mock) SetRecordsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsErr = err
}

// SetTransactionHook installs a hook invoked for every RequestTransaction.
func (m *Mock) SetTransactionHook(fn func(tx aleo.Transaction) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransaction = fn
}

// Submitted returns all captured transactions.
func (m *Mock) Submitted() []aleo.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]aleo.Transaction, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// RecordsCalls returns how many times RequestRecords ran for a program.
func (m *Mock) RecordsCalls(programID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recordsCalls[programID]
}
