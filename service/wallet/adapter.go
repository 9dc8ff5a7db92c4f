// Package wallet models the external wallet boundary: the capability object
// that holds keys, lists private records, and signs and submits transactions.
// The boundary is treated as a black box that may reject, hang, or return
// stale data; everything that needs it receives an Adapter explicitly rather
// than reaching for ambient state.
package wallet

import (
	"context"

	"github.com/veilfi/veilfi/service/aleo"
)

// Adapter is the wallet boundary contract.
type Adapter interface {
	// PublicKey returns the connected account address, or an empty string
	// when no wallet is connected.
	PublicKey(ctx context.Context) (string, error)

	// RequestRecords lists the wallet's records for a program, spent and
	// unspent alike. The call is the most expensive dependency in the
	// system; callers are expected to share results where they can.
	RequestRecords(ctx context.Context, programID string) ([]aleo.Record, error)

	// RequestTransaction asks the wallet to prove, sign, and broadcast the
	// transaction. Returns an opaque transaction id on acceptance, or an
	// error on rejection (user cancellation, insufficient funds, or a
	// wallet-internal failure).
	RequestTransaction(ctx context.Context, tx aleo.Transaction) (string, error)
}

// UnspentRecords filters records down to unspent ones with the given record
// name. An empty name matches every record.
func UnspentRecords(records []aleo.Record, recordName string) []aleo.Record {
	out := make([]aleo.Record, 0, len(records))
	for _, rec := range records {
		if rec.Spent {
			continue
		}
		if recordName != "" && rec.RecordName != recordName {
			continue
		}
		out = append(out, rec)
	}
	return out
}
