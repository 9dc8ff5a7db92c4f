package aleo

// Record represents a private, wallet-held data object as returned by the
// wallet boundary's requestRecords call. A record is consumed ("spent")
// exactly once when used as a transaction input.
//
// Data holds the record's plaintext fields as typed strings in the chain's
// textual encoding (e.g. "500000u128", "1field", "true").
type Record struct {
	ID         string            `json:"id"`
	Owner      string            `json:"owner"`
	ProgramID  string            `json:"program_id"`
	Spent      bool              `json:"spent"`
	RecordName string            `json:"recordName"`
	Data       map[string]string `json:"data"`
}

// DataUint parses the named record field as an unsigned integer.
// Returns false if the field is absent or not a valid typed integer.
func (r *Record) DataUint(key string) (uint64, bool) {
	raw, ok := r.Data[key]
	if !ok {
		return 0, false
	}
	return Uint(raw)
}

// DataFieldID returns the named record field normalized as a field element
// literal (e.g. "1field"). Returns false if the field is absent.
func (r *Record) DataFieldID(key string) (string, bool) {
	raw, ok := r.Data[key]
	if !ok {
		return "", false
	}
	return NormalizeFieldID(raw)
}

// Transition is a single program invocation inside an outbound transaction.
// Inputs are either typed string literals (e.g. "1000000u128") or Record
// objects passed through structurally.
type Transition struct {
	Program      string `json:"program"`
	FunctionName string `json:"functionName"`
	Inputs       []any  `json:"inputs"`
}

// Transaction is the outbound transaction shape accepted by the wallet
// boundary's requestTransaction call.
type Transaction struct {
	Address     string       `json:"address"`
	ChainID     string       `json:"chainId"`
	Transitions []Transition `json:"transitions"`
	Fee         uint64       `json:"fee"`
	FeePrivate  bool         `json:"feePrivate"`
}
