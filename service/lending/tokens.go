package lending

import (
	"fmt"
	"math"
	"strings"
)

// Program and schema identifiers for the protocol's on-chain programs.
const (
	// TokenProgramID is the multi-token program holding public balances and
	// private Token records.
	TokenProgramID = "veil_token.aleo"

	// LendProgramID is the lending pool program.
	LendProgramID = "veil_lend.aleo"

	// WrapProgramID is the ALEO wrapper program.
	WrapProgramID = "waleo.aleo"

	// Mapping names on LendProgramID. The totals and id counter are
	// singleton mappings keyed by 0u8.
	SuppliedTotalMapping = "supplied_total"
	BorrowedTotalMapping = "borrowed_total"
	NextLoanIDMapping    = "next_loan_id"
	LoansMapping         = "loans"

	// BalancesMapping is the public balance mapping on TokenProgramID,
	// keyed by an {account, token_id} struct.
	BalancesMapping = "balances"

	// SingletonKey addresses the singleton mappings.
	SingletonKey = "0u8"

	// Record names surfaced by the wallet boundary.
	TokenRecordName   = "Token"
	ReceiptRecordName = "Receipt"
	LoanRecordName    = "Loan"
)

// TokenID is a field element literal identifying a token, e.g. "1field".
type TokenID string

// TokenInfo describes a token known to the dashboard.
type TokenInfo struct {
	ID       TokenID
	Symbol   string
	Decimals uint8
	// ProgramID is the program whose balances mapping and Token records
	// carry this token.
	ProgramID string
}

// The static token registry. The dashboard only renders tokens it knows.
var (
	ALEO = TokenInfo{ID: "1field", Symbol: "ALEO", Decimals: 6, ProgramID: TokenProgramID}
	WAL  = TokenInfo{ID: "2field", Symbol: "wALEO", Decimals: 6, ProgramID: TokenProgramID}
	VUSD = TokenInfo{ID: "3field", Symbol: "vUSD", Decimals: 6, ProgramID: TokenProgramID}

	registry = []TokenInfo{ALEO, WAL, VUSD}
)

// Tokens returns all registered tokens.
func Tokens() []TokenInfo {
	out := make([]TokenInfo, len(registry))
	copy(out, registry)
	return out
}

// TokenByID looks a token up by its field element id.
func TokenByID(id TokenID) (TokenInfo, bool) {
	for _, t := range registry {
		if t.ID == id {
			return t, true
		}
	}
	return TokenInfo{}, false
}

// TokenBySymbol looks a token up by symbol, case-insensitively.
func TokenBySymbol(symbol string) (TokenInfo, bool) {
	for _, t := range registry {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return TokenInfo{}, false
}

// maxDisplayDecimals caps the fractional digits shown in the dashboard.
const maxDisplayDecimals = 4

// FormatAmount renders a raw smallest-unit amount in display units, showing
// at most four fractional digits. Raw 1234567890 with 6 decimals renders as
// "1234.5678"; zero renders as "0.0000".
func FormatAmount(raw uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", raw)
	}

	scale := pow10(decimals)
	whole := raw / scale
	frac := raw % scale

	fracStr := fmt.Sprintf("%0*d", decimals, frac)
	shown := int(decimals)
	if shown > maxDisplayDecimals {
		shown = maxDisplayDecimals
	}
	return fmt.Sprintf("%d.%s", whole, fracStr[:shown])
}

// ParseAmount converts a display-unit decimal string ("1234.5678") to a raw
// smallest-unit amount. Amounts that are negative, malformed, carry more
// fractional digits than the token allows, or overflow uint64 are rejected;
// validation failures here are what keep optimistic debits from ever driving
// a ledger negative downstream.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("amount must not be negative")
	}

	wholePart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		wholePart, fracPart = s[:i], s[i+1:]
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > int(decimals) {
		return 0, fmt.Errorf("amount %q has more than %d fractional digits", s, decimals)
	}

	digits := wholePart + fracPart + strings.Repeat("0", int(decimals)-len(fracPart))

	var raw uint64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		d := uint64(c - '0')
		if raw > (math.MaxUint64-d)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		raw = raw*10 + d
	}
	return raw, nil
}

// pow10 returns 10^n for n <= 19.
func pow10(n uint8) uint64 {
	v := uint64(1)
	for range n {
		v *= 10
	}
	return v
}
