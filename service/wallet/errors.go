package wallet

import (
	"errors"
	"strings"
)

// RejectionCategory classifies a wallet boundary rejection for display
// purposes.
type RejectionCategory string

const (
	// RejectionUserCancelled means the user dismissed the signing prompt.
	RejectionUserCancelled RejectionCategory = "user_cancelled"

	// RejectionInsufficientFunds means the wallet refused the transaction
	// because the account cannot cover the amount plus fee.
	RejectionInsufficientFunds RejectionCategory = "insufficient_funds"

	// RejectionWalletInternal covers every other wallet-side failure.
	RejectionWalletInternal RejectionCategory = "wallet_internal"
)

// Coder is implemented by wallet errors that carry a structured rejection
// code. When the boundary provides one, classification uses it directly and
// the substring heuristics below never run.
type Coder interface {
	RejectionCode() string
}

// Classify maps a wallet boundary rejection to a category. Substring matching
// is inherently fragile; it is the fallback for wallets that surface only a
// free-form message.
func Classify(err error) RejectionCategory {
	if err == nil {
		return RejectionWalletInternal
	}

	var coder Coder
	if errors.As(err, &coder) {
		switch coder.RejectionCode() {
		case "user_cancelled", "cancelled", "rejected":
			return RejectionUserCancelled
		case "insufficient_funds", "insufficient_balance":
			return RejectionInsufficientFunds
		default:
			return RejectionWalletInternal
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cancel"),
		strings.Contains(msg, "declin"),
		strings.Contains(msg, "denied"),
		strings.Contains(msg, "rejected the request"):
		return RejectionUserCancelled
	case strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "not enough"):
		return RejectionInsufficientFunds
	default:
		return RejectionWalletInternal
	}
}

// UserMessage returns the short human-readable text shown for a rejection
// category. These render as transient inline messages in the dashboard.
func UserMessage(cat RejectionCategory) string {
	switch cat {
	case RejectionUserCancelled:
		return "Transaction cancelled"
	case RejectionInsufficientFunds:
		return "Insufficient balance"
	default:
		return "Wallet error, please try again"
	}
}
