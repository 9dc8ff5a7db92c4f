package wallet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veilfi/veilfi/service/aleo"
)

func TestClassify_SubstringFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RejectionCategory
	}{
		{"user cancelled", errors.New("User cancelled the transaction"), RejectionUserCancelled},
		{"declined", errors.New("request declined by user"), RejectionUserCancelled},
		{"denied", errors.New("Permission denied"), RejectionUserCancelled},
		{"insufficient", errors.New("Insufficient funds for fee"), RejectionInsufficientFunds},
		{"not enough", errors.New("not enough credits in account"), RejectionInsufficientFunds},
		{"internal", errors.New("proof generation failed"), RejectionWalletInternal},
		{"nil", nil, RejectionWalletInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_StructuredCodeWins(t *testing.T) {
	// A structured code takes precedence over a misleading message.
	err := &bridgeError{Message: "something about insufficient gas", Code: "user_cancelled"}
	assert.Equal(t, RejectionUserCancelled, Classify(err))

	err = &bridgeError{Message: "user gave up", Code: "insufficient_funds"}
	assert.Equal(t, RejectionInsufficientFunds, Classify(err))

	// Wrapped structured errors still classify through errors.As.
	wrapped := fmt.Errorf("submit: %w", &bridgeError{Message: "x", Code: "rejected"})
	assert.Equal(t, RejectionUserCancelled, Classify(wrapped))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Transaction cancelled", UserMessage(RejectionUserCancelled))
	assert.Equal(t, "Insufficient balance", UserMessage(RejectionInsufficientFunds))
	assert.Equal(t, "Wallet error, please try again", UserMessage(RejectionWalletInternal))
}

func TestUnspentRecords(t *testing.T) {
	records := []aleo.Record{
		{ID: "r1", RecordName: "Receipt"},
		{ID: "r2", RecordName: "Receipt", Spent: true},
		{ID: "r3", RecordName: "Loan"},
	}

	receipts := UnspentRecords(records, "Receipt")
	assert.Len(t, receipts, 1)
	assert.Equal(t, "r1", receipts[0].ID)

	all := UnspentRecords(records, "")
	assert.Len(t, all, 2)
}
