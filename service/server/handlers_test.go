package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/lending"
	"github.com/veilfi/veilfi/service/reconcile"
	"github.com/veilfi/veilfi/service/wallet"
)

const testAddress = "aleo1testaccount"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain is an in-memory ChainReader for handler tests.
type fakeChain struct {
	mu     sync.Mutex
	values map[string]string
	height uint32
}

func newFakeChain() *fakeChain {
	return &fakeChain{values: make(map[string]string), height: 4821}
}

func (c *fakeChain) set(programID, mapping, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[programID+"/"+mapping+"/"+key] = value
}

func (c *fakeChain) GetMappingValue(ctx context.Context, programID, mapping, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[programID+"/"+mapping+"/"+key], nil
}

func (c *fakeChain) LatestHeight(ctx context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

type testDeps struct {
	wallet  *wallet.Mock
	chain   *fakeChain
	engine  *reconcile.Engine
	readers *lending.Readers
	builder *lending.Builder
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	w := wallet.NewMock(testAddress)
	chain := newFakeChain()
	readers := lending.NewReaders(chain, nil, nil)
	builder := lending.NewBuilder(chain, "testnetbeta", 50000, false, nil)
	engine := reconcile.NewEngine(w, readers, nil, reconcile.Policy{
		RecordPollInterval: 50 * time.Millisecond,
		BalanceSchedule:    []time.Duration{50 * time.Millisecond},
		Budget:             10 * time.Second,
	}, nil, nil)
	t.Cleanup(engine.Close)
	return &testDeps{wallet: w, chain: chain, engine: engine, readers: readers, builder: builder}
}

func tokenRecord(id, amount, tokenID string) aleo.Record {
	return aleo.Record{
		ID:         id,
		Owner:      testAddress,
		ProgramID:  lending.TokenProgramID,
		RecordName: lending.TokenRecordName,
		Data:       map[string]string{"amount": amount, "token_id": tokenID},
	}
}

func TestHandleGetBalances(t *testing.T) {
	deps := newTestDeps(t)
	deps.engine.Ledger().SetPublic(lending.ALEO.ID, 1234567890)
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 500000)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balances/"+testAddress, nil)
	req.SetPathValue("address", testAddress)
	rec := httptest.NewRecorder()
	handleGetBalances(deps.engine, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Address  string         `json:"address"`
		Balances []balanceEntry `json:"balances"`
		Pending  int            `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testAddress, resp.Address)
	require.Len(t, resp.Balances, 3)
	assert.Equal(t, "ALEO", resp.Balances[0].Symbol)
	assert.Equal(t, uint64(1234567890), resp.Balances[0].Public)
	assert.Equal(t, "1234.5678", resp.Balances[0].PublicDisplay)
	assert.Equal(t, "0.5000", resp.Balances[0].PrivateDisplay)
	assert.Equal(t, 0, resp.Pending)
}

func TestHandleGetBalances_InvalidAddress(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balances/bogus", nil)
	req.SetPathValue("address", "bogus")
	rec := httptest.NewRecorder()
	handleGetBalances(deps.engine, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetBalances_Refresh(t *testing.T) {
	deps := newTestDeps(t)
	deps.wallet.AddRecord(lending.TokenProgramID, tokenRecord("tok-1", "900000u128", "1field"))
	deps.chain.set(lending.TokenProgramID, lending.BalancesMapping,
		lending.BalanceKey(testAddress, lending.ALEO), "123456u128")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balances/"+testAddress+"?refresh=true", nil)
	req.SetPathValue("address", testAddress)
	rec := httptest.NewRecorder()
	handleGetBalances(deps.engine, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(123456), deps.engine.Ledger().Public(lending.ALEO.ID))
	assert.Equal(t, uint64(900000), deps.engine.Ledger().Private(lending.ALEO.ID))
}

func TestHandleGetMarket(t *testing.T) {
	deps := newTestDeps(t)
	deps.chain.set(lending.LendProgramID, lending.SuppliedTotalMapping, lending.SingletonKey, "5000000u128")
	deps.chain.set(lending.LendProgramID, lending.BorrowedTotalMapping, lending.SingletonKey, "1500000u128")
	deps.chain.set(lending.LendProgramID, lending.NextLoanIDMapping, lending.SingletonKey, "12u64")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market", nil)
	rec := httptest.NewRecorder()
	handleGetMarket(deps.engine, deps.readers, deps.chain, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(5000000), resp["supplied_total"])
	assert.Equal(t, float64(1500000), resp["borrowed_total"])
	assert.Equal(t, float64(3500000), resp["available_to_borrow"])
	assert.Equal(t, float64(12), resp["next_loan_id"])
	assert.Equal(t, float64(4821), resp["height"])
}

func TestHandleGetMarket_PendingBorrowReducesCapacity(t *testing.T) {
	deps := newTestDeps(t)
	deps.chain.set(lending.LendProgramID, lending.SuppliedTotalMapping, lending.SingletonKey, "5000000u128")
	deps.chain.set(lending.LendProgramID, lending.BorrowedTotalMapping, lending.SingletonKey, "1500000u128")
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 5000000)

	_, err := deps.engine.Submit(context.Background(), reconcile.Intent{
		Kind:              reconcile.KindBorrow,
		Address:           testAddress,
		TokenID:           lending.VUSD.ID,
		Amount:            1000000,
		CollateralTokenID: lending.ALEO.ID,
		CollateralAmount:  2000000,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market", nil)
	rec := httptest.NewRecorder()
	handleGetMarket(deps.engine, deps.readers, deps.chain, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The unconfirmed borrow already counts against pool capacity.
	assert.Equal(t, float64(2500000), resp["borrowed_total"])
	assert.Equal(t, float64(2500000), resp["available_to_borrow"])
}

func TestHandleGetLoan(t *testing.T) {
	deps := newTestDeps(t)
	deps.chain.set(lending.LendProgramID, lending.LoansMapping, "7u64",
		"{ borrowed_amount: 1000000u128, collateral_amount: 2000000u128, borrowed_token_id: 3field, collateral_token_id: 1field, start_height: 4800u32, rate: 500u64, active: true }")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loans/7", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	handleGetLoan(deps.readers, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var detail lending.LoanDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, uint64(7), detail.ID)
	assert.Equal(t, uint64(1000000), detail.BorrowedAmount)
	assert.True(t, detail.Active)
}

func TestHandleGetLoan_NotFound(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loans/99", nil)
	req.SetPathValue("id", "99")
	rec := httptest.NewRecorder()
	handleGetLoan(deps.readers, testLogger()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/loans/abc", nil)
	req.SetPathValue("id", "abc")
	rec = httptest.NewRecorder()
	handleGetLoan(deps.readers, testLogger()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPositions(t *testing.T) {
	deps := newTestDeps(t)
	deps.wallet.AddRecord(lending.LendProgramID, aleo.Record{
		ID:         "rcpt-1",
		RecordName: lending.ReceiptRecordName,
		Data:       map[string]string{"amount": "500000u128", "token_id": "1field", "start_height": "4800u32", "rate": "500u64"},
	})
	deps.wallet.AddRecord(lending.LendProgramID, aleo.Record{
		ID:         "loan-rec-7",
		RecordName: lending.LoanRecordName,
		Data:       map[string]string{"loan_id": "7u64"},
	})
	deps.chain.set(lending.LendProgramID, lending.LoansMapping, "7u64",
		"{ borrowed_amount: 1000000u128, collateral_amount: 2000000u128, borrowed_token_id: 3field, collateral_token_id: 1field, start_height: 4800u32, rate: 500u64, active: true }")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/"+testAddress, nil)
	req.SetPathValue("address", testAddress)
	rec := httptest.NewRecorder()
	handleGetPositions(deps.wallet, deps.readers, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Receipts         []lending.Receipt     `json:"receipts"`
		ActiveLendsTotal uint64                `json:"active_lends_total"`
		Loans            []*lending.LoanDetail `json:"loans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Receipts, 1)
	assert.Equal(t, uint64(500000), resp.ActiveLendsTotal)
	require.Len(t, resp.Loans, 1)
	assert.Equal(t, uint64(7), resp.Loans[0].ID)
}

func submitOperation(t *testing.T, deps *testDeps, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handleSubmitOperation(deps.engine, deps.builder, deps.wallet, testLogger()).ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmitOperation_Lend(t *testing.T) {
	deps := newTestDeps(t)
	deps.wallet.AddRecord(lending.TokenProgramID, tokenRecord("tok-1", "1000000u128", "1field"))
	deps.chain.set(lending.LendProgramID, lending.SuppliedTotalMapping, lending.SingletonKey, "5000000u128")
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 1000000)

	rec := submitOperation(t, deps, operationRequest{Kind: "lend", Token: "ALEO", Amount: "0.5"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "lend", resp.Kind)
	assert.Equal(t, uint64(500000), resp.Amount)
	assert.Equal(t, "0.5000", resp.AmountDisplay)
	assert.Equal(t, "polling", resp.State)
	assert.NotEmpty(t, resp.TransactionID)

	// The optimistic debit is visible immediately.
	assert.Equal(t, uint64(500000), deps.engine.Ledger().Private(lending.ALEO.ID))
	assert.Len(t, deps.engine.Pending(), 1)

	// The submitted transaction consumed the selected record and fresh totals.
	submitted := deps.wallet.Submitted()
	require.Len(t, submitted, 1)
	require.Len(t, submitted[0].Transitions, 1)
	assert.Equal(t, "lend", submitted[0].Transitions[0].FunctionName)
}

func TestHandleSubmitOperation_UnknownKind(t *testing.T) {
	deps := newTestDeps(t)
	rec := submitOperation(t, deps, operationRequest{Kind: "stake", Token: "ALEO", Amount: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmitOperation_UnknownToken(t *testing.T) {
	deps := newTestDeps(t)
	rec := submitOperation(t, deps, operationRequest{Kind: "lend", Token: "DOGE", Amount: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown token")
}

func TestHandleSubmitOperation_NoCoveringRecord(t *testing.T) {
	deps := newTestDeps(t)
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 1000000)
	// Wallet holds no token records at all.
	rec := submitOperation(t, deps, operationRequest{Kind: "lend", Token: "ALEO", Amount: "0.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no private ALEO record")
}

func TestHandleSubmitOperation_WalletRejection(t *testing.T) {
	deps := newTestDeps(t)
	deps.wallet.AddRecord(lending.TokenProgramID, tokenRecord("tok-1", "1000000u128", "1field"))
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 1000000)
	deps.wallet.SetSubmitError(errors.New("User rejected the request"))

	rec := submitOperation(t, deps, operationRequest{Kind: "lend", Token: "ALEO", Amount: "0.5"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Transaction cancelled")

	// Rejection leaves no pending operation and no mutation.
	assert.Empty(t, deps.engine.Pending())
	assert.Equal(t, uint64(1000000), deps.engine.Ledger().Private(lending.ALEO.ID))
}

func TestHandleSubmitOperation_Transfer(t *testing.T) {
	deps := newTestDeps(t)
	deps.engine.Ledger().SetPublic(lending.VUSD.ID, 1000000)

	rec := submitOperation(t, deps, operationRequest{Kind: "transfer", Token: "vUSD", Amount: "0.25"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	assert.Equal(t, uint64(750000), deps.engine.Ledger().Public(lending.VUSD.ID))
	assert.Equal(t, uint64(250000), deps.engine.Ledger().Private(lending.VUSD.ID))
}

func TestHandleSubmitOperation_RedeemMissingReceipt(t *testing.T) {
	deps := newTestDeps(t)
	rec := submitOperation(t, deps, operationRequest{Kind: "redeem", ReceiptRecordID: "rcpt-missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListAndGetOperations(t *testing.T) {
	deps := newTestDeps(t)
	deps.wallet.AddRecord(lending.TokenProgramID, tokenRecord("tok-1", "1000000u128", "1field"))
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 1000000)

	rec := submitOperation(t, deps, operationRequest{Kind: "lend", Token: "ALEO", Amount: "0.5"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil)
	listRec := httptest.NewRecorder()
	handleListOperations(deps.engine, testLogger()).ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listResp struct {
		Operations []operationResponse `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Operations, 1)
	assert.Equal(t, created.ID, listResp.Operations[0].ID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/operations/"+created.ID, nil)
	getReq.SetPathValue("id", created.ID)
	getRec := httptest.NewRecorder()
	handleGetOperation(deps.engine, testLogger()).ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	missReq := httptest.NewRequest(http.MethodGet, "/api/v1/operations/op-999999", nil)
	missReq.SetPathValue("id", "op-999999")
	missRec := httptest.NewRecorder()
	handleGetOperation(deps.engine, testLogger()).ServeHTTP(missRec, missReq)
	assert.Equal(t, http.StatusNotFound, missRec.Code)
}

func TestHandleCancelOperation(t *testing.T) {
	deps := newTestDeps(t)
	deps.wallet.AddRecord(lending.TokenProgramID, tokenRecord("tok-1", "1000000u128", "1field"))
	deps.engine.Ledger().SetPrivate(lending.ALEO.ID, 1000000)

	rec := submitOperation(t, deps, operationRequest{Kind: "lend", Token: "ALEO", Amount: "0.5"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/operations/"+created.ID, nil)
	delReq.SetPathValue("id", created.ID)
	delRec := httptest.NewRecorder()
	handleCancelOperation(deps.engine, testLogger()).ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusNoContent, delRec.Code)
	assert.Empty(t, deps.engine.Pending())

	againRec := httptest.NewRecorder()
	handleCancelOperation(deps.engine, testLogger()).ServeHTTP(againRec, delReq)
	assert.Equal(t, http.StatusNotFound, againRec.Code)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, validateAddress("aleo1abc234"))
	assert.Error(t, validateAddress(""))
	assert.Error(t, validateAddress("0x1234"))
	assert.Error(t, validateAddress("aleo1ABC"))
}
