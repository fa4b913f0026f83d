package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tipsync/backend/internal/db"
	"github.com/kimhsiao/tipsync/backend/internal/lifecycle"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
)

func setupCallback(t *testing.T) (http.Handler, *db.TipRepository) {
	t.Helper()
	database, err := db.OpenMigrated(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	tips := db.NewTipRepository(database.DB)
	require.NoError(t, tips.CreateTip(context.Background(), &models.Tip{
		IntentID:      "intent-1",
		WorkerID:      "W1",
		Amount:        100,
		CustomerPhone: "254712345678",
		TransactionID: "ABC123",
		Status:        models.TipStatusPending,
	}))
	return newRouter(lifecycle.New(tips)), tips
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, CallbackPath, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func assertAccepted(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusOK, w.Code)
	var ack gateway.Acknowledgement
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, gateway.Accepted, ack)
}

const successBody = `{"Body":{"stkCallback":{
	"MerchantRequestID":"29115-34620561-1",
	"CheckoutRequestID":"ABC123",
	"ResultCode":0,
	"ResultDesc":"The service request is processed successfully.",
	"CallbackMetadata":{"Item":[
		{"Name":"Amount","Value":100.00},
		{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
		{"Name":"TransactionDate","Value":20191219102115},
		{"Name":"PhoneNumber","Value":254712345678}
	]}}}}`

// TestCallbackCompletesTip tests a success callback settles the pending tip.
func TestCallbackCompletesTip(t *testing.T) {
	h, tips := setupCallback(t)

	assertAccepted(t, post(t, h, successBody))

	tip, err := tips.GetTipByTransactionID(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, models.TipStatusCompleted, tip.Status)
	assert.Equal(t, "NLJ7RT61SV", tip.MpesaReceipt)
}

// TestCallbackDuplicate tests a late failure after success changes nothing.
func TestCallbackDuplicate(t *testing.T) {
	h, tips := setupCallback(t)

	assertAccepted(t, post(t, h, successBody))
	assertAccepted(t, post(t, h, `{"Body":{"stkCallback":{"CheckoutRequestID":"ABC123","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`))

	tip, err := tips.GetTipByTransactionID(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, models.TipStatusCompleted, tip.Status)
}

// TestCallbackAlwaysAccepted tests malformed and unknown callbacks still get 200.
func TestCallbackAlwaysAccepted(t *testing.T) {
	h, tips := setupCallback(t)

	for _, body := range []string{
		``,
		`not json`,
		`{"Body":{"stkCallback":{"ResultCode":0}}}`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"UNKNOWN","ResultCode":0}}}`,
	} {
		assertAccepted(t, post(t, h, body))
	}

	tip, err := tips.GetTipByTransactionID(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, models.TipStatusPending, tip.Status)

	_, err = tips.GetTipByTransactionID(context.Background(), "UNKNOWN")
	assert.Error(t, err)
}

// TestCallbackWrongMethod tests only POST is routed.
func TestCallbackWrongMethod(t *testing.T) {
	h, _ := setupCallback(t)

	req := httptest.NewRequest(http.MethodGet, CallbackPath, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
