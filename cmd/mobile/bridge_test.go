package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/sync"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
)

func openTestBridge(t *testing.T) {
	t.Helper()
	t.Setenv("TIPSYNC_DEVICE_ID", "test-device")
	t.Setenv("TIPSYNC_RETRY_INTERVAL", "10ms")

	gw := gateway.Func(func(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResponse, error) {
		return &gateway.SubmitResponse{TransactionID: "ws_CO_" + req.Reference}, nil
	})
	require.NoError(t, openBridge(t.TempDir(), gw))
	t.Cleanup(func() { closeBridge() })

	require.NoError(t, putWorker(`{"id":"W1","name":"Amina","plan":"lite"}`))
}

// TestBridgeNotInitialized tests calls before Init fail cleanly.
func TestBridgeNotInitialized(t *testing.T) {
	_, err := submitTip("W1", "0712345678", 100)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	assert.NoError(t, closeBridge())
}

// TestBridgeOfflineThenOnline tests the queue-then-drain flow through the bridge.
func TestBridgeOfflineThenOnline(t *testing.T) {
	openTestBridge(t)

	out, err := submitTip("W1", "0712345678", 100)
	require.NoError(t, err)
	var outcome sync.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, sync.OutcomeQueued, outcome.Status)

	require.NoError(t, setNetwork(true))

	deadline := time.Now().Add(3 * time.Second)
	for {
		out, err = listQueue()
		require.NoError(t, err)
		var list struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &list))
		if list.Total == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}

	out, err = listTips("W1", "pending", 10)
	require.NoError(t, err)
	assert.Contains(t, out, `"intent_id":"`+outcome.IntentID+`"`)

	out, err = applySettlement(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_` + outcome.IntentID + `","ResultCode":0,"ResultDesc":"ok"}}}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"result":"applied"`)

	out, err = syncStatus()
	require.NoError(t, err)
	assert.Contains(t, out, `"online":true`)
}

// TestBridgeRemoveAndErrors tests queue removal and error reporting.
func TestBridgeRemoveAndErrors(t *testing.T) {
	openTestBridge(t)

	out, err := submitTip("W1", "0712345678", 100)
	require.NoError(t, err)
	var outcome sync.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))

	require.NoError(t, removeQueueEntry(outcome.IntentID))
	assert.True(t, errors.Is(removeQueueEntry(outcome.IntentID), errors.ErrNotFound))

	_, err = submitTip("W1", "0712345678", 600)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	assert.True(t, errors.Is(putWorker(`{`), errors.ErrValidation))

	setLastError(err)
	assert.Contains(t, getLastError(), "VALIDATION_ERROR")
	setLastError(nil)
	assert.Empty(t, getLastError())
}
