// Package main tests for desktop server routing and WebSocket events.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tipsync/backend/internal/config"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/services"
	"github.com/kimhsiao/tipsync/backend/internal/sync"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
)

// setupTestServer starts the full desktop router over a fresh runtime.
func setupTestServer(t *testing.T) (*httptest.Server, *services.TipService) {
	t.Helper()
	logging.Init(os.Stdout, logging.LevelInfo)

	cfg, err := config.FromEnv(func(key string) string {
		switch key {
		case "TIPSYNC_DATA_DIR":
			return t.TempDir()
		case "TIPSYNC_DEVICE_ID":
			return "test-device"
		}
		return ""
	})
	require.NoError(t, err)

	gw := gateway.Func(func(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResponse, error) {
		return &gateway.SubmitResponse{TransactionID: "ws_CO_" + req.Reference}, nil
	})
	rt, err := services.NewRuntime(cfg, services.RuntimeOptions{Gateway: gw, Online: true, DisableProbe: true})
	require.NoError(t, err)

	hub := NewWSHub()
	svc := services.NewTipService(rt)
	svc.SetEventCallbacks(hub.BroadcastEngineEvent, hub.BroadcastSettlement)
	require.NoError(t, svc.PutWorker(context.Background(), &models.Worker{ID: "W1", Plan: models.PlanLite}))

	srv := httptest.NewServer(newRouter(svc, hub))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		rt.Close()
	})
	return srv, svc
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/api/contents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestWebSocketEvents verifies submissions and settlements reach subscribers.
func TestWebSocketEvents(t *testing.T) {
	srv, svc := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{string(sync.EventTipSubmitted), EventTipSettled},
	}))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])

	resp, err := http.Post(srv.URL+"/api/tips", "application/json",
		strings.NewReader(`{"worker_id":"W1","amount":100,"customer_phone":"0712345678"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var submitted WSEnvelope
	require.NoError(t, conn.ReadJSON(&submitted))
	assert.Equal(t, string(sync.EventTipSubmitted), submitted.Type)
	data := submitted.Data.(map[string]interface{})
	txID := data["transaction_id"].(string)

	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"` + txID + `","ResultCode":0,"ResultDesc":"ok"}}}`
	_, err = svc.HandleCallback(context.Background(), []byte(body))
	require.NoError(t, err)

	var settled WSEnvelope
	require.NoError(t, conn.ReadJSON(&settled))
	assert.Equal(t, EventTipSettled, settled.Type)
	assert.Equal(t, "completed", settled.Data.(map[string]interface{})["to"])
}

func TestLocalOrigin(t *testing.T) {
	tests := map[string]bool{
		"localhost:8090":   true,
		"127.0.0.1:5555":   true,
		"localhost":        true,
		"example.com:8090": false,
	}
	for host, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = host
		assert.Equal(t, want, localOrigin(r), host)
	}
}
