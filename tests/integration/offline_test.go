// Integration tests for offline tipping.
// Tips entered without connectivity must reach the gateway exactly once
// after the device reconnects, including across restarts.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tipsync/backend/internal/config"
	"github.com/kimhsiao/tipsync/backend/internal/db"
	"github.com/kimhsiao/tipsync/backend/internal/eligibility"
	"github.com/kimhsiao/tipsync/backend/internal/lifecycle"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/services"
	"github.com/kimhsiao/tipsync/backend/internal/sync"
)

// fakeGateway serves the token and STK push endpoints. While down it
// answers every push with 503.
type fakeGateway struct {
	down atomic.Bool
	seq  atomic.Int32
	mu   stdsync.Mutex
	refs []string
}

func (f *fakeGateway) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if f.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req struct {
			AccountReference string `json:"AccountReference"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.refs = append(f.refs, req.AccountReference)
		f.mu.Unlock()

		fmt.Fprintf(w, `{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_%d","ResponseCode":"0","CustomerMessage":"ok"}`, f.seq.Add(1))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeGateway) pushes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refs...)
}

// openDevice opens a runtime on dataDir against the fake gateway.
func openDevice(t *testing.T, dataDir, gatewayURL string, online bool) (*services.Runtime, *services.TipService) {
	t.Helper()
	env := map[string]string{
		"TIPSYNC_DATA_DIR":       dataDir,
		"TIPSYNC_DEVICE_ID":      "device-1",
		"TIPSYNC_QUEUE_KEY":      "integration-secret",
		"TIPSYNC_SUBMIT_TIMEOUT": "2s",
		"MPESA_BASE_URL":         gatewayURL,
		"MPESA_CONSUMER_KEY":     "key",
		"MPESA_CONSUMER_SECRET":  "secret",
		"MPESA_SHORTCODE":        "174379",
		"MPESA_PASSKEY":          "passkey",
		"MPESA_CALLBACK_URL":     "https://example.test/api/payments/callback",
	}
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	rt, err := services.NewRuntime(cfg, services.RuntimeOptions{Online: online, DisableProbe: true})
	require.NoError(t, err)
	svc := services.NewTipService(rt)
	require.NoError(t, svc.PutWorker(context.Background(), &models.Worker{ID: "W1", Name: "Amina", Plan: models.PlanLite}))
	return rt, svc
}

func waitQueueEmpty(t *testing.T, rt *services.Runtime) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := rt.Queue.Size(context.Background())
		require.NoError(t, err)
		if n == 0 && !rt.Engine.Draining() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue still holds %d entries", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

var tipRequest = eligibility.TipRequest{WorkerID: "W1", Amount: 100, CustomerPhone: "0712345678"}

// TestOfflineTipDrainsOnReconnect tests the full offline flow: queue while
// offline, submit on reconnect, settle through the callback.
func TestOfflineTipDrainsOnReconnect(t *testing.T) {
	gw := &fakeGateway{}
	srv := gw.start(t)
	rt, svc := openDevice(t, t.TempDir(), srv.URL, false)
	defer rt.Close()
	ctx := context.Background()
	rt.Start(ctx)

	outcome, err := svc.SubmitTip(ctx, tipRequest)
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeQueued, outcome.Status)
	assert.Equal(t, "Tip queued, will retry when back online.", outcome.Message)
	assert.Empty(t, gw.pushes())

	svc.SetOnline(true)
	waitQueueEmpty(t, rt)

	assert.Equal(t, []string{outcome.IntentID}, gw.pushes())
	tips, err := svc.ListTips(ctx, "W1", "", 10)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, models.TipStatusPending, tips[0].Status)
	assert.Equal(t, int64(100), tips[0].Amount)
	assert.Equal(t, "254712345678", tips[0].CustomerPhone)

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"` + tips[0].TransactionID + `","ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":100},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`
	tr, err := svc.HandleCallback(ctx, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ResultApplied, tr.Result)
	assert.Equal(t, models.TipStatusCompleted, tr.Tip.Status)
}

// TestQueueSurvivesRestart tests entries written before a restart drain
// after it, and are sealed at rest.
func TestQueueSurvivesRestart(t *testing.T) {
	gw := &fakeGateway{}
	srv := gw.start(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	rt, svc := openDevice(t, dataDir, srv.URL, false)
	first, err := svc.SubmitTip(ctx, tipRequest)
	require.NoError(t, err)
	second, err := svc.SubmitTip(ctx, eligibility.TipRequest{WorkerID: "W1", Amount: 50, CustomerPhone: "+254712345678"})
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	raw, err := db.Open(dataDir)
	require.NoError(t, err)
	var stored string
	require.NoError(t, raw.QueryRow(`SELECT customer_phone FROM tip_queue WHERE id = ?`, first.IntentID).Scan(&stored))
	raw.Close()
	assert.NotContains(t, stored, "712345678")

	rt, svc = openDevice(t, dataDir, srv.URL, true)
	defer rt.Close()
	rt.Start(ctx)
	waitQueueEmpty(t, rt)

	assert.Equal(t, []string{first.IntentID, second.IntentID}, gw.pushes())
	tips, err := svc.ListTips(ctx, "W1", models.TipStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, tips, 2)
}

// TestGatewayOutageQueuesAndRetries tests a failing gateway while online
// queues the tip and a later retry submits it exactly once.
func TestGatewayOutageQueuesAndRetries(t *testing.T) {
	gw := &fakeGateway{}
	gw.down.Store(true)
	srv := gw.start(t)
	rt, svc := openDevice(t, t.TempDir(), srv.URL, true)
	defer rt.Close()
	ctx := context.Background()
	rt.Start(ctx)

	outcome, err := svc.SubmitTip(ctx, tipRequest)
	require.NoError(t, err)
	assert.Equal(t, sync.OutcomeQueued, outcome.Status)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, 1, outcome.Entry.Attempts)

	entry, err := rt.Queue.Get(ctx, outcome.IntentID)
	require.NoError(t, err)
	assert.Contains(t, entry.LastError, "503")

	gw.down.Store(false)
	svc.RetryNow()
	svc.RetryNow()
	waitQueueEmpty(t, rt)

	assert.Equal(t, []string{outcome.IntentID}, gw.pushes())
}

// TestManyOfflineTipsSubmitOnce tests concurrent offline submissions each
// reach the gateway exactly once.
func TestManyOfflineTipsSubmitOnce(t *testing.T) {
	gw := &fakeGateway{}
	srv := gw.start(t)
	rt, svc := openDevice(t, t.TempDir(), srv.URL, false)
	defer rt.Close()
	ctx := context.Background()
	rt.Start(ctx)

	const n = 20
	var wg stdsync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := svc.SubmitTip(ctx, eligibility.TipRequest{WorkerID: "W1", Amount: amount, CustomerPhone: "0712345678"})
			assert.NoError(t, err)
		}(int64(10 + i))
	}
	wg.Wait()

	svc.SetOnline(true)
	svc.RetryNow()
	waitQueueEmpty(t, rt)

	pushed := gw.pushes()
	assert.Len(t, pushed, n)
	seen := map[string]bool{}
	for _, ref := range pushed {
		assert.False(t, seen[ref], "duplicate submission %s", ref)
		seen[ref] = true
	}

	var count int
	require.NoError(t, rt.DB.QueryRow(`SELECT COUNT(*) FROM tips`).Scan(&count))
	assert.Equal(t, n, count)
}
