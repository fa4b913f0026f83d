package main

import (
	"context"
	"encoding/json"
	stdsync "sync"

	"github.com/kimhsiao/tipsync/backend/internal/config"
	"github.com/kimhsiao/tipsync/backend/internal/eligibility"
	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/services"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
)

var (
	mu      stdsync.RWMutex
	core    *services.Runtime
	service *services.TipService
	cancel  context.CancelFunc

	lastErr string
	lastMu  stdsync.RWMutex
)

// openBridge starts the runtime. The platform reports connectivity through
// setNetwork; the prober stays off on mobile. gw is nil outside tests.
func openBridge(dataDir string, gw gateway.Gateway) error {
	mu.Lock()
	defer mu.Unlock()
	if core != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	rt, err := services.NewRuntime(cfg, services.RuntimeOptions{Gateway: gw, DisableProbe: true})
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	core = rt
	service = services.NewTipService(rt)
	cancel = stop
	rt.Start(ctx)
	return nil
}

func closeBridge() error {
	mu.Lock()
	defer mu.Unlock()
	if core == nil {
		return nil
	}
	cancel()
	err := core.Close()
	core, service, cancel = nil, nil, nil
	return err
}

func active() (*services.TipService, error) {
	mu.RLock()
	defer mu.RUnlock()
	if service == nil {
		return nil, errors.New(errors.ErrInternal, "core not initialized")
	}
	return service, nil
}

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	if err == nil {
		lastErr = ""
		return
	}
	lastErr = err.Error()
}

func getLastError() string {
	lastMu.RLock()
	defer lastMu.RUnlock()
	return lastErr
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(errors.ErrInternal, "failed to serialize", err)
	}
	return string(data), nil
}

func submitTip(workerID, phone string, amount int64) (string, error) {
	svc, err := active()
	if err != nil {
		return "", err
	}
	outcome, err := svc.SubmitTip(context.Background(), eligibility.TipRequest{
		WorkerID:      workerID,
		Amount:        amount,
		CustomerPhone: phone,
	})
	if err != nil {
		return "", err
	}
	return marshal(outcome)
}

func listTips(workerID, status string, limit int) (string, error) {
	svc, err := active()
	if err != nil {
		return "", err
	}
	tips, err := svc.ListTips(context.Background(), workerID, models.TipStatus(status), limit)
	if err != nil {
		return "", err
	}
	if tips == nil {
		tips = []*models.Tip{}
	}
	return marshal(map[string]interface{}{"items": tips, "total": len(tips)})
}

func listQueue() (string, error) {
	svc, err := active()
	if err != nil {
		return "", err
	}
	entries, err := svc.QueueEntries(context.Background())
	if err != nil {
		return "", err
	}
	if entries == nil {
		entries = []*models.QueueEntry{}
	}
	return marshal(map[string]interface{}{"items": entries, "total": len(entries)})
}

func removeQueueEntry(id string) error {
	svc, err := active()
	if err != nil {
		return err
	}
	return svc.RemoveQueueEntry(context.Background(), id)
}

func setNetwork(online bool) error {
	svc, err := active()
	if err != nil {
		return err
	}
	svc.SetOnline(online)
	return nil
}

func putWorker(raw string) error {
	svc, err := active()
	if err != nil {
		return err
	}
	var w models.Worker
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return errors.Validation("invalid worker: %v", err)
	}
	return svc.PutWorker(context.Background(), &w)
}

func applySettlement(body string) (string, error) {
	svc, err := active()
	if err != nil {
		return "", err
	}
	t, err := svc.HandleCallback(context.Background(), []byte(body))
	if err != nil {
		return "", err
	}
	return marshal(t)
}

func syncStatus() (string, error) {
	svc, err := active()
	if err != nil {
		return "", err
	}
	status, err := svc.Status(context.Background())
	if err != nil {
		return "", err
	}
	return marshal(status)
}
