package services

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/kimhsiao/tipsync/backend/internal/config"
	"github.com/kimhsiao/tipsync/backend/internal/crypto"
	"github.com/kimhsiao/tipsync/backend/internal/db"
	"github.com/kimhsiao/tipsync/backend/internal/eligibility"
	"github.com/kimhsiao/tipsync/backend/internal/lifecycle"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/sync"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
	"github.com/kimhsiao/tipsync/backend/internal/sync/network"
	"github.com/kimhsiao/tipsync/backend/internal/sync/queue"
	"github.com/kimhsiao/tipsync/backend/internal/sync/scheduler"
)

// RuntimeOptions overrides parts of the runtime, mostly for tests and for
// platforms that report connectivity themselves.
type RuntimeOptions struct {
	// Gateway replaces the STK client built from the configuration.
	Gateway gateway.Gateway
	// Online is the initial connectivity state.
	Online bool
	// DisableProbe turns off the reachability prober. Platform glue then
	// reports connectivity through ReportConnectivity. Without it the
	// prober runs until the first platform report.
	DisableProbe bool
}

// Runtime owns every long-lived component of a device.
type Runtime struct {
	Config    *config.Config
	DB        *db.DB
	Queue     *queue.Queue
	Tips      *db.TipRepository
	Workers   *db.WorkerCache
	Monitor   *network.Monitor
	Prober    *network.Prober
	Gateway   gateway.Gateway
	Engine    *sync.Engine
	Scheduler *scheduler.Scheduler
	Lifecycle *lifecycle.Lifecycle
	Checker   *eligibility.Checker

	mu      stdsync.Mutex
	started bool
}

// NewRuntime opens the data directory and wires the components. Nothing
// runs in the background until Start.
func NewRuntime(cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	if err := cfg.EnsureDeviceID(); err != nil {
		return nil, err
	}

	gw := opts.Gateway
	if gw == nil {
		client, err := gateway.NewSTKClient(cfg.Gateway())
		if err != nil {
			return nil, err
		}
		gw = client
	}

	var sealer *crypto.Sealer
	if cfg.QueueKey != "" {
		s, err := crypto.NewSealer(cfg.QueueKey, cfg.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to create queue sealer: %w", err)
		}
		sealer = s
	}

	database, err := db.OpenMigrated(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	netOpts := cfg.Network()
	netOpts.Initial = opts.Online
	monitor := network.NewMonitor(netOpts)

	r := &Runtime{
		Config:  cfg,
		DB:      database,
		Queue:   queue.New(database.DB, queue.Options{Sealer: sealer}),
		Tips:    db.NewTipRepository(database.DB),
		Workers: db.NewWorkerCache(database.DB),
		Monitor: monitor,
		Gateway: gw,
	}
	r.Engine = sync.NewEngine(gw, r.Queue, r.Tips, monitor, cfg.Engine())
	r.Scheduler = scheduler.NewScheduler(r.Engine, r.Queue, monitor, cfg.Scheduler())
	r.Lifecycle = lifecycle.New(r.Tips)
	r.Checker = eligibility.NewChecker(r.Workers, cfg.Eligibility())
	if !opts.DisableProbe && cfg.ProbeURL != "" {
		r.Prober = network.NewProber(monitor, network.ProberConfig{
			URL:      cfg.ProbeURL,
			Interval: cfg.ProbeInterval,
		})
	}

	return r, nil
}

// Start starts the engine, scheduler and prober.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.Engine.Start(ctx)
	r.Scheduler.Start(ctx)
	if r.Prober != nil {
		r.Prober.Start(ctx)
	}

	logging.Info("Runtime started", map[string]interface{}{
		"data_dir":  r.Config.DataDir,
		"device_id": r.Config.DeviceID,
		"online":    r.Monitor.Online(),
	})
}

// ReportConnectivity records a connectivity report from platform glue. The
// first report stops the reachability prober so the two never disagree;
// the platform is the only source from then on.
func (r *Runtime) ReportConnectivity(online bool) {
	r.mu.Lock()
	prober := r.Prober
	r.Prober = nil
	r.mu.Unlock()

	if prober != nil {
		prober.Stop()
		logging.Info("Platform reports connectivity, reachability prober stopped", nil)
	}
	r.Monitor.Set(online)
}

// Close stops background work and closes the database.
func (r *Runtime) Close() error {
	r.mu.Lock()
	started := r.started
	r.started = false
	prober := r.Prober
	r.mu.Unlock()

	if started {
		if prober != nil {
			prober.Stop()
		}
		r.Scheduler.Stop()
		r.Engine.Stop()
	}
	r.Monitor.Close()
	return r.DB.Close()
}
