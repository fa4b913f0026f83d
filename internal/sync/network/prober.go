package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/logging"
)

// Prober feeds a Monitor from periodic HEAD requests against a
// reachability URL. Any HTTP response counts as online.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration
	timeout  time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// ProberConfig holds prober configuration.
type ProberConfig struct {
	URL      string
	Interval time.Duration // default 15s
	Timeout  time.Duration // per probe, default 5s
	Client   *http.Client
}

// NewProber creates a Prober for monitor.
func NewProber(monitor *Monitor, cfg ProberConfig) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Prober{
		monitor:  monitor,
		client:   cfg.Client,
		url:      cfg.URL,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

// Probe performs one reachability check, updates the monitor and returns
// the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = true
		}
	}
	if err != nil {
		logging.Debug("Reachability probe failed", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
	}

	p.monitor.Set(online)
	return online
}

// Start probes immediately and then on every interval until Stop. A
// stopped Prober can be started again.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	stop := make(chan struct{})
	p.stopCh = stop
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx, stop)

	logging.Info("Reachability prober started", map[string]interface{}{
		"url":      p.url,
		"interval": p.interval.String(),
	})
}

// Stop stops the prober and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	stop := p.stopCh
	p.mu.Unlock()

	close(stop)
	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
