// Package main provides the device-local tip server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/tipsync/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/tipsync/backend/internal/config"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/services"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	rt, err := services.NewRuntime(cfg, services.RuntimeOptions{Online: true})
	if err != nil {
		logging.Error("Failed to initialize runtime", err, nil)
		os.Exit(1)
	}
	defer rt.Close()

	hub := NewWSHub()
	defer hub.Close()

	svc := services.NewTipService(rt)
	svc.SetEventCallbacks(hub.BroadcastEngineEvent, hub.BroadcastSettlement)
	rt.Start(ctx)

	server := &http.Server{
		Addr:              cfg.DesktopAddr,
		Handler:           newRouter(svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Desktop server starting", map[string]interface{}{
			"addr":    cfg.DesktopAddr,
			"version": Version,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Desktop server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Desktop server shutdown failed", err, nil)
	}
	logging.Info("Desktop server stopped", nil)
}

// newRouter wires the REST and WebSocket routes.
func newRouter(svc *services.TipService, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"tipsync-desktop"}`))
	})

	handlers.NewTipHandler(svc).RegisterRoutes(r)
	handlers.NewQueueHandler(svc).RegisterRoutes(r)
	r.Get("/ws", HandleWebSocket(hub))

	return r
}
