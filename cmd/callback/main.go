// Package main provides the inbound endpoint for gateway payment callbacks.
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

	"github.com/kimhsiao/tipsync/backend/internal/config"
	"github.com/kimhsiao/tipsync/backend/internal/db"
	"github.com/kimhsiao/tipsync/backend/internal/lifecycle"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	database, err := db.OpenMigrated(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, map[string]interface{}{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer database.Close()

	settler := lifecycle.New(db.NewTipRepository(database.DB))

	server := &http.Server{
		Addr:              cfg.CallbackAddr,
		Handler:           newRouter(settler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Callback server starting", map[string]interface{}{"addr": cfg.CallbackAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Callback server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Callback server shutdown failed", err, nil)
	}
	logging.Info("Callback server stopped", nil)
}

func newRouter(settler Settler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	NewCallbackHandler(settler).RegisterRoutes(r)
	return r
}
