package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomengine/loom/internal/api"
	"github.com/loomengine/loom/internal/config"
	"github.com/loomengine/loom/internal/engine"
)

// activeEngineHolder satisfies api.EngineSource with an atomically swapped
// pointer, since loom only ever plays one engine per process.
type activeEngineHolder struct {
	ptr atomic.Pointer[engine.Engine]
}

func (h *activeEngineHolder) ActiveEngine() *engine.Engine { return h.ptr.Load() }

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the debug HTTP surface (health + stats only)",
	Long:  "Starts an unauthenticated local HTTP server exposing /healthz and /stats. It plays no session of its own, so /stats reports that no session is active.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	holder := &activeEngineHolder{}
	handler := api.NewHandler(holder, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go func() {
		slog.Info("debug server starting", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}
