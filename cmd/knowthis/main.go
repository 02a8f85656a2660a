// Command knowthis is the CLI surface pinned by spec §6.4: a single binary
// with a subcommand that selects a mode.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"knowthis/internal/app"
	"knowthis/internal/config"
	"knowthis/internal/ingestion"
	"knowthis/internal/logging"
	"knowthis/internal/middleware"
	"knowthis/internal/search"
)

const stateFilePath = "data/ingestion_state.json"

// exit codes (spec §6.4): 0 success, 1 configuration error, 2 fatal runtime error.
const (
	exitOK     = 0
	exitConfig = 1
	exitFatal  = 2
)

// configError marks a startup configuration failure so main can distinguish
// exit code 1 from the generic fatal-runtime-error exit code 2.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func newConfigError(err error) error { return &configError{err: err} }

func main() {
	logging.SetupLogger()

	root := &cobra.Command{
		Use:           "knowthis",
		Short:         "chat-history ingestion and semantic search service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newIngestionCmd(), newServeCmd(), newSearchOnceCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfig)
		}
		os.Exit(exitFatal)
	}
	os.Exit(exitOK)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, newConfigError(err)
	}
	return cfg, nil
}

// newIngestionCmd runs only the ingestion scheduler and worker: no request
// server (spec §6.4: "ingestion (run worker only)").
func newIngestionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingestion",
		Short: "run the ingestion scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			b, err := app.Build(ctx, cfg, stateFilePath)
			if err != nil {
				return fmt.Errorf("build service bundle: %w", err)
			}

			scheduler := newScheduler(b, cfg)
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("start ingestion scheduler: %w", err)
			}
			defer scheduler.Stop()

			waitForShutdown(ctx, cancel)
			return nil
		},
	}
}

// newServeCmd runs the worker, scheduler, and the JSON-RPC HTTP server
// together (spec §6.4: "serve (request server + worker)").
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the request server and ingestion scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			b, err := app.Build(ctx, cfg, stateFilePath)
			if err != nil {
				return fmt.Errorf("build service bundle: %w", err)
			}

			scheduler := newScheduler(b, cfg)
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("start ingestion scheduler: %w", err)
			}
			defer scheduler.Stop()

			rpcSrv, sessions, err := app.NewRPCServer(b)
			if err != nil {
				return fmt.Errorf("build request server: %w", err)
			}
			defer sessions.Close()

			router := rpcSrv.Router()
			webhookRouter := router.PathPrefix("/webhook").Subrouter()
			webhookRouter.Use(middleware.WebhookRateLimitMiddleware())
			webhookRouter.HandleFunc("/canvas-update", app.NewWebhookHandler(b).HandleCanvasUpdate).Methods("POST")

			httpSrv := &http.Server{
				Addr:         cfg.ListenAddr,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				slog.Info("request server starting", "addr", cfg.ListenAddr)
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("request server failed", "error", err)
				}
			}()

			waitForShutdown(ctx, cancel)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
}

// newSearchOnceCmd runs one search and prints the JSON response, without
// starting any background scheduler (spec §6.4: "search-once <query>
// (one-shot diagnostic)").
func newSearchOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search-once <query>",
		Short: "run a single search and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := app.Build(ctx, cfg, stateFilePath)
			if err != nil {
				return fmt.Errorf("build service bundle: %w", err)
			}

			resp, err := b.Search.Search(ctx, args[0], search.Overrides{})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}

func newScheduler(b *app.Bundle, cfg *config.Config) *ingestion.Scheduler {
	return ingestion.NewScheduler(b.Worker, cfg.ChatChannels, cfg.RefreshIntervalHours)
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()
}
