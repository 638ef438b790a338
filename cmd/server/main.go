/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the coinage server: virtual-currency ledger,
  streak tracking, reward engine and the admin configuration workflow.

STARTUP SEQUENCE:
  1. Parse flags and load YAML configuration
  2. Configure structured logging
  3. Initialize the SQLite store
  4. Wire the API handler and sweep scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config; ":memory:" works)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close the database

EXAMPLES:
  ./server -config=coinage.yaml
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/coinage/api"
	"github.com/warp/coinage/config"
	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("bad timezone", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	handler := api.NewHandler(store, loc, cfg.GraceDays, cfg.RepeatCooldown)

	if cfg.SeedExamples {
		if err := rewards.SeedExamples(context.Background(), handler.Catalog); err != nil {
			logger.Error("failed to seed example rewards", "error", err)
			os.Exit(1)
		}
		logger.Info("example rewards seeded")
	}

	sweeper := api.NewSweepScheduler(store, handler.Tracker, loc)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Logger = logger
	handler.Sweeper = sweeper
	sweeper.Start()
	defer sweeper.Stop()

	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
