// Package main provides the entry point for the flexible voting pool daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flexible-voting/internal/collector"
	"flexible-voting/internal/config"
	"flexible-voting/internal/engine"
	"flexible-voting/internal/logger"
	"flexible-voting/internal/metrics"
	"flexible-voting/internal/store"
	"flexible-voting/internal/tui"

	dbpkg "flexible-voting/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// If debug logs are enabled, write them to file to avoid interfering with TUI
	var logWriter io.Writer = os.Stderr
	if cfg.Debug {
		logFile, err := os.OpenFile("poold.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			defer logFile.Close()
			logWriter = logFile
			fmt.Fprintf(os.Stderr, "Debug logs written to poold.log\n")
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs will go to stderr (may interfere with TUI): %v\n", err)
		}
	}

	log := logger.NewWithWriter(cfg.Debug, logWriter)

	fmt.Printf("Flexible voting pool starting...\n")
	fmt.Printf("Config loaded: %s\n", cfg.DebugString())
	fmt.Printf("Loading...\n")

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if gormDB != nil {
		log.Printf("DB connected")

		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("Migrations applied")
	} else {
		log.Printf("DATABASE_URL not provided – persistence disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("Metrics listening on %s", cfg.MetricsAddr)
	}

	eng, err := engine.New(cfg.EngineSettings(), log.WithField("module", "engine"), m)
	if err != nil {
		log.Fatalf("failed to init engine: %v", err)
	}

	// Create channel for TUI updates (TUI is always enabled)
	tuiUpdateCh := make(chan interface{}, collector.TUIChannelBufferSize)
	// Start TUI in a goroutine
	go func() {
		if err := tui.Run(tuiUpdateCh); err != nil {
			log.Printf("TUI error: %v", err)
		}
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	coll, err := collector.NewCollector(cfg, store.New(gormDB), eng, tuiUpdateCh, log)
	if err != nil {
		log.Printf("failed to init collector: %v", err)
		return
	}

	height, err := coll.Replay(ctx)
	if err != nil {
		log.Fatalf("failed to replay event log: %v", err)
	}
	log.Printf("State restored at height %d", height)

	go func() {
		if err := coll.Run(ctx); err != nil {
			log.Printf("collector stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	// Close collector first (this will stop all goroutines and connections)
	if err := coll.Close(); err != nil {
		log.Printf("close error: %v", err)
	}

	// Close TUI update channel to stop sending updates
	close(tuiUpdateCh)
	// Give TUI a moment to process the close and quit
	time.Sleep(collector.TUICloseDelay)

	// Ensure logs flushed in some environments
	_ = os.Stderr.Sync()
	_ = os.Stdout.Sync()
}
