// instagov - risk-governed session management for account automation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/instagov/internal/auth"
	"github.com/jeranaias/instagov/internal/client"
	"github.com/jeranaias/instagov/internal/config"
	"github.com/jeranaias/instagov/internal/health"
	"github.com/jeranaias/instagov/internal/journal"
	"github.com/jeranaias/instagov/internal/risk"
	"github.com/jeranaias/instagov/internal/security"
	"github.com/jeranaias/instagov/internal/server"
	"github.com/jeranaias/instagov/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: <data dir>/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("instagov %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "instagov: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}

	// Encryption key and cipher for the session store.
	storePath := cfg.SessionStorePath(dataDir)
	_, statErr := os.Stat(storePath)
	key, err := security.LoadOrCreateKey(cfg.KeyFilePath(dataDir), statErr == nil, logger)
	if err != nil {
		return err
	}
	defer security.ZeroBytes(key)

	cipher, err := security.NewCipher(key)
	if err != nil {
		return err
	}

	// Durable action journal, feeding the governor's recorder hook.
	jnl, err := journal.Open(cfg.JournalPath(dataDir), logger)
	if err != nil {
		return err
	}
	defer jnl.Close()

	governor := risk.NewGovernor(cfg.RiskSettingsPath(dataDir),
		risk.WithLogger(logger),
		risk.WithRecorder(jnl.Recorder()))

	if cfg.Risk.WatchSettings {
		watcher, err := risk.NewSettingsWatcher(governor, 0, logger)
		if err != nil {
			logger.Warn("settings watcher unavailable", zap.Error(err))
		} else {
			if err := watcher.Watch(); err != nil {
				logger.Warn("failed to start settings watcher", zap.Error(err))
			}
			defer watcher.Close()
		}
	}

	backend := client.New(cfg.Backend.BaseURL,
		client.WithLogger(logger),
		client.WithRateLimit(cfg.Backend.RequestsPerSecond, cfg.Backend.Burst))

	sessions := store.New(storePath, cipher,
		store.WithTTL(time.Duration(cfg.Store.TTLDays)*24*time.Hour),
		store.WithSweepInterval(time.Duration(cfg.Store.SweepIntervalHours)*time.Hour),
		store.WithLiveness(backend),
		store.WithLogger(logger))
	defer sessions.Close()

	orchestrator := auth.New(governor, backend, sessions, logger)

	monitor := health.NewMonitor(health.WithLogger(logger))
	monitor.RecordMetric("sessions.active", float64(len(sessions.GetAll())))

	srv := server.New(cfg.Server.Addr, orchestrator, governor, sessions, monitor, logger)

	logger.Info("instagov started",
		zap.String("version", Version),
		zap.String("data_dir", dataDir),
		zap.String("admin_addr", cfg.Server.Addr),
		zap.Int("sessions", len(sessions.GetAll())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("instagov shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	// Without an explicit path, try <data dir>/config.toml via the default
	// data dir; a missing file yields the defaults.
	cfg := config.Default()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	return config.Load(filepath.Join(dataDir, "config.toml"))
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
