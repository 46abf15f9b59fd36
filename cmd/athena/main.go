// Package main implements the athena CLI, a debugging assistant that learns
// from the fixes you confirm.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/athenaclew/athena/internal/analytics"
	"github.com/athenaclew/athena/internal/config"
	"github.com/athenaclew/athena/internal/knowledge"
	"github.com/athenaclew/athena/internal/llm"
	"github.com/athenaclew/athena/internal/logging"
	"github.com/athenaclew/athena/internal/pipeline"
	"github.com/athenaclew/athena/internal/session"
	"github.com/athenaclew/athena/internal/telemetry"
)

var (
	configPath string
	dbPath     string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "athena",
	Short: "A debugging assistant that learns from your fixes",
	Long: `athena analyzes errors, recognizes ones you have seen before, and ranks
the debugging principles it has learned from your past fixes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/athena/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(statsCmd)
}

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *knowledge.SQLiteStore
	sessions   *session.Manager
	orch       *pipeline.Orchestrator
	analytics  *analytics.Service
	metrics    *telemetry.Metrics
	metricsSrv *telemetry.Server
}

func newApp() (*app, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := knowledge.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	var analyzer llm.Analyzer
	var extractor llm.Extractor
	if cfg.LLM.Enabled {
		client, err := llm.NewClient(llm.Config{
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			APIKey:            cfg.LLM.APIKey,
			CallTimeout:       cfg.LLM.CallTimeout,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		}, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		analyzer = client
		extractor = client
	}

	metrics := telemetry.NewNop()
	var metricsSrv *telemetry.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.New(reg)
		metricsSrv = telemetry.NewServer(cfg.Metrics.Addr, reg, logger)
		go func() {
			if err := metricsSrv.Start(); err != nil {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
	}

	orch, err := pipeline.NewOrchestrator(store, analyzer, extractor, metrics, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	sessions, err := session.NewManager(store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	svc, err := analytics.NewService(store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		sessions:   sessions,
		orch:       orch,
		analytics:  svc,
		metrics:    metrics,
		metricsSrv: metricsSrv,
	}, nil
}

func (a *app) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("stopping metrics server failed", zap.Error(err))
		}
		cancel()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store failed", zap.Error(err))
	}
	_ = logging.Sync(a.logger)
}

// sessionFile remembers the CLI's session id between invocations.
func sessionFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "athena", "session"), nil
}

// currentSession resolves the persisted session, establishing a fresh one
// (with its default project) on first use.
func (a *app) currentSession(cmd *cobra.Command) (*knowledge.Session, error) {
	path, err := sessionFile()
	if err != nil {
		return nil, err
	}

	var storedID string
	if data, err := os.ReadFile(path); err == nil {
		storedID = strings.TrimSpace(string(data))
	}

	sess, err := a.sessions.GetOrCreate(cmd.Context(), storedID, "cli")
	if err != nil {
		return nil, err
	}
	if sess.ID != storedID {
		if err := os.WriteFile(path, []byte(sess.ID), 0600); err != nil {
			return nil, fmt.Errorf("persisting session id: %w", err)
		}
	}
	return sess, nil
}
