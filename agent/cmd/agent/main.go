// Package main is the entry point for the easyrun-agent binary.
// It wires all internal packages together and starts the connection loop.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build executor (job queue + task-runner spawner)
//  4. Build connection manager (agent channel WebSocket client)
//  5. Start executor worker and connection loop
//  6. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/agent/internal/connection"
	"github.com/ccxuy/easyrun/agent/internal/executor"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	serverAddr     string
	authToken      string
	stateDir       string
	taskRunnerPath string
	taskfile       string
	logLevel       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "easyrun-agent",
		Short: "easyrun agent — remote node for the task execution control plane",
		Long: `easyrun agent runs on each node the control plane can dispatch work to.
It connects to the easyrun server over a persistent WebSocket channel,
receives task assignments, and executes them using the task-runner binary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.serverAddr, "server-addr", envOrDefault("EASYRUN_SERVER", "http://localhost:8080"), "easyrun server base address")
	root.PersistentFlags().StringVar(&cfg.authToken, "auth-token", envOrDefault("EASYRUN_AUTH_TOKEN", ""), "Shared bearer token for the job-result HTTP endpoint (must match the server's --auth-token)")
	root.PersistentFlags().StringVar(&cfg.stateDir, "state-dir", envOrDefault("EASYRUN_STATE_DIR", defaultStateDir()), "Directory for agent state (agent-state.json)")
	root.PersistentFlags().StringVar(&cfg.taskRunnerPath, "task-runner", envOrDefault("EASYRUN_TASK_RUNNER", "task"), "Path to the task-runner binary")
	root.PersistentFlags().StringVar(&cfg.taskfile, "taskfile", envOrDefault("EASYRUN_TASKFILE", "Taskfile.yml"), "Taskfile passed to the task-runner binary")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("EASYRUN_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("easyrun-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.authToken == "" {
		logger.Warn("auth-token not configured — job results are posted without a bearer token (set EASYRUN_AUTH_TOKEN if the server requires one)")
	}

	logger.Info("starting easyrun agent",
		zap.String("version", version),
		zap.String("server", cfg.serverAddr),
		zap.String("state_dir", cfg.stateDir),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Executor ---
	execCfg := executor.Config{TaskRunnerPath: cfg.taskRunnerPath, Taskfile: cfg.taskfile}
	exec := executor.New(execCfg, logger)

	// --- Connection manager ---
	connCfg := connection.Config{
		ServerAddr: cfg.serverAddr,
		AuthToken:  cfg.authToken,
		StateDir:   cfg.stateDir,
		Version:    version,
	}
	mgr := connection.New(connCfg, exec, logger)

	// --- Start ---
	// The executor worker and connection manager run concurrently. Both
	// respect ctx cancellation for graceful shutdown.
	go exec.Run(ctx, mgr, mgr)

	// Run blocks until ctx is cancelled (SIGINT/SIGTERM).
	mgr.Run(ctx)

	logger.Info("easyrun agent stopped")
	return nil
}

// defaultStateDir returns the default state directory: ~/.easyrun on every
// platform, or .easyrun relative to the working directory when the home
// directory cannot be determined.
func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.easyrun"
	}
	return ".easyrun"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
