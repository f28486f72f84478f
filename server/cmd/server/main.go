package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ccxuy/easyrun/server/internal/agentchannel"
	"github.com/ccxuy/easyrun/server/internal/api"
	"github.com/ccxuy/easyrun/server/internal/dispatch"
	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/server/internal/localexec"
	"github.com/ccxuy/easyrun/server/internal/logbuf"
	"github.com/ccxuy/easyrun/server/internal/planrunner"
	"github.com/ccxuy/easyrun/server/internal/planstore"
	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/server/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr       string
	dbDriver       string
	dbDSN          string
	logLevel       string
	authToken      string
	taskRunnerPath string
	taskfile       string
	plansDir       string
	poolSize       int
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
		Use:   "easyrun-server",
		Short: "easyrun server — distributed task execution control plane",
		Long: `easyrun server is the central component of the task execution control plane.
It exposes a REST API and an agent push channel, and owns job dispatch,
the local executor pool, and the plan runner.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", httpAddrDefault(), "HTTP API listen address (or set EZ_HTTP_PORT/HTTP_PORT)")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("EASYRUN_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", dbDSNDefault(), "Database DSN or file path for SQLite (or set EZ_DB_PATH/DB_PATH)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("EASYRUN_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.authToken, "auth-token", authTokenDefault(), "Shared bearer token required on every API request, empty disables auth (or set EZ_SERVER_TOKEN/SERVER_TOKEN)")
	root.PersistentFlags().StringVar(&cfg.taskRunnerPath, "task-runner", envOrDefault("EASYRUN_TASK_RUNNER", "task"), "Path to the task-runner binary invoked by the local executor and plan runner")
	root.PersistentFlags().StringVar(&cfg.taskfile, "taskfile", envOrDefault("EASYRUN_TASKFILE", "Taskfile.yml"), "Taskfile passed to the task-runner binary")
	root.PersistentFlags().StringVar(&cfg.plansDir, "plans-dir", envOrDefault("EASYRUN_PLANS_DIR", ""), "Directory of plan YAML documents (empty disables plan execution)")
	root.PersistentFlags().IntVar(&cfg.poolSize, "pool-size", 0, "Local executor worker pool size (0 selects runtime.NumCPU(), floored at 4)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("easyrun-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting easyrun server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Database & Store ---
	gormDB, err := store.New(store.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	st, err := store.Open(gormDB, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	// --- 2. Event Bus ---
	bus := eventbus.New()
	go bus.Run(ctx)

	// --- 3. Node Registry & liveness sweeper ---
	reg := registry.New(st, bus, logger)
	sweeper, err := registry.NewSweeper(reg, logger)
	if err != nil {
		return fmt.Errorf("failed to create liveness sweeper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start liveness sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			logger.Warn("sweeper shutdown error", zap.Error(err))
		}
	}()

	// --- 4. Local Executor ---
	logs := logbuf.NewRegistry()
	execCfg := localexec.Config{TaskRunnerPath: cfg.taskRunnerPath, Taskfile: cfg.taskfile}
	executor := localexec.New(execCfg, st, bus, logs, cfg.poolSize, logger)
	go executor.Run(ctx)

	// --- 5. Dispatcher ---
	dispatcher := dispatch.New(reg, executor, logger)

	// --- 6. Agent Protocol ---
	agentHandler := agentchannel.NewHandler(reg, st, bus, logs, logger)

	// --- 7. Plan Runner & Plan Store ---
	plans, err := planstore.Load(cfg.plansDir)
	if err != nil {
		return fmt.Errorf("failed to load plan definitions: %w", err)
	}
	runner := planrunner.New(execCfg, st, bus, logs, logger)

	// --- 8. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Store:      st,
		Bus:        bus,
		Registry:   reg,
		Dispatcher: dispatcher,
		Logs:       logs,
		Plans:      plans,
		Runner:     runner,
		Agents:     agentHandler,
		AuthToken:  cfg.authToken,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down easyrun server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("easyrun server stopped")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
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

// envOrDefaultMulti checks each key in order and returns the first non-empty
// value, or "" if none are set. Used for the original Python server's
// env var names (EZ_* and their bare aliases), tried ahead of this port's
// own EASYRUN_*-prefixed fallback.
func envOrDefaultMulti(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// ezRoot mirrors the original server's EZ_ROOT: a base directory other
// defaults (notably the database path) are resolved against when not
// overridden directly.
func ezRoot() string {
	if v := os.Getenv("EZ_ROOT"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func httpAddrDefault() string {
	if p := envOrDefaultMulti("EZ_HTTP_PORT", "HTTP_PORT"); p != "" {
		return ":" + p
	}
	return envOrDefault("EASYRUN_HTTP_ADDR", ":8080")
}

func dbDSNDefault() string {
	if v := envOrDefaultMulti("EZ_DB_PATH", "DB_PATH"); v != "" {
		return v
	}
	if v := os.Getenv("EASYRUN_DB_DSN"); v != "" {
		return v
	}
	return filepath.Join(ezRoot(), ".ez-server", "ez.db")
}

func authTokenDefault() string {
	if v := envOrDefaultMulti("EZ_SERVER_TOKEN", "SERVER_TOKEN"); v != "" {
		return v
	}
	return envOrDefault("EASYRUN_AUTH_TOKEN", "")
}
