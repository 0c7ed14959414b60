// Command pipectl runs the API server, cron scheduler and job executor
// in one process, with one signal handler driving graceful shutdown
// across all three.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/api"
	"github.com/pipectl/pipectl/internal/auth"
	"github.com/pipectl/pipectl/internal/config"
	"github.com/pipectl/pipectl/internal/cron"
	"github.com/pipectl/pipectl/internal/doppler"
	"github.com/pipectl/pipectl/internal/events"
	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/gitflow"
	"github.com/pipectl/pipectl/internal/logging"
	"github.com/pipectl/pipectl/internal/models"
	"github.com/pipectl/pipectl/internal/observability"
	"github.com/pipectl/pipectl/internal/registry"
	"github.com/pipectl/pipectl/internal/retry"
	"github.com/pipectl/pipectl/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    "pipectl",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.Init(ctx, observability.Config{
		ServiceName: "pipectl",
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
	})
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	st, err := postgres.New(dsn)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()
	logger.Info("postgres connected")

	bus := events.New()

	execOpts := executor.Options{
		DefaultMaxRetries:     cfg.DefaultMaxRetries,
		DefaultMaxConcurrent:  cfg.MaxConcurrent,
		DefaultHandlerTimeout: time.Duration(cfg.PythonPipelineTimeoutMs) * time.Millisecond,
		DBSaveInterval:        time.Duration(cfg.DatabaseSaveIntervalMs) * time.Millisecond,
	}

	reg := registry.New(nil)
	retryEngine := retry.New(nil, bus, cfg.MaxAbsoluteAttempts)
	ex := executor.New(st, reg, retryEngine, bus, nil, execOpts)
	retryEngine.SetRequeuer(ex)

	var gitManager *gitflow.Manager
	if cfg.GitOwner != "" && cfg.GitRepo != "" {
		gitManager, err = gitflow.New(gitflow.Config{
			RepoPath:     cfg.GitRepoPath,
			BaseBranch:   cfg.GitBaseBranch,
			BranchPrefix: cfg.GitBranchPrefix,
			RemoteName:   cfg.GitRemoteName,
			Owner:        cfg.GitOwner,
			Repo:         cfg.GitRepo,
			Token:        cfg.GitToken,
			AuthorName:   cfg.GitAuthorName,
			AuthorEmail:  cfg.GitAuthorEmail,
			DryRun:       cfg.GitDryRun,
		})
		if err != nil {
			logger.Warn("gitflow manager disabled", zap.Error(err))
		} else {
			ex = executor.New(st, reg, retryEngine, bus, gitManager, execOpts)
			retryEngine.SetRequeuer(ex)
		}
	}

	registerBuiltinPipelines(reg)

	sched := cron.New(ex, cfg.Location(), logger)
	for _, pr := range reg.List() {
		if pr.CronExpr == "" {
			continue
		}
		if err := sched.Schedule(pr.ID, pr.CronExpr, pr.DefaultPayload); err != nil {
			logger.Error("cron schedule failed", zap.String("pipeline", pr.ID), zap.Error(err))
		}
	}
	sched.Start()
	defer sched.Stop()

	monitor := doppler.New(cfg.DopplerCachePath, doppler.DefaultInterval, bus, logger)
	monitor.Start()
	defer monitor.Stop()

	server := api.NewServer(api.Config{
		Port:       cfg.APIPort,
		Executor:   ex,
		Registry:   reg,
		Bus:        bus,
		Logger:     logger,
		AuthShared: auth.NewSharedKeyAuthenticator(cfg.APIKey),
		Tracing:    cfg.TracingEnabled,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()
	logger.Info("pipectl started", zap.String("port", cfg.APIPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", zap.Error(err))
	}
	ex.Shutdown(shutdownCtx)
	cancel()
	logger.Info("pipectl shutdown complete")
}

// registerBuiltinPipelines registers the pipelines this process knows
// about before the scheduler and API start. Real deployments replace or
// extend this with their own pipeline handlers wired the same way.
func registerBuiltinPipelines(reg *registry.Registry) {
	healthcheck := models.WorkerFunc(func(rt models.RunContext, job *models.Job) (models.JSONMap, error) {
		rt.SetProgress(100, "ok")
		return models.JSONMap{"ok": true}, nil
	})
	_ = reg.Register(models.PipelineRegistration{
		ID:            "healthcheck",
		Name:          "Health Check",
		Handler:       healthcheck,
		MaxConcurrent: 1,
	})
}
