package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kasouyosou/internal/aiworker"
	"kasouyosou/internal/config"
	cronrunner "kasouyosou/internal/cron"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/pricefeed"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	envOnly := flag.Bool("env-only", false, "read configuration from the environment only")
	dryRun := flag.Bool("dry-run", false, "predict without submitting")
	loop := flag.Bool("loop", false, "keep running on the cron.ai_worker schedule")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if len(cfg.AIWorker.Users) == 0 {
		log.Warn("ai_worker_no_users", zap.String("hint", "set ai_worker.users or KY_AI_WORKER_USERS_JSON"))
	}

	worker := aiworker.New(
		aiworker.NewAPIClient(cfg.AIWorker),
		pricefeed.NewBinanceClient(cfg.Feed, log),
		aiworker.Options{
			Symbol:    cfg.Game.Symbol,
			Timeframe: cfg.Game.Timeframe,
			ModelDir:  cfg.AIWorker.ModelDir,
			Lookback:  cfg.AIWorker.Lookback,
			Users:     cfg.AIWorker.Users,
			DryRun:    *dryRun,
		},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := func(ctx context.Context) error {
		report, err := worker.Run(ctx)
		if err != nil {
			log.Error("ai_worker_run_failed", zap.Error(err))
			return err
		}
		return report.Render(os.Stdout)
	}

	if !*loop {
		if err := run(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	runner := cronrunner.New(log, ctx)
	if _, err := runner.Add(cfg.Cron.AIWorker, func(ctx context.Context) { _ = run(ctx) }); err != nil {
		log.Fatal("cron_schedule_failed", zap.String("spec", cfg.Cron.AIWorker), zap.Error(err))
	}
	runner.Start()
	log.Info("ai_worker_scheduled", zap.String("spec", cfg.Cron.AIWorker))

	<-ctx.Done()
	runner.Stop()
	log.Info("ai_worker_stopped")
}
