package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kasouyosou/internal/auth"
	"kasouyosou/internal/bot"
	"kasouyosou/internal/cache"
	"kasouyosou/internal/config"
	cronrunner "kasouyosou/internal/cron"
	"kasouyosou/internal/handlers"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/pricefeed"
	"kasouyosou/internal/service"
	"kasouyosou/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	envOnly := flag.Bool("env-only", false, "read configuration from the environment only")
	issueToken := flag.String("issue-admin-token", "", "print an admin token for the given subject and exit")
	createAI := flag.String("create-ai-user", "", "create an AI user with the given name, print its uid and exit")
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

	jwtAuth := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL}
	if *issueToken != "" {
		token, exp, err := jwtAuth.SignAdmin(*issueToken)
		if err != nil {
			log.Fatal("issue_admin_token_failed", zap.Error(err))
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", exp.Format(time.RFC3339))
		return
	}

	store, err := storage.OpenWithTimeout(cfg.DB.Path, cfg.DB.BusyTimeout)
	if err != nil {
		log.Fatal("db_open_failed", zap.String("path", cfg.DB.Path), zap.Error(err))
	}
	defer store.Close()

	rules := service.RulesFromConfig(cfg.Game)
	users := service.NewUserService(store, rules, log)

	if *createAI != "" {
		u, err := users.Create(context.Background(), service.NewUser{Name: *createAI, IsAI: true}, time.Now())
		if err != nil {
			log.Fatal("create_ai_user_failed", zap.String("name", *createAI), zap.Error(err))
		}
		fmt.Println(u.UID)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candleCache := cache.New(cfg.Cache)
	if c, ok := candleCache.(io.Closer); ok {
		defer c.Close()
	}
	var feed pricefeed.Feed = pricefeed.NewBinanceClient(cfg.Feed, log)
	if cfg.Cache.Enabled {
		feed = pricefeed.NewCachedFeed(feed, candleCache, cfg.Cache.TTL, log)
	}

	resolver, err := service.NewResolver(feed, rules)
	if err != nil {
		log.Fatal("resolver_init_failed", zap.Error(err))
	}
	rounds := service.NewRoundService(store, feed, rules, log)
	settlement := service.NewSettlementService(store, resolver, rules, log)
	predictions := service.NewPredictionService(store, rules, log)
	leaderboard := service.NewLeaderboardService(store)

	if cfg.Telegram.Enabled {
		tg, err := bot.New(cfg.Telegram, bot.Services{
			Users:       users,
			Rounds:      rounds,
			Predictions: predictions,
			Leaderboard: leaderboard,
			Stake:       rules.Stake,
		}, log)
		if err != nil {
			log.Fatal("telegram_init_failed", zap.Error(err))
		}
		notifier := service.NewNotificationServiceWithBot(tg.Telebot(), cfg.Telegram.ChannelID, log)
		rounds.SetNotifier(notifier)
		settlement.SetNotifier(notifier)

		go tg.Start()
		defer tg.Stop()
	}

	runner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		worker := service.NewRoundWorker(rounds, settlement, runner, log)
		if err := worker.Schedule(ctx, cfg.Cron.CreateRound, cfg.Cron.SettleRounds); err != nil {
			log.Fatal("cron_schedule_failed", zap.Error(err))
		}
		runner.Start()
		defer runner.Stop()
	}

	router := handlers.NewRouter(handlers.Deps{
		DB:          store.DB(),
		Users:       users,
		Rounds:      rounds,
		Settlement:  settlement,
		Predictions: predictions,
		Leaderboard: leaderboard,
		JWT:         jwtAuth,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})
	if !jwtAuth.Enabled() {
		log.Warn("admin_auth_disabled", zap.String("hint", "set auth.jwt_secret to protect round creation and settlement"))
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http_server_started", zap.String("addr", cfg.Server.HTTPAddr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", zap.Error(err))
	}
}
