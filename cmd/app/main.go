package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cardano-subscription-wallet/internal/address"
	"cardano-subscription-wallet/internal/config"
	"cardano-subscription-wallet/internal/domain/ports/repository"
	"cardano-subscription-wallet/internal/infra/api"
	"cardano-subscription-wallet/internal/infra/backend"
	"cardano-subscription-wallet/internal/infra/logging"
	"cardano-subscription-wallet/internal/infra/metrics"
	red "cardano-subscription-wallet/internal/infra/redis"
	"cardano-subscription-wallet/internal/infra/sched"
	"cardano-subscription-wallet/internal/infra/wallet"
	"cardano-subscription-wallet/internal/session"
	"cardano-subscription-wallet/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (in-memory credential cache, relaxed auth)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}
	metrics.Register()

	// ---- Credential cache (Redis, or in-memory in dev without a URL) ----
	var creds repository.CredentialCache
	if cfg.Redis.URL == "" && cfg.Runtime.Dev {
		creds = red.NewMemoryCredentialCache()
		logger.Warn().Msg("redis.url not set; using in-memory credential cache")
	} else {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		creds = red.NewCredentialCache(redisClient, cfg.Redis.KeyPrefix)
	}

	// ---- Adapters ----
	bridge := wallet.NewBridge(cfg.Wallet.BridgeURL, logger)
	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)

	// ---- Session + use cases ----
	sess := session.New(creds, logger)
	sess.Init()

	events := api.NewEventLog(0)
	negotiator := usecase.NewConnectionNegotiator(
		bridge, backendClient, sess, address.Resolve, events, logger, cfg.Session.ErrorWindow,
	)
	reconciler := usecase.NewSettlementReconciler(
		bridge, backendClient, sess, events, logger,
		cfg.Settlement.PollInterval, cfg.Settlement.PollDeadline, cfg.Session.NoticeWindow,
	)

	watchdog := sched.NewAccountWatchdog(
		bridge, sess, address.Resolve, negotiator, cfg.Session.WatchdogCadence, logger,
	)
	negotiator.SetWatcher(watchdog)

	// ---- Control API ----
	srv := api.NewServer(cfg, negotiator, reconciler, sess, events, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("control API stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	watchdog.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("control API shutdown")
	}
	cancel()
}
