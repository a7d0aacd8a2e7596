package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tensorplex-labs/affine/internal/cache"
	"github.com/tensorplex-labs/affine/internal/config"
	"github.com/tensorplex-labs/affine/internal/env"
	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/ledger"
	"github.com/tensorplex-labs/affine/internal/metrics"
	"github.com/tensorplex-labs/affine/internal/utils/logger"
	"github.com/tensorplex-labs/affine/internal/validator"
	"github.com/tensorplex-labs/affine/internal/watchdog"
	"github.com/tensorplex-labs/affine/internal/weights"
)

type heartbeat struct {
	wd  *watchdog.Watchdog
	srv *metrics.Server
}

func (h heartbeat) Beat() {
	h.wd.Beat()
	h.srv.SetReady()
}

func main() {
	logger.Init()
	log.Info().Msg("Starting validator...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	k, err := kami.NewKami(&cfg.Kami)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init kami client")
	}
	keyring, err := k.GetKeyringPair(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get validator hotkey")
	}
	hotkey := keyring.KeyringPair.Address
	log.Info().Str("hotkey", hotkey).Msg("validator hotkey loaded")

	envs, err := env.NewRegistry(cfg.Dispatch.Envs...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build environments")
	}

	l, closeStore, err := ledger.Open(ctx, &cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer closeStore()

	c, err := cache.New(l.Store(), cfg.Cache.Dir, semaphore.NewWeighted(int64(cfg.Cache.Concurrency)))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache")
	}

	m := metrics.New()
	srv := metrics.NewServer(m)
	wd := watchdog.New(cfg.Validator.WatchdogTimeout, os.Exit)

	v := validator.NewValidator(
		&cfg.Validator,
		cfg.Chain.Netuid,
		hotkey,
		kami.NewDialer(&cfg.Kami),
		l,
		c,
		weights.NewEngine(envs.Names()),
		m,
	)
	v.Heartbeat = heartbeat{wd: wd, srv: srv}

	go wd.Run(ctx)
	go func() {
		if err := srv.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("validator exited")
	}
	log.Info().Msg("validator stopped")
}
