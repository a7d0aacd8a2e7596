package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tensorplex-labs/affine/internal/chutes"
	"github.com/tensorplex-labs/affine/internal/config"
	"github.com/tensorplex-labs/affine/internal/dispatch"
	"github.com/tensorplex-labs/affine/internal/env"
	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/ledger"
	"github.com/tensorplex-labs/affine/internal/metrics"
	"github.com/tensorplex-labs/affine/internal/runner"
	"github.com/tensorplex-labs/affine/internal/utils/logger"
	"github.com/tensorplex-labs/affine/internal/watchdog"
	"github.com/tensorplex-labs/affine/pkg/signature"
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
	log.Info().Msg("Starting runner...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}
	if cfg.Chutes.APIKey == "" {
		log.Fatal().Msg("CHUTES_API_KEY is required")
	}

	kp, err := signature.LoadKeypairFromHotkey(cfg.Wallet.BittensorDir, cfg.Wallet.WalletColdkey, cfg.Wallet.WalletHotkey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load wallet hotkey")
	}
	signer, err := signature.NewProvider(kp)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init signer")
	}

	l, closeStore, err := ledger.Open(ctx, &cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer closeStore()

	envs, err := env.NewRegistry(cfg.Dispatch.Envs...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build environments")
	}

	m := metrics.New()
	srv := metrics.NewServer(m)
	wd := watchdog.New(cfg.Validator.WatchdogTimeout, os.Exit)

	r := &runner.Runner{
		Netuid: cfg.Chain.Netuid,
		Dial:   kami.NewDialer(&cfg.Kami),
		Chutes: chutes.NewClient(cfg.Chutes.APIURL, cfg.Chutes.APIKey),
		Envs:   envs,
		Dispatcher: dispatch.New(dispatch.Config{
			BaseURL: cfg.Dispatch.BaseURL,
			APIKey:  cfg.Chutes.APIKey,
			Timeout: cfg.Dispatch.Timeout,
			Retries: cfg.Dispatch.Retries,
			Backoff: cfg.Dispatch.Backoff,
		}, semaphore.NewWeighted(int64(cfg.Dispatch.Concurrency)), envs),
		Ledger:    l,
		Signer:    signer,
		Metrics:   m,
		Heartbeat: heartbeat{wd: wd, srv: srv},
		Cooldown:  cfg.Validator.Cooldown,
	}

	go wd.Run(ctx)
	go func() {
		if err := srv.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	log.Info().Str("hotkey", signer.Address()).Strs("envs", envs.Names()).Msg("runner started")
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("runner exited")
	}
	log.Info().Msg("runner stopped")
}
