// Command weights ranks miners over the trailing results and prints the
// summary without submitting anything.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/tensorplex-labs/affine/internal/weights"
)

var tail = flag.Int("tail", 0, "results from the last N blocks (defaults to AFFINE_TAIL)")

func main() {
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}
	if *tail > 0 {
		cfg.Validator.Tail = *tail
	}

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

	v := validator.NewValidator(
		&cfg.Validator,
		cfg.Chain.Netuid,
		"",
		kami.NewDialer(&cfg.Kami),
		l,
		c,
		weights.NewEngine(envs.Names()),
		metrics.New(),
	)

	ranking, err := v.ComputeWeights(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to compute weights")
		os.Exit(1)
	}
	fmt.Println(ranking.Summary())
	fmt.Printf("winner uid=%d hotkey=%s\n", ranking.WinnerUID, ranking.Winner)
}
