// Package runner implements the result-producing loop: discover miners,
// challenge them in every enabled environment and persist signed results.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/dispatch"
	"github.com/tensorplex-labs/affine/internal/env"
	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/ledger"
	"github.com/tensorplex-labs/affine/internal/metrics"
	"github.com/tensorplex-labs/affine/internal/miners"
	"github.com/tensorplex-labs/affine/internal/record"
	"github.com/tensorplex-labs/affine/pkg/signature"
)

// DefaultCooldown is the pause after a failed iteration.
const DefaultCooldown = 10 * time.Second

// Beater receives a heartbeat once per iteration.
type Beater interface {
	Beat()
}

type Runner struct {
	Netuid     int
	Dial       kami.Dialer
	Chutes     miners.ChuteLookup
	Envs       env.Registry
	Dispatcher *dispatch.Dispatcher
	Ledger     *ledger.Ledger
	Signer     signature.Signer
	Metrics    *metrics.Metrics
	Heartbeat  Beater
	Cooldown   time.Duration

	chain kami.Chain
}

// Step runs one iteration and returns the shard key written, which is empty
// when no results were produced.
func (r *Runner) Step(ctx context.Context) (string, error) {
	chain, err := r.ensureChain(ctx)
	if err != nil {
		return "", err
	}

	meta, err := chain.GetMetagraph(ctx, r.Netuid)
	if err != nil {
		return "", fmt.Errorf("get metagraph: %w", err)
	}
	block, err := chain.CurrentBlock(ctx)
	if err != nil {
		return "", fmt.Errorf("current block: %w", err)
	}
	if r.Heartbeat != nil {
		r.Heartbeat.Beat()
	}

	commits, err := chain.GetRevealedCommitments(ctx, r.Netuid)
	if err != nil {
		return "", fmt.Errorf("get commitments: %w", err)
	}
	found, err := miners.Discover(ctx, meta, commits, r.Chutes)
	if err != nil {
		return "", fmt.Errorf("discover miners: %w", err)
	}

	challenges := make([]*record.Challenge, 0, len(r.Envs))
	for _, name := range r.Envs.Names() {
		e, err := r.Envs.Get(name)
		if err != nil {
			return "", err
		}
		c, err := e.Generate(ctx)
		if err != nil {
			return "", fmt.Errorf("generate %s challenge: %w", name, err)
		}
		challenges = append(challenges, c)
	}

	results := r.Dispatcher.Run(ctx, challenges, miners.Sorted(found))
	if r.Metrics != nil {
		for _, res := range results {
			r.Metrics.QueryCount.WithLabelValues(res.Miner.Model).Inc()
		}
	}

	key, err := ledger.NewSink(r.Ledger, r.Signer, chain).Write(ctx, block, results)
	if err != nil {
		return "", fmt.Errorf("sink results: %w", err)
	}
	log.Info().
		Int("block", block).
		Int("miners", len(found)).
		Int("challenges", len(challenges)).
		Int("results", len(results)).
		Str("key", key).
		Msg("runner iteration complete")
	return key, nil
}

// Run loops until ctx is done. Failed iterations drop the chain handle and
// retry after the cooldown.
func (r *Runner) Run(ctx context.Context) error {
	cooldown := r.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	for {
		if _, err := r.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Dur("cooldown", cooldown).Msg("runner iteration failed, continuing")
			r.chain = nil
			if err := sleep(ctx, cooldown); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *Runner) ensureChain(ctx context.Context) (kami.Chain, error) {
	if r.chain != nil {
		return r.chain, nil
	}
	chain, err := r.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}
	r.chain = chain
	return chain, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
