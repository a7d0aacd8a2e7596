// Package validator implements the weight-setting loop: keep the local shard
// cache warm, and every tempo blocks rank miners over the trailing results and
// submit winner-take-all weights.
package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/cache"
	"github.com/tensorplex-labs/affine/internal/config"
	"github.com/tensorplex-labs/affine/internal/dataset"
	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/ledger"
	"github.com/tensorplex-labs/affine/internal/metrics"
	"github.com/tensorplex-labs/affine/internal/scheduler"
	"github.com/tensorplex-labs/affine/internal/weights"
)

// Beater receives a heartbeat once per iteration.
type Beater interface {
	Beat()
}

// Validator ranks miners from the ledger and submits weights on chain.
type Validator struct {
	Netuid int
	// Hotkey is the validator's own hotkey, used to confirm submissions.
	Hotkey     string
	VersionKey int

	Dial      kami.Dialer
	Cache     *cache.Cache
	Dataset   *dataset.Dataset
	Engine    *weights.Engine
	Metrics   *metrics.Metrics
	Heartbeat Beater

	Config *config.ValidatorEnvConfig

	chain kami.Chain
	sleep func(ctx context.Context, d time.Duration) error
}

// NewValidator wires a Validator over the ledger and local cache. The dataset
// reads the chain head through the validator's current chain handle.
func NewValidator(
	cfg *config.ValidatorEnvConfig,
	netuid int,
	hotkey string,
	dial kami.Dialer,
	l *ledger.Ledger,
	c *cache.Cache,
	engine *weights.Engine,
	m *metrics.Metrics,
) *Validator {
	if m == nil {
		m = metrics.New()
	}
	v := &Validator{
		Netuid:  netuid,
		Hotkey:  hotkey,
		Dial:    dial,
		Cache:   c,
		Engine:  engine,
		Metrics: m,
		Config:  cfg,
		sleep:   sleepCtx,
	}
	v.Dataset = dataset.New(l, c, v, 0)
	return v
}

// CurrentBlock reads the head through the current chain handle.
func (v *Validator) CurrentBlock(ctx context.Context) (int, error) {
	chain, err := v.ensureChain(ctx)
	if err != nil {
		return 0, err
	}
	block, err := chain.CurrentBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("current block: %w", err)
	}
	return block, nil
}

// Run loops until ctx is done. Failed iterations drop the chain handle and
// retry after the cooldown.
func (v *Validator) Run(ctx context.Context) error {
	callback := scheduler.NewBlockCallback(v.Config.Tempo, v.setWeights)

	for {
		if v.Heartbeat != nil {
			v.Heartbeat.Beat()
		}
		if err := v.step(ctx, callback); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Dur("cooldown", v.Config.Cooldown).Msg("validator iteration failed, continuing")
			v.chain = nil
			if err := v.sleep(ctx, v.Config.Cooldown); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (v *Validator) step(ctx context.Context, callback scheduler.CallbackHandler) error {
	block, err := v.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	if !callback.ShouldTrigger(block) {
		log.Info().
			Int("block", block).
			Int("tempo", v.Config.Tempo).
			Msg("prefetching until next weight submission")
		v.prefetch(ctx, block)
		return v.waitForBlock(ctx, block+1)
	}

	return callback.Execute(ctx, block)
}

// prefetch warms the cache for the trailing tail. Failures are logged; the
// next weight computation fetches whatever is still missing.
func (v *Validator) prefetch(ctx context.Context, block int) {
	keys, err := v.Dataset.Keys(ctx, v.Config.Tail)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve shard keys for prefetch")
		return
	}
	if err := v.Cache.Prefetch(ctx, keys); err != nil {
		log.Warn().Err(err).Int("shards", len(keys)).Msg("prefetch incomplete")
	}
	if _, err := v.Cache.Prune(block, v.Config.Tail); err != nil {
		log.Warn().Err(err).Msg("failed to prune cache")
	}
}

// waitForBlock polls until the head reaches target.
func (v *Validator) waitForBlock(ctx context.Context, target int) error {
	for {
		block, err := v.CurrentBlock(ctx)
		if err != nil {
			return err
		}
		if block >= target {
			return nil
		}
		if err := v.sleep(ctx, v.Config.BlockPoll); err != nil {
			return err
		}
	}
}

func (v *Validator) ensureChain(ctx context.Context) (kami.Chain, error) {
	if v.chain != nil {
		return v.chain, nil
	}
	chain, err := v.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}
	v.chain = chain
	return chain, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
