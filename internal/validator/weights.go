package validator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/metrics"
	chainutils "github.com/tensorplex-labs/affine/internal/utils/chain_utils"
	"github.com/tensorplex-labs/affine/internal/weights"
)

// ComputeWeights prunes the cache, streams the trailing results and ranks the
// registered miners. Metrics are updated from the ranking.
func (v *Validator) ComputeWeights(ctx context.Context) (*weights.Ranking, error) {
	block, err := v.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}
	if removed, err := v.Cache.Prune(block, v.Config.Tail); err != nil {
		log.Warn().Err(err).Msg("failed to prune cache")
	} else {
		log.Info().Int("removed", removed).Int("from", block-v.Config.Tail).Int("to", block).Msg("pruned cache")
	}

	meta, err := v.chain.GetMetagraph(ctx, v.Netuid)
	if err != nil {
		return nil, fmt.Errorf("get metagraph: %w", err)
	}

	stream, err := v.Dataset.Stream(ctx, v.Config.Tail)
	if err != nil {
		return nil, err
	}
	ranking, err := v.Engine.Compute(stream.All(ctx), meta.Hotkeys)
	stats := stream.Stats()
	v.Metrics.NResults.Set(float64(stats.Yielded))
	v.Metrics.Shards.WithLabelValues("read").Add(float64(stats.Shards))
	v.Metrics.Shards.WithLabelValues("failed").Add(float64(stats.FailedShards))
	log.Info().
		Int("shards", stats.Shards).
		Int("failed_shards", stats.FailedShards).
		Int("results", stats.Yielded).
		Int("skipped", stats.Skipped).
		Msg("collected results")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.publish(ranking)
	log.Info().Msg("validator summary\n" + ranking.Summary())
	return ranking, nil
}

func (v *Validator) publish(r *weights.Ranking) {
	for env, best := range r.MaxAccuracy {
		v.Metrics.MaxEnv.WithLabelValues(env).Set(best)
	}
	for uid, hk := range r.Hotkeys {
		w := 0.0
		if uid == r.WinnerUID {
			w = 1
		}
		v.Metrics.Weight.WithLabelValues(metrics.UID(uid)).Set(w)
		for _, env := range r.Envs {
			if acc := r.Accuracy[hk][env]; acc > 0 {
				v.Metrics.Score.WithLabelValues(metrics.UID(uid), env).Set(acc)
				v.Metrics.Rank.WithLabelValues(metrics.UID(uid), env).Set(float64(r.Ranks[hk][env]))
			}
		}
	}
}

// setWeights is the tempo callback.
func (v *Validator) setWeights(ctx context.Context, block int) error {
	ranking, err := v.ComputeWeights(ctx)
	if err != nil {
		return fmt.Errorf("compute weights at block %d: %w", block, err)
	}
	if err := v.SubmitWeights(ctx, ranking); err != nil {
		return err
	}
	if size, err := v.Cache.Size(); err == nil {
		v.Metrics.CacheBytes.Set(float64(size))
	}
	return nil
}

// SubmitWeights sends the ranking's weight vector and waits one block to
// confirm the validator's last_update advanced. Up to SetWeightsRetries
// submissions are made.
func (v *Validator) SubmitWeights(ctx context.Context, r *weights.Ranking) error {
	uids, ws := r.Weights()
	dests, values, err := chainutils.ToU16(uids, ws)
	if err != nil {
		return fmt.Errorf("convert weights: %w", err)
	}
	if len(dests) == 0 {
		return fmt.Errorf("no weights to submit")
	}

	attempts := max(v.Config.SetWeightsRetries, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		confirmed, err := v.submitOnce(ctx, kami.SetWeightsParams{
			Netuid:     v.Netuid,
			Dests:      dests,
			Weights:    values,
			VersionKey: v.VersionKey,
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("error while setting weights, retrying")
			v.chain = nil
			continue
		}
		if confirmed {
			v.Metrics.LastSet.SetToCurrentTime()
			log.Info().Ints("uids", dests).Ints("weights", values).Msg("weights are on chain")
			return nil
		}
		log.Warn().Int("attempt", attempt).Int("of", attempts).Msg("weights not confirmed, retrying")
	}
	return fmt.Errorf("weights not confirmed after %d attempts", attempts)
}

func (v *Validator) submitOnce(ctx context.Context, params kami.SetWeightsParams) (bool, error) {
	chain, err := v.ensureChain(ctx)
	if err != nil {
		return false, err
	}
	block, err := chain.CurrentBlock(ctx)
	if err != nil {
		return false, fmt.Errorf("current block: %w", err)
	}
	hash, err := chain.SetWeights(ctx, params)
	if err != nil {
		return false, fmt.Errorf("set weights: %w", err)
	}
	log.Info().Str("extrinsic", hash).Int("block", block).Msg("submitted weights, waiting one block")

	if err := v.waitForBlock(ctx, block+1); err != nil {
		return false, err
	}
	meta, err := chain.GetMetagraph(ctx, v.Netuid)
	if err != nil {
		return false, fmt.Errorf("get metagraph: %w", err)
	}
	uid := meta.UID(v.Hotkey)
	if uid < 0 || uid >= len(meta.LastUpdate) {
		return false, fmt.Errorf("validator hotkey %s not registered on netuid %d", v.Hotkey, v.Netuid)
	}
	return meta.LastUpdate[uid] >= block, nil
}
