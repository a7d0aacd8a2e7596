// Package miners resolves the set of queryable miners from the chain
// metagraph, their latest revealed commitments and endpoint metadata.
package miners

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tensorplex-labs/affine/internal/chutes"
	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/record"
	"github.com/tensorplex-labs/affine/internal/weights"
)

// ChuteLookup resolves endpoint metadata for a chute id.
type ChuteLookup interface {
	GetChute(ctx context.Context, id string) (*chutes.Chute, error)
}

// Commit is the JSON payload miners reveal on chain.
type Commit struct {
	Model    string `json:"model"`
	Revision string `json:"revision"`
	ChuteID  string `json:"chute_id"`
}

const lookupConcurrency = 16

// Discover returns the miners keyed by uid. Hotkeys without a commitment,
// with an unparseable payload, a failed endpoint lookup, a non-matching model
// name or a revision mismatch are left out.
func Discover(
	ctx context.Context,
	meta *kami.SubnetMetagraph,
	commits map[string][]kami.Commitment,
	lookup ChuteLookup,
) (map[int]record.Miner, error) {
	var (
		mu  sync.Mutex
		out = make(map[int]record.Miner)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for uid, hotkey := range meta.Hotkeys {
		history := commits[hotkey]
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]

		g.Go(func() error {
			m, ok := resolve(gctx, uid, hotkey, latest, lookup)
			if !ok {
				return nil
			}
			mu.Lock()
			out[uid] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debug().Int("hotkeys", len(meta.Hotkeys)).Int("miners", len(out)).Msg("discovered miners")
	return out, nil
}

func resolve(ctx context.Context, uid int, hotkey string, c kami.Commitment, lookup ChuteLookup) (record.Miner, bool) {
	var commit Commit
	if err := sonic.UnmarshalString(c.Data, &commit); err != nil {
		log.Debug().Err(err).Int("uid", uid).Msg("skipping unparseable commitment")
		return record.Miner{}, false
	}
	if !weights.ModelMatches(commit.Model) {
		return record.Miner{}, false
	}

	chute, err := lookup.GetChute(ctx, commit.ChuteID)
	if err != nil {
		log.Debug().Err(err).Int("uid", uid).Str("chute_id", commit.ChuteID).Msg("skipping miner without endpoint")
		return record.Miner{}, false
	}
	if chute.Revision != nil && *chute.Revision != commit.Revision {
		log.Debug().
			Int("uid", uid).
			Str("committed", commit.Revision).
			Str("deployed", *chute.Revision).
			Msg("skipping miner with revision mismatch")
		return record.Miner{}, false
	}

	return record.Miner{
		UID:      uid,
		Hotkey:   hotkey,
		Model:    commit.Model,
		Revision: commit.Revision,
		Block:    c.Block,
		Endpoint: chute.Slug,
	}, true
}

// Sorted returns the miners ordered by uid.
func Sorted(m map[int]record.Miner) []record.Miner {
	out := make([]record.Miner, 0, len(m))
	for uid := 0; len(out) < len(m); uid++ {
		if miner, ok := m[uid]; ok {
			out = append(out, miner)
		}
	}
	return out
}
