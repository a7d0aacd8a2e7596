// Package dataset streams verified Results out of the ledger for a trailing
// block window.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/cache"
	"github.com/tensorplex-labs/affine/internal/ledger"
	"github.com/tensorplex-labs/affine/internal/record"
)

// Stats summarizes one pass over a Stream.
type Stats struct {
	Shards       int
	FailedShards int
	Yielded      int
	Skipped      int
}

// Dataset resolves shard keys and hands out Streams over them.
type Dataset struct {
	ledger *ledger.Ledger
	cache  *cache.Cache
	blocks ledger.BlockSource
	ahead  int
}

// New returns a Dataset that keeps up to ahead shard fetches in flight.
func New(l *ledger.Ledger, c *cache.Cache, blocks ledger.BlockSource, ahead int) *Dataset {
	if ahead <= 0 {
		ahead = cache.DefaultConcurrency
	}
	return &Dataset{ledger: l, cache: c, blocks: blocks, ahead: ahead}
}

// Keys resolves the shard keys covering the last tail blocks.
func (d *Dataset) Keys(ctx context.Context, tail int) ([]string, error) {
	block, err := d.blocks.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("current block: %w", err)
	}
	keys, err := d.ledger.ShardKeys(ctx, block, tail)
	if err != nil {
		return nil, fmt.Errorf("resolve shard keys: %w", err)
	}
	return keys, nil
}

// Stream resolves the shard set for the last tail blocks. The set is fixed for
// the life of the returned Stream.
func (d *Dataset) Stream(ctx context.Context, tail int) (*Stream, error) {
	keys, err := d.Keys(ctx, tail)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("shards", len(keys)).Int("tail", tail).Msg("resolved dataset shards")
	return &Stream{keys: keys, cache: d.cache, ahead: d.ahead}, nil
}

// Stream is a finite, ordered sequence of verified Results. Each call to All
// starts an independent pass.
type Stream struct {
	keys  []string
	cache *cache.Cache
	ahead int

	mu    sync.Mutex
	stats Stats
}

func (s *Stream) Keys() []string { return s.keys }

// Stats reports the most recently finished pass.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type fetched struct {
	path string
	err  error
}

// All yields Results shard by shard in key order and line by line in file
// order. Lines that fail to decode or verify are skipped and counted.
func (s *Stream) All(ctx context.Context) iter.Seq[*record.Result] {
	return func(yield func(*record.Result) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stats := Stats{Shards: len(s.keys)}
		defer func() {
			s.mu.Lock()
			s.stats = stats
			s.mu.Unlock()
		}()

		pending := make([]chan fetched, len(s.keys))
		next := 0
		launch := func() {
			i := next
			next++
			ch := make(chan fetched, 1)
			pending[i] = ch
			go func() {
				p, err := s.cache.Fetch(ctx, s.keys[i])
				ch <- fetched{path: p, err: err}
			}()
		}
		for next < len(s.keys) && next < s.ahead {
			launch()
		}

		for i, key := range s.keys {
			var f fetched
			select {
			case <-ctx.Done():
				return
			case f = <-pending[i]:
			}
			if next < len(s.keys) {
				launch()
			}

			if f.err != nil {
				stats.FailedShards++
				log.Warn().Err(f.err).Str("key", key).Msg("skipping shard that failed to fetch")
				continue
			}
			if !readShard(f.path, &stats, yield) {
				return
			}
		}

		log.Debug().
			Int("shards", stats.Shards).
			Int("failed_shards", stats.FailedShards).
			Int("yielded", stats.Yielded).
			Int("skipped", stats.Skipped).
			Msg("dataset pass complete")
	}
}

func readShard(path string, stats *Stats, yield func(*record.Result) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		stats.FailedShards++
		log.Warn().Err(err).Str("path", path).Msg("failed to open cached shard")
		return true
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			res, perr := record.ParseVerified(line)
			if perr != nil {
				stats.Skipped++
				log.Trace().Err(perr).Str("path", path).Msg("skipping ledger line")
			} else {
				stats.Yielded++
				if !yield(res) {
					return false
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed reading cached shard")
			return true
		}
	}
}
