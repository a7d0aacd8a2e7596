package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/affine/internal/record"
	"github.com/tensorplex-labs/affine/pkg/signature"
)

// BlockSource reports the current chain height.
type BlockSource interface {
	CurrentBlock(ctx context.Context) (int, error)
}

// Sink signs results and appends them to the signer's shard for a window.
// Calls for the same signer and window must not overlap.
type Sink struct {
	ledger *Ledger
	signer signature.Signer
	blocks BlockSource
}

func NewSink(l *Ledger, signer signature.Signer, blocks BlockSource) *Sink {
	return &Sink{ledger: l, signer: signer, blocks: blocks}
}

// WriteCurrent persists results under the window of the current block.
func (s *Sink) WriteCurrent(ctx context.Context, results []*record.Result) (string, error) {
	if s.blocks == nil {
		return "", fmt.Errorf("no block source configured")
	}
	block, err := s.blocks.CurrentBlock(ctx)
	if err != nil {
		return "", fmt.Errorf("current block: %w", err)
	}
	return s.Write(ctx, block, results)
}

// Write signs results and merges them into the shard for block. It returns the
// shard key, or an empty key when there was nothing to write.
func (s *Sink) Write(ctx context.Context, block int, results []*record.Result) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	payload := make([]json.RawMessage, 0, len(results))
	for _, r := range results {
		if err := r.Sign(s.signer); err != nil {
			return "", err
		}
		b, err := sonic.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		payload = append(payload, b)
	}

	key := s.ledger.ShardKey(block, s.signer.Address())

	var existing []json.RawMessage
	obj, err := s.ledger.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("get shard %s: %w", key, err)
	default:
		if err := sonic.Unmarshal(obj.Body, &existing); err != nil {
			return "", fmt.Errorf("decode shard %s: %w", key, err)
		}
	}

	merged := append(existing, payload...)
	body, err := sonic.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode shard: %w", err)
	}
	if err := s.ledger.store.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("put shard %s: %w", key, err)
	}

	if len(existing) == 0 {
		if err := s.ledger.UpdateIndex(ctx, key); err != nil {
			return key, err
		}
	}

	log.Info().
		Str("key", key).
		Int("appended", len(payload)).
		Int("total", len(merged)).
		Msg("results written to ledger")
	return key, nil
}
