package scheduler

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NewBlockCallback creates a new BlockCallback that triggers every N blocks
func NewBlockCallback(interval int, execute func(ctx context.Context, block int) error) *BlockCallback {
	return &BlockCallback{
		LastTriggerAtBlock: -1,
		interval:           max(interval, 1),
		executeFn:          execute,
	}
}

// ShouldTrigger checks if the callback should trigger based on block interval and missed blocks
func (bc *BlockCallback) ShouldTrigger(block int) bool {
	// first trigger waits for an interval boundary, then stays due until it succeeds
	if bc.LastTriggerAtBlock <= 0 {
		return bc.pending || block%bc.interval == 0
	}
	return block-bc.LastTriggerAtBlock >= bc.interval
}

// Execute runs the callback. Failed executions leave LastTriggerAtBlock
// untouched so the next block retries.
func (bc *BlockCallback) Execute(ctx context.Context, block int) error {
	if err := bc.executeFn(ctx, block); err != nil {
		bc.pending = bc.LastTriggerAtBlock <= 0
		return err
	}
	bc.pending = false
	bc.LastTriggerAtBlock = block
	log.Debug().Str("callback", bc.GetName()).Int("block", block).Msg("block callback executed")
	return nil
}

// GetName returns the callback name
func (bc *BlockCallback) GetName() string {
	return InferNameFromFunc(bc.executeFn)
}
