// Package kamitest provides an in-memory chain for loop tests.
package kamitest

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/tensorplex-labs/affine/internal/kami"
)

var ErrInjected = errors.New("injected chain failure")

// Fake is an in-memory kami.Chain. Each CurrentBlock call advances the head by
// Step blocks. SetWeights stamps LastUpdate for SignerHotkey at the current
// head unless DropWeights is set.
type Fake struct {
	mu sync.Mutex

	Block        int
	Step         int
	Metagraph    kami.SubnetMetagraph
	Commitments  map[string][]kami.Commitment
	SignerHotkey string
	DropWeights  int
	FailBlocks   int

	Submitted []kami.SetWeightsParams
}

var _ kami.Chain = (*Fake)(nil)

// Dialer returns a kami.Dialer that always yields f and counts dials.
func (f *Fake) Dialer(dials *int) kami.Dialer {
	return func(context.Context) (kami.Chain, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if dials != nil {
			*dials++
		}
		return f, nil
	}
}

func (f *Fake) CurrentBlock(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.FailBlocks > 0 {
		f.FailBlocks--
		return 0, ErrInjected
	}
	b := f.Block
	f.Block += f.Step
	return b, nil
}

func (f *Fake) GetMetagraph(_ context.Context, netuid int) (*kami.SubnetMetagraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.Metagraph
	m.Netuid = netuid
	m.Block = f.Block
	m.Hotkeys = slices.Clone(f.Metagraph.Hotkeys)
	m.LastUpdate = slices.Clone(f.Metagraph.LastUpdate)
	return &m, nil
}

func (f *Fake) GetRevealedCommitments(context.Context, int) (map[string][]kami.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Commitments, nil
}

func (f *Fake) SetWeights(_ context.Context, params kami.SetWeightsParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Submitted = append(f.Submitted, params)
	if f.DropWeights > 0 {
		f.DropWeights--
		return "0xdropped", nil
	}
	if uid := f.Metagraph.UID(f.SignerHotkey); uid >= 0 {
		for len(f.Metagraph.LastUpdate) <= uid {
			f.Metagraph.LastUpdate = append(f.Metagraph.LastUpdate, 0)
		}
		f.Metagraph.LastUpdate[uid] = f.Block
	}
	return "0xhash", nil
}

// Submissions returns a copy of every SetWeights call so far.
func (f *Fake) Submissions() []kami.SetWeightsParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Submitted)
}
