package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/tensorplex-labs/affine/internal/chutes"
	"github.com/tensorplex-labs/affine/internal/dispatch"
	"github.com/tensorplex-labs/affine/internal/env"
	"github.com/tensorplex-labs/affine/internal/kami"
	"github.com/tensorplex-labs/affine/internal/kami/kamitest"
	"github.com/tensorplex-labs/affine/internal/ledger"
	"github.com/tensorplex-labs/affine/internal/metrics"
	"github.com/tensorplex-labs/affine/internal/record"
	"github.com/tensorplex-labs/affine/pkg/signature"
)

const completion = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"x1=True"},"finish_reason":"stop"}]}`

type lookup map[string]*chutes.Chute

func (l lookup) GetChute(_ context.Context, id string) (*chutes.Chute, error) {
	if c, ok := l[id]; ok {
		return c, nil
	}
	return nil, chutes.ErrChuteNotFound
}

type beats struct{ n atomic.Int32 }

func (b *beats) Beat() { b.n.Add(1) }

type fixture struct {
	runner *Runner
	chain  *kamitest.Fake
	store  *ledger.MemoryStore
	signer *signature.Provider
	beats  *beats
	dials  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion))
	}))
	t.Cleanup(ts.Close)

	kp, err := sr25519.GenerateKeypair()
	require.NoError(t, err)
	signer, err := signature.NewProvider(kp)
	require.NoError(t, err)

	envs, err := env.NewRegistry("SAT")
	require.NoError(t, err)

	chain := &kamitest.Fake{
		Block:     105,
		Metagraph: kami.SubnetMetagraph{Hotkeys: []string{"hk0", "hk1"}},
		Commitments: map[string][]kami.Commitment{
			"hk0": {{Block: 50, Data: `{"model":"org/affine-a","revision":"r1","chute_id":"c0"}`}},
			"hk1": {{Block: 60, Data: `{"model":"org/other","revision":"r1","chute_id":"c0"}`}},
		},
	}

	f := &fixture{chain: chain, store: ledger.NewMemoryStore(), signer: signer, beats: &beats{}}
	f.runner = &Runner{
		Netuid: 120,
		Dial:   chain.Dialer(&f.dials),
		Chutes: lookup{"c0": {Slug: "slug-0"}},
		Envs:   envs,
		Dispatcher: dispatch.New(dispatch.Config{
			BaseURL: ts.URL + "/v1",
			Timeout: 5 * time.Second,
		}, semaphore.NewWeighted(4), envs),
		Ledger:    ledger.New(f.store, 20, "affine/"),
		Signer:    signer,
		Metrics:   metrics.New(),
		Heartbeat: f.beats,
		Cooldown:  time.Millisecond,
	}
	return f
}

func TestStepWritesSignedResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.runner.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.runner.Ledger.ShardKey(105, f.signer.Address()), key)
	assert.Equal(t, int32(1), f.beats.n.Load())

	obj, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	var results []*record.Result
	require.NoError(t, sonic.Unmarshal(obj.Body, &results))
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, res.Verify())
	assert.Equal(t, "hk0", res.Miner.Hotkey)
	assert.Equal(t, "slug-0", res.Miner.Endpoint)
	assert.Equal(t, 50, res.Miner.Block)
	assert.Equal(t, "SAT", res.Challenge.Env)
	assert.True(t, res.Response.Success)

	index, err := f.runner.Ledger.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, index)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.runner.Metrics.QueryCount.WithLabelValues("org/affine-a")))
}

func TestStepWithoutMinersWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.chain.Commitments = nil

	key, err := f.runner.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, f.store.Keys())
}

func TestRunRedialsAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.FailBlocks = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.store.Keys()) > 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, f.dials, 2)
}
