package weights

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/affine/internal/record"
)

func res(hk, env string, score float64, block int, rev string) *record.Result {
	return &record.Result{
		Miner:      record.Miner{Hotkey: hk, Model: "org/Affine-" + hk, Revision: rev, Block: block},
		Challenge:  record.Challenge{Env: env, Prompt: "p"},
		Evaluation: record.Evaluation{Env: env, Score: score},
	}
}

func TestDenseRank(t *testing.T) {
	assert.Equal(t, []int{1, 1, 2}, DenseRank([]float64{0.9, 0.9, 0.5}))
	assert.Equal(t, []int{1, 2, 3}, DenseRank([]float64{0.9, 0.8, 0.5}))
	assert.Equal(t, []int{2, 1, 2, 3}, DenseRank([]float64{0.5, 0.7, 0.5, 0}))
	assert.Empty(t, DenseRank(nil))
}

func TestDominanceAsymmetric(t *testing.T) {
	envs := []string{"e1", "e2", "e3"}
	rng := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		a, b := map[string]int{}, map[string]int{}
		for _, e := range envs {
			a[e] = rng.IntN(3) + 1
			b[e] = rng.IntN(3) + 1
		}
		assert.False(t, Dominates(a, b, envs) && Dominates(b, a, envs), "a=%v b=%v", a, b)
	}
	assert.False(t, Dominates(map[string]int{"e1": 1}, map[string]int{"e1": 1}, []string{"e1"}))
}

func TestModelMatches(t *testing.T) {
	assert.True(t, ModelMatches("org/affine-7b"))
	assert.True(t, ModelMatches("org/AFFINE"))
	assert.False(t, ModelMatches("org/model-affine"))
	assert.False(t, ModelMatches("affine-7b"))
	assert.False(t, ModelMatches(""))
}

func scenario(blockA, blockB int) []*record.Result {
	return []*record.Result{
		res("A", "e1", 1.0, blockA, "r"),
		res("B", "e1", 0.5, blockB, "r"),
		res("C", "e1", 0.2, 30, "r"),
		res("A", "e2", 0.5, blockA, "r"),
		res("B", "e2", 1.0, blockB, "r"),
		res("C", "e2", 0.2, 30, "r"),
	}
}

func TestComputeScenario(t *testing.T) {
	hotkeys := []string{"A", "B", "C"}
	engine := NewEngine([]string{"e2", "e1"})

	r, err := engine.Compute(slices.Values(scenario(10, 5)), hotkeys)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"e1": 1, "e2": 2}, r.Ranks["A"])
	assert.Equal(t, map[string]int{"e1": 2, "e2": 1}, r.Ranks["B"])
	assert.Equal(t, map[string]int{"e1": 3, "e2": 3}, r.Ranks["C"])
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, map[string]int{"A": r.Dominance["A"], "B": r.Dominance["B"]})
	assert.Zero(t, r.Dominance["C"])
	assert.Equal(t, "B", r.Winner)
	assert.Equal(t, 1, r.WinnerUID)
	assert.Equal(t, 1.0, r.MaxAccuracy["e1"])

	uids, w := r.Weights()
	assert.Equal(t, []int64{1}, uids)
	assert.Equal(t, []float64{1.0}, w)

	r, err = engine.Compute(slices.Values(scenario(3, 5)), hotkeys)
	require.NoError(t, err)
	assert.Equal(t, "A", r.Winner)
	assert.Equal(t, 0, r.WinnerUID)
}

func TestComputeFiltersUnregisteredAndModelName(t *testing.T) {
	bad := res("B", "e1", 1.0, 1, "r")
	bad.Miner.Model = "org/other"
	results := []*record.Result{
		res("X", "e1", 1.0, 1, "r"),
		bad,
		res("A", "e1", 0.1, 1, "r"),
	}

	r, err := NewEngine([]string{"e1"}).Compute(slices.Values(results), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, r.Observed)
	assert.Zero(t, r.Counts["B"]["e1"])
	assert.Equal(t, "A", r.Winner)
}

func TestComputeResetKeepsCount(t *testing.T) {
	// a new revision clears the sum for that env but not the trial count
	results := []*record.Result{
		res("A", "e1", 1.0, 10, "rev1"),
		res("A", "e1", 1.0, 10, "rev1"),
		res("A", "e1", 0.5, 10, "rev2"),
	}
	r, err := NewEngine([]string{"e1"}).Compute(slices.Values(results), []string{"A"})
	require.NoError(t, err)

	assert.Equal(t, 3, r.Counts["A"]["e1"])
	assert.InDelta(t, 0.5, r.Sums["A"]["e1"], 1e-12)
	assert.InDelta(t, 0.5/3, r.Accuracy["A"]["e1"], 1e-12)
	assert.Equal(t, "rev2", r.Latest["A"].Revision)
}

func TestComputeResetOnlyTouchesCurrentEnv(t *testing.T) {
	results := []*record.Result{
		res("A", "e1", 1.0, 10, "rev1"),
		res("A", "e2", 1.0, 10, "rev1"),
		res("A", "e1", 0.0, 20, "rev1"),
	}
	r, err := NewEngine([]string{"e1", "e2"}).Compute(slices.Values(results), []string{"A"})
	require.NoError(t, err)
	assert.Zero(t, r.Sums["A"]["e1"])
	assert.Equal(t, 1.0, r.Sums["A"]["e2"])
}

func TestComputeNoResults(t *testing.T) {
	_, err := NewEngine([]string{"e1"}).Compute(slices.Values([]*record.Result{}), []string{"A"})
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestSummaryListsObservedMiners(t *testing.T) {
	r, err := NewEngine([]string{"e1", "e2"}).Compute(slices.Values(scenario(10, 5)), []string{"A", "B", "C", "D"})
	require.NoError(t, err)
	out := r.Summary()
	assert.Contains(t, out, "org/Affine-A")
	assert.Contains(t, out, "e1")
	assert.Contains(t, out, "1.00/1/1")
	assert.Equal(t, 3, strings.Count(out, "org/Affine-"))
	assert.Contains(t, out, "avg")
	assert.Contains(t, out, "0.750")
}

func TestMeanAccuracy(t *testing.T) {
	r, err := NewEngine([]string{"e1", "e2", "e3"}).Compute(slices.Values(scenario(10, 5)), []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 0.5, 0}, r.AccuracyVector("A"))
	assert.InDelta(t, 0.5, r.MeanAccuracy("A"), 1e-12)
	assert.InDelta(t, 0.4/3, r.MeanAccuracy("C"), 1e-12)
	assert.Zero(t, r.MeanAccuracy("unknown"))
}
