// Package weights reduces a verified Result stream to per-miner accuracies,
// dense ranks, Pareto dominance counts and a single winner.
package weights

import (
	"errors"
	"iter"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/tensorplex-labs/affine/internal/record"
)

var ErrNoResults = errors.New("no results for registered miners")

// ModelPrefix is the required start of a model's name segment.
const ModelPrefix = "affine"

// ModelMatches reports whether the name after the first "/" starts with ModelPrefix, ignoring case.
func ModelMatches(model string) bool {
	_, name, ok := strings.Cut(model, "/")
	return ok && strings.HasPrefix(strings.ToLower(name), ModelPrefix)
}

// Ranking is the outcome of one reduction.
type Ranking struct {
	Envs    []string
	Hotkeys []string

	Counts    map[string]map[string]int
	Sums      map[string]map[string]float64
	Accuracy  map[string]map[string]float64
	Ranks     map[string]map[string]int
	Dominance map[string]int
	// MaxAccuracy is the best accuracy per environment across registered miners.
	MaxAccuracy map[string]float64

	// Latest is the most recent Miner snapshot seen per hotkey.
	Latest map[string]record.Miner
	// Observed lists hotkeys with at least one counted Result, in first-seen order.
	Observed []string

	Winner    string
	WinnerUID int
}

// Engine ranks miners over a fixed list of environments.
type Engine struct {
	envs []string
}

func NewEngine(envs []string) *Engine {
	e := slices.Clone(envs)
	slices.Sort(e)
	return &Engine{envs: e}
}

// Compute consumes results in stream order. hotkeys is the registered set;
// a hotkey's uid is its position in it.
func (e *Engine) Compute(results iter.Seq[*record.Result], hotkeys []string) (*Ranking, error) {
	r := &Ranking{
		Envs:        e.envs,
		Hotkeys:     hotkeys,
		Counts:      make(map[string]map[string]int, len(hotkeys)),
		Sums:        make(map[string]map[string]float64, len(hotkeys)),
		Accuracy:    make(map[string]map[string]float64, len(hotkeys)),
		Ranks:       make(map[string]map[string]int, len(hotkeys)),
		Dominance:   make(map[string]int, len(hotkeys)),
		MaxAccuracy: make(map[string]float64, len(e.envs)),
		Latest:      make(map[string]record.Miner),
		WinnerUID:   -1,
	}

	registered := make(map[string]bool, len(hotkeys))
	for _, hk := range hotkeys {
		registered[hk] = true
		r.Counts[hk] = make(map[string]int, len(e.envs))
		r.Sums[hk] = make(map[string]float64, len(e.envs))
	}

	skipped := 0
	for res := range results {
		hk, envName := res.Miner.Hotkey, res.Challenge.Env
		if !registered[hk] || !ModelMatches(res.Miner.Model) {
			skipped++
			continue
		}

		prev, seen := r.Latest[hk]
		if seen && (prev.Block != res.Miner.Block || prev.Model != res.Miner.Model || prev.Revision != res.Miner.Revision) {
			// the sum restarts for the new commitment; the count carries over
			r.Sums[hk][envName] = 0
		}
		if !seen {
			r.Observed = append(r.Observed, hk)
		}
		r.Latest[hk] = res.Miner
		r.Counts[hk][envName]++
		r.Sums[hk][envName] += res.Evaluation.Score
	}

	for _, hk := range hotkeys {
		r.Accuracy[hk] = make(map[string]float64, len(e.envs))
		r.Ranks[hk] = make(map[string]int, len(e.envs))
		for _, envName := range e.envs {
			if n := r.Counts[hk][envName]; n > 0 {
				r.Accuracy[hk][envName] = r.Sums[hk][envName] / float64(n)
			}
		}
	}

	for _, envName := range e.envs {
		accs := make([]float64, len(hotkeys))
		for i, hk := range hotkeys {
			accs[i] = r.Accuracy[hk][envName]
		}
		for i, rank := range DenseRank(accs) {
			r.Ranks[hotkeys[i]][envName] = rank
		}
		if len(accs) > 0 {
			r.MaxAccuracy[envName] = floats.Max(accs)
		}
	}

	for _, a := range hotkeys {
		for _, b := range hotkeys {
			if a != b && Dominates(r.Ranks[a], r.Ranks[b], e.envs) {
				r.Dominance[a]++
			}
		}
	}

	if len(r.Observed) == 0 {
		return r, ErrNoResults
	}

	best := r.Observed[0]
	for _, hk := range r.Observed[1:] {
		if r.Dominance[hk] > r.Dominance[best] ||
			(r.Dominance[hk] == r.Dominance[best] && r.Latest[hk].Block < r.Latest[best].Block) {
			best = hk
		}
	}
	r.Winner = best
	r.WinnerUID = slices.Index(hotkeys, best)

	log.Info().
		Str("winner", best).
		Int("uid", r.WinnerUID).
		Int("dominance", r.Dominance[best]).
		Int("observed", len(r.Observed)).
		Int("skipped", skipped).
		Msg("computed ranking")
	return r, nil
}

// AccuracyVector returns hk's accuracies in Envs order.
func (r *Ranking) AccuracyVector(hk string) []float64 {
	v := make([]float64, len(r.Envs))
	for i, env := range r.Envs {
		v[i] = r.Accuracy[hk][env]
	}
	return v
}

// MeanAccuracy averages hk's accuracy over every environment, counting
// unsampled environments as zero.
func (r *Ranking) MeanAccuracy(hk string) float64 {
	if len(r.Envs) == 0 {
		return 0
	}
	return floats.Sum(r.AccuracyVector(hk)) / float64(len(r.Envs))
}

// DenseRank ranks values descending; ties share a rank and ranks have no gaps.
func DenseRank(values []float64) []int {
	distinct := slices.Clone(values)
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)
	slices.Reverse(distinct)

	rankOf := make(map[float64]int, len(distinct))
	for i, v := range distinct {
		rankOf[v] = i + 1
	}
	ranks := make([]int, len(values))
	for i, v := range values {
		ranks[i] = rankOf[v]
	}
	return ranks
}

// Dominates reports whether a is no worse than b in every env and better in one.
func Dominates(a, b map[string]int, envs []string) bool {
	strict := false
	for _, env := range envs {
		if a[env] > b[env] {
			return false
		}
		if a[env] < b[env] {
			strict = true
		}
	}
	return strict
}

// Weights returns the winner-take-all assignment as parallel uid/weight slices.
func (r *Ranking) Weights() ([]int64, []float64) {
	if r.WinnerUID < 0 {
		return nil, nil
	}
	return []int64{int64(r.WinnerUID)}, []float64{1.0}
}
