package env

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/tensorplex-labs/affine/internal/record"
)

type SATConfig struct {
	Vars          int
	LitsPerClause int
	// ClauseRatio is clauses per variable; 4.26 sits at the 3-SAT phase transition.
	ClauseRatio float64
}

func DefaultSATConfig() SATConfig {
	return SATConfig{Vars: 15, LitsPerClause: 3, ClauseRatio: 4.26}
}

// SAT asks for a satisfying assignment of a random k-SAT formula with a
// planted solution.
type SAT struct {
	cfg SATConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSAT(cfg SATConfig) *SAT {
	return &SAT{cfg: cfg, rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSATWithSeed is deterministic for a given seed.
func NewSATWithSeed(cfg SATConfig, seed uint64) *SAT {
	return &SAT{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SAT) Name() string { return "SAT" }

func (s *SAT) Generate(ctx context.Context) (*record.Challenge, error) {
	n, k := s.cfg.Vars, s.cfg.LitsPerClause
	if k > n {
		return nil, fmt.Errorf("literals per clause %d exceeds variable count %d", k, n)
	}
	m := int(s.cfg.ClauseRatio * float64(n))

	s.mu.Lock()
	defer s.mu.Unlock()

	solution := make(map[string]bool, n)
	for i := 1; i <= n; i++ {
		solution[strconv.Itoa(i)] = s.rng.IntN(2) == 1
	}

	clauses := make([][]int, 0, m)
	for range m {
		vars := s.rng.Perm(n)[:k]
		clause := make([]int, k)
		satisfied := false
		for j, v := range vars {
			lit := v + 1
			if s.rng.IntN(2) == 1 {
				lit = -lit
			}
			if (lit > 0) == solution[strconv.Itoa(v+1)] {
				satisfied = true
			}
			clause[j] = lit
		}
		if !satisfied {
			j := s.rng.IntN(k)
			clause[j] = -clause[j]
		}
		clauses = append(clauses, clause)
	}

	return record.NewChallenge(s.Name(), satPrompt(n, k, clauses), map[string]any{
		"solution": solution,
		"clauses":  clauses,
	})
}

func satPrompt(n, k int, clauses [][]int) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		lits := make([]string, len(c))
		for j, lit := range c {
			if lit < 0 {
				lits[j] = fmt.Sprintf("¬x%d", -lit)
			} else {
				lits[j] = fmt.Sprintf("x%d", lit)
			}
		}
		parts[i] = "(" + strings.Join(lits, " ∨ ") + ")"
	}
	return fmt.Sprintf(
		"Find a satisfying assignment for the following %d-SAT formula over variables x1..x%d:\n%s\n"+
			"Provide your answer as comma-separated assignments like `x1=True, x2=False, ...`, "+
			"or respond `UNSAT` if it has no solution.",
		k, n, strings.Join(parts, " ∧ "),
	)
}

var assignmentRe = regexp.MustCompile(`x(\d+)\s*=\s*(True|False|true|false|1|0)`)

func (s *SAT) Evaluate(ctx context.Context, c *record.Challenge, r *record.Response) (*record.Evaluation, error) {
	clauses, err := clausesOf(c)
	if err != nil {
		return nil, err
	}

	assign := make(map[int]bool)
	for _, m := range assignmentRe.FindAllStringSubmatch(r.Text(), -1) {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		assign[v] = m[2] == "True" || m[2] == "true" || m[2] == "1"
	}

	satisfied := 0
	for _, clause := range clauses {
		for _, lit := range clause {
			v := lit
			if v < 0 {
				v = -v
			}
			val, ok := assign[v]
			if ok && val == (lit > 0) {
				satisfied++
				break
			}
		}
	}

	score := 0.0
	if len(clauses) > 0 && satisfied == len(clauses) {
		score = 1.0
	}
	return &record.Evaluation{
		Env:   s.Name(),
		Score: score,
		Extra: map[string]any{
			"satisfied": satisfied,
			"clauses":   len(clauses),
		},
	}, nil
}

// clausesOf accepts clauses as generated in process or as decoded from JSON.
func clausesOf(c *record.Challenge) ([][]int, error) {
	raw, ok := c.Extra["clauses"]
	if !ok {
		return nil, fmt.Errorf("challenge %s has no clauses", c.ChallengeID)
	}
	if clauses, ok := raw.([][]int); ok {
		return clauses, nil
	}
	b, err := sonic.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode clauses: %w", err)
	}
	var clauses [][]int
	if err := sonic.Unmarshal(b, &clauses); err != nil {
		return nil, fmt.Errorf("decode clauses: %w", err)
	}
	return clauses, nil
}
