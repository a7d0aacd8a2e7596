// Package chainutils converts computed weights into the form the chain accepts.
package chainutils

import (
	"fmt"
	"math"
)

// U16MAX is the largest weight value the chain stores.
const U16MAX = 65535

// ToU16 scales weights so the largest becomes U16MAX and drops uids that
// round to zero. Uids must be unique and weights finite and non-negative.
// An all-zero vector yields empty slices.
func ToU16(uids []int64, weights []float64) (dests, values []int, err error) {
	if len(uids) != len(weights) {
		return nil, nil, fmt.Errorf("uids and weights must have the same length, got %d and %d", len(uids), len(weights))
	}

	seen := make(map[int64]struct{}, len(uids))
	peak := 0.0
	for i, w := range weights {
		switch {
		case math.IsNaN(w) || math.IsInf(w, 0):
			return nil, nil, fmt.Errorf("weight for uid %d is not finite: %v", uids[i], w)
		case w < 0:
			return nil, nil, fmt.Errorf("weight for uid %d is negative: %v", uids[i], w)
		case uids[i] < 0 || uids[i] > U16MAX:
			return nil, nil, fmt.Errorf("uid %d out of range", uids[i])
		}
		if _, dup := seen[uids[i]]; dup {
			return nil, nil, fmt.Errorf("duplicate uid %d", uids[i])
		}
		seen[uids[i]] = struct{}{}
		peak = math.Max(peak, w)
	}

	dests, values = []int{}, []int{}
	if peak == 0 {
		return dests, values, nil
	}
	for i, w := range weights {
		if v := int(math.Round(w / peak * U16MAX)); v > 0 {
			dests = append(dests, int(uids[i]))
			values = append(values, v)
		}
	}
	return dests, values, nil
}
