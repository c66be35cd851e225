package intruder

import "fmt"

// Strategy is one of the four payload-positioning strategies.
type Strategy string

const (
	Sniper       Strategy = "sniper"
	BatteringRam Strategy = "battering_ram"
	Pitchfork    Strategy = "pitchfork"
	ClusterBomb  Strategy = "cluster_bomb"
)

// Assignment is one unit of dispatch work: which payload (if any) goes
// into each position, for request Index. A nil entry means that
// position is left as the template's original text for this request.
type Assignment struct {
	Index    int
	Payloads []*string
}

// Expand computes the full, ordered list of assignments for strategy
// over positions and payloadSets. Index is assigned in the iteration
// order each strategy defines so position_index reproduces the same
// ordering regardless of completion order.
func Expand(strategy Strategy, positions []Position, payloadSets [][]string) ([]Assignment, error) {
	k := len(positions)
	if k == 0 {
		return nil, fmt.Errorf("intruder: at least one position is required")
	}

	switch strategy {
	case Sniper:
		return expandSniper(k, payloadSets)
	case BatteringRam:
		return expandBatteringRam(k, payloadSets)
	case Pitchfork:
		return expandPitchfork(k, payloadSets)
	case ClusterBomb:
		return expandClusterBomb(k, payloadSets)
	default:
		return nil, fmt.Errorf("intruder: unknown strategy %q", strategy)
	}
}

func expandSniper(k int, payloadSets [][]string) ([]Assignment, error) {
	if len(payloadSets) != 1 {
		return nil, fmt.Errorf("intruder: sniper requires exactly one payload set, got %d", len(payloadSets))
	}
	set := payloadSets[0]
	out := make([]Assignment, 0, k*len(set))
	idx := 0
	for posIdx := 0; posIdx < k; posIdx++ {
		for _, payload := range set {
			payload := payload
			payloads := make([]*string, k)
			payloads[posIdx] = &payload
			out = append(out, Assignment{Index: idx, Payloads: payloads})
			idx++
		}
	}
	return out, nil
}

func expandBatteringRam(k int, payloadSets [][]string) ([]Assignment, error) {
	if len(payloadSets) != 1 {
		return nil, fmt.Errorf("intruder: battering_ram requires exactly one payload set, got %d", len(payloadSets))
	}
	set := payloadSets[0]
	out := make([]Assignment, 0, len(set))
	for idx, payload := range set {
		payload := payload
		payloads := make([]*string, k)
		for i := range payloads {
			payloads[i] = &payload
		}
		out = append(out, Assignment{Index: idx, Payloads: payloads})
	}
	return out, nil
}

func expandPitchfork(k int, payloadSets [][]string) ([]Assignment, error) {
	if len(payloadSets) != k {
		return nil, fmt.Errorf("intruder: pitchfork requires one payload set per position (%d), got %d", k, len(payloadSets))
	}
	n := minSetLen(payloadSets)
	out := make([]Assignment, 0, n)
	for idx := 0; idx < n; idx++ {
		payloads := make([]*string, k)
		for j := 0; j < k; j++ {
			v := payloadSets[j][idx]
			payloads[j] = &v
		}
		out = append(out, Assignment{Index: idx, Payloads: payloads})
	}
	return out, nil
}

func expandClusterBomb(k int, payloadSets [][]string) ([]Assignment, error) {
	if len(payloadSets) != k {
		return nil, fmt.Errorf("intruder: cluster_bomb requires one payload set per position (%d), got %d", k, len(payloadSets))
	}
	total := 1
	for _, s := range payloadSets {
		if len(s) == 0 {
			return nil, fmt.Errorf("intruder: cluster_bomb payload sets must be non-empty")
		}
		total *= len(s)
	}

	out := make([]Assignment, 0, total)
	counters := make([]int, k)
	for idx := 0; idx < total; idx++ {
		payloads := make([]*string, k)
		for j := 0; j < k; j++ {
			v := payloadSets[j][counters[j]]
			payloads[j] = &v
		}
		out = append(out, Assignment{Index: idx, Payloads: payloads})

		// Odometer increment, rightmost position fastest, so iteration
		// is in lexicographic order over (counter_0, ..., counter_{k-1}).
		for j := k - 1; j >= 0; j-- {
			counters[j]++
			if counters[j] < len(payloadSets[j]) {
				break
			}
			counters[j] = 0
		}
	}
	return out, nil
}

// Total reports the cardinality Expand would produce without building
// the full assignment slice, for quick validation before a run starts.
func Total(strategy Strategy, k int, payloadSets [][]string) (int, error) {
	switch strategy {
	case Sniper:
		if len(payloadSets) != 1 {
			return 0, fmt.Errorf("intruder: sniper requires exactly one payload set")
		}
		return k * len(payloadSets[0]), nil
	case BatteringRam:
		if len(payloadSets) != 1 {
			return 0, fmt.Errorf("intruder: battering_ram requires exactly one payload set")
		}
		return len(payloadSets[0]), nil
	case Pitchfork:
		if len(payloadSets) != k {
			return 0, fmt.Errorf("intruder: pitchfork requires one payload set per position")
		}
		return minSetLen(payloadSets), nil
	case ClusterBomb:
		if len(payloadSets) != k {
			return 0, fmt.Errorf("intruder: cluster_bomb requires one payload set per position")
		}
		total := 1
		for _, s := range payloadSets {
			total *= len(s)
		}
		return total, nil
	default:
		return 0, fmt.Errorf("intruder: unknown strategy %q", strategy)
	}
}

func minSetLen(sets [][]string) int {
	if len(sets) == 0 {
		return 0
	}
	m := len(sets[0])
	for _, s := range sets[1:] {
		if len(s) < m {
			m = len(s)
		}
	}
	return m
}
