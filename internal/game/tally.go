package game

import "sort"

// Tally is the outcome of counting a set of targets.
type Tally struct {
	Target string         // chosen target, empty when nobody is chosen
	Tied   []string       // targets sharing the top count when more than one
	Counts map[string]int // target -> votes
}

// CountTargets returns the mode of targets. With TieNoElimination a tie
// yields no target; with TieRandom one of the tied targets is drawn with rng.
func CountTargets(targets []string, policy TieBreak, rng Rand) Tally {
	t := Tally{Counts: make(map[string]int)}
	for _, target := range targets {
		t.Counts[target]++
	}

	top := 0
	var leaders []string
	for target, n := range t.Counts {
		switch {
		case n > top:
			top = n
			leaders = []string{target}
		case n == top:
			leaders = append(leaders, target)
		}
	}
	// Map iteration is random; sort so a seeded draw is reproducible.
	sort.Strings(leaders)

	switch {
	case len(leaders) == 1:
		t.Target = leaders[0]
	case len(leaders) > 1:
		t.Tied = leaders
		if policy == TieRandom && rng != nil {
			t.Target = leaders[rng.IntN(len(leaders))]
		}
	}
	return t
}
