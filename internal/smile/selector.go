package smile

import "sort"

// DefaultDiversityWindow is the default width, in seconds, of the interval an
// accepted candidate claims around its timestamp.
const DefaultDiversityWindow = 1.0

type interval struct {
	start, end float64
}

func (iv interval) contains(t float64) bool {
	return iv.start <= t && t <= iv.end
}

// SelectDiverse keeps the best-scoring candidate of each neighbourhood.
// Candidates are visited by descending score, ties in input order. A candidate
// is accepted unless its timestamp lies inside an interval already claimed by
// an accepted one; each acceptance claims [max(0, t-window/2), t+window/2].
// The input slice is not modified.
func SelectDiverse(candidates []Candidate, window float64) []Candidate {
	if len(candidates) == 0 {
		return []Candidate{}
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	half := window / 2
	var claimed []interval
	selected := make([]Candidate, 0, len(ranked))

	for _, c := range ranked {
		if isClaimed(claimed, c.Timestamp) {
			continue
		}
		selected = append(selected, c)
		claimed = append(claimed, interval{start: max(0, c.Timestamp-half), end: c.Timestamp + half})
	}
	return selected
}

func isClaimed(claimed []interval, t float64) bool {
	for _, iv := range claimed {
		if iv.contains(t) {
			return true
		}
	}
	return false
}
