package importer

import "saldo/internal/core"

// Partition labels each candidate with whether its external id is already
// known for the user. It returns a new slice and never filters.
// Candidates without an external id are always new.
func Partition(candidates []core.ImportCandidate, known map[string]struct{}) []core.ImportCandidate {
	out := make([]core.ImportCandidate, len(candidates))
	for i, c := range candidates {
		_, seen := known[c.ExternalID]
		c.AlreadyImported = c.ExternalID != "" && seen
		out[i] = c
	}
	return out
}

// NewPositions returns the positions of the candidates that can be selected for review.
func NewPositions(candidates []core.ImportCandidate) []int {
	var out []int
	for i, c := range candidates {
		if !c.AlreadyImported {
			out = append(out, i)
		}
	}
	return out
}
