package anchor

import (
	"github.com/xonecas/threadmark/internal/dom"
	"golang.org/x/net/html"
)

// modes is the order in which resolution tries flattening modes.
var modes = []dom.Mode{dom.Exact, dom.Normalized}

// Select picks the best candidate. A valid occurrence index wins when its
// candidate has the top score or when no candidate scored at all; otherwise
// the highest score wins and ties keep the earliest match.
func Select(cands []Candidate, occurrence *int) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}

	top := 0
	for _, c := range cands {
		top = max(top, c.Score)
	}

	if occurrence != nil && *occurrence >= 0 && *occurrence < len(cands) {
		c := cands[*occurrence]
		if c.Score >= top || top == 0 {
			return c, true
		}
	}

	best := cands[0]
	for _, c := range cands[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

// Resolve finds the best location for a under root, trying exact matching
// first and whitespace-normalized matching second. It reports false when
// neither mode finds the fragment.
func Resolve(root *html.Node, a TextAnchor) (Candidate, bool) {
	if a.Validate() != nil {
		return Candidate{}, false
	}
	for _, mode := range modes {
		cands := FindCandidates(root, a.Text, a.Context(), mode)
		if len(cands) > 0 {
			return Select(cands, a.Occurrence)
		}
	}
	return Candidate{}, false
}
