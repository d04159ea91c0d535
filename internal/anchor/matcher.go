package anchor

import (
	"strings"
	"unicode/utf8"

	"github.com/xonecas/threadmark/internal/dom"
	"golang.org/x/net/html"
)

// Context scoring weights.
const (
	scoreExact   = 10
	scorePartial = 5
)

// SkipReason explains why a discovered match produced no candidate.
type SkipReason string

const (
	SkipNoStartSegment SkipReason = "no segment contains the match start"
	SkipNoEndSegment   SkipReason = "no segment contains the match end"
)

// Outcome is the tagged result for one discovered match: either a Candidate
// or the reason it was skipped.
type Outcome struct {
	Offset    int
	Candidate *Candidate
	Skip      SkipReason
}

// OK reports whether the outcome produced a candidate.
func (o Outcome) OK() bool {
	return o.Candidate != nil
}

// Scan finds every occurrence of target in the flattened text of root and
// returns one outcome per match, in document order. The search cursor
// advances one character past each match start, so overlapping occurrences
// are all reported ("aa" occurs twice in "aaa").
func Scan(root *html.Node, target string, ctx Context, mode dom.Mode) []Outcome {
	flat := dom.Flatten(root, mode)

	needle, prefix, suffix := target, ctx.Prefix, ctx.Suffix
	if mode == dom.Normalized {
		needle = dom.StripSpace(needle)
		prefix = dom.StripSpace(prefix)
		suffix = dom.StripSpace(suffix)
	}
	if needle == "" {
		return nil
	}

	var out []Outcome
	for cursor := 0; cursor <= len(flat.Text); {
		i := strings.Index(flat.Text[cursor:], needle)
		if i < 0 {
			break
		}
		start := cursor + i
		end := start + len(needle)
		out = append(out, buildOutcome(flat, start, end, prefix, suffix))

		_, size := utf8.DecodeRuneInString(flat.Text[start:])
		cursor = start + size
	}
	return out
}

func buildOutcome(flat dom.FlatText, start, end int, prefix, suffix string) Outcome {
	startSeg, ok := flat.SegmentAt(start)
	if !ok {
		return Outcome{Offset: start, Skip: SkipNoStartSegment}
	}
	endSeg, ok := flat.SegmentAt(end - 1)
	if !ok {
		return Outcome{Offset: start, Skip: SkipNoEndSegment}
	}

	return Outcome{
		Offset: start,
		Candidate: &Candidate{
			Range: dom.Range{
				Start: flat.Point(startSeg, start),
				End:   flat.Point(endSeg, end),
			},
			Score: score(flat.Text, start, end, prefix, suffix),
			Start: start,
			End:   end,
			Mode:  flat.Mode,
		},
	}
}

// score rates how well the text around [start, end) agrees with the stored
// context: per side, 10 for an exact window match, 5 when the stored context
// ends (prefix) or starts (suffix) with the available window.
func score(text string, start, end int, prefix, suffix string) int {
	total := 0
	if prefix != "" {
		window := text[max(0, start-len(prefix)):start]
		switch {
		case window == prefix:
			total += scoreExact
		case strings.HasSuffix(prefix, window):
			total += scorePartial
		}
	}
	if suffix != "" {
		window := text[end:min(len(text), end+len(suffix))]
		switch {
		case window == suffix:
			total += scoreExact
		case strings.HasPrefix(suffix, window):
			total += scorePartial
		}
	}
	return total
}

// FindCandidates returns the candidates produced by Scan, dropping skipped
// matches.
func FindCandidates(root *html.Node, target string, ctx Context, mode dom.Mode) []Candidate {
	outcomes := Scan(root, target, ctx, mode)
	cands := make([]Candidate, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			cands = append(cands, *o.Candidate)
		}
	}
	return cands
}
