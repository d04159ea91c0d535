// Package scrollmap computes where highlights sit within a document, for
// drawing position ticks next to a scrollbar.
package scrollmap

import (
	"strings"

	"github.com/xonecas/threadmark/internal/dom"
	"github.com/xonecas/threadmark/internal/highlight"
	"golang.org/x/net/html"
)

// Marker is the position of one highlight.
type Marker struct {
	Node   *html.Node `json:"-"`
	Text   string     `json:"text"`
	Offset int        `json:"offset"`
	Line   int        `json:"line"`
	Ratio  float64    `json:"ratio"`
}

// Compute returns every highlight under root in document order. It does not
// modify the tree.
func Compute(root *html.Node) []Marker {
	flat := dom.Flatten(root, dom.Exact)
	total := len(flat.Text)

	var out []Marker
	for _, m := range highlight.Markers(root) {
		leaves := dom.TextLeaves(m)
		if len(leaves) == 0 {
			continue
		}
		off, ok := flat.OffsetOf(dom.Point{Node: leaves[0]})
		if !ok {
			continue
		}
		ratio := 0.0
		if total > 0 {
			ratio = float64(off) / float64(total)
		}
		out = append(out, Marker{
			Node:   m,
			Text:   dom.TextContent(m),
			Offset: off,
			Line:   strings.Count(flat.Text[:off], "\n") + 1,
			Ratio:  ratio,
		})
	}
	return out
}
