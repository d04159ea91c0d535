// Package highlight marks resolved text ranges in a live HTML tree and
// removes those marks again without leaving fragmented text behind.
package highlight

import (
	"strings"

	"github.com/xonecas/threadmark/internal/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ClassName identifies marker elements.
const ClassName = "threadmark-highlight"

const (
	markerStyle = "background-color: #ffff0040; border-bottom: 2px solid #ffd700; border-radius: 2px"
	pulseStyle  = markerStyle + "; box-shadow: 0 0 0 4px rgba(255, 215, 0, 0.5)"
	focusAttr   = "data-threadmark-focus"
)

func newMarker() *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     atom.Span.String(),
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: ClassName},
			{Key: "style", Val: markerStyle},
		},
	}
}

// Apply wraps rng in marker elements and returns the markers it created.
// A range inside one text node, or between text nodes that share a parent,
// gets a single marker. Any other range cannot be wrapped as one unit, so
// every text leaf it intersects is wrapped separately, clamped to the range
// boundaries. Leaves are wrapped where they stand; no content is moved.
func Apply(rng dom.Range) []*html.Node {
	if rng.Start.Node == nil || rng.End.Node == nil || rng.Collapsed() {
		return nil
	}
	if canWrapDirect(rng) {
		return []*html.Node{wrapDirect(rng)}
	}
	return wrapLeaves(rng)
}

func canWrapDirect(rng dom.Range) bool {
	start, end := rng.Start.Node, rng.End.Node
	if start.Type != html.TextNode || end.Type != html.TextNode {
		return false
	}
	if start.Parent == nil || start.Parent != end.Parent {
		return false
	}
	for n := start; n != nil; n = n.NextSibling {
		if n == end {
			return true
		}
	}
	return false
}

// wrapDirect splits the boundary text nodes and moves everything between them
// into one marker. canWrapDirect must hold.
func wrapDirect(rng dom.Range) *html.Node {
	start, end := rng.Start.Node, rng.End.Node
	parent := start.Parent

	// Split the end first so the start offset stays valid when start == end.
	dom.SplitText(end, rng.End.Offset)
	first := dom.SplitText(start, rng.Start.Offset)
	last := end
	if start == end {
		last = first
	}

	marker := newMarker()
	parent.InsertBefore(marker, first)
	for n := first; n != nil; {
		next := n.NextSibling
		parent.RemoveChild(n)
		marker.AppendChild(n)
		if n == last {
			break
		}
		n = next
	}
	return marker
}

type piece struct {
	node       *html.Node
	start, end int
}

func wrapLeaves(rng dom.Range) []*html.Node {
	root := commonAncestor(rng.Start.Node, rng.End.Node)
	if root == nil {
		return nil
	}

	var pieces []piece
	inside := false
	for _, leaf := range dom.TextLeaves(root) {
		if leaf == rng.Start.Node {
			inside = true
		}
		if inside {
			start, end := 0, len(leaf.Data)
			if leaf == rng.Start.Node {
				start = rng.Start.Offset
			}
			if leaf == rng.End.Node {
				end = rng.End.Offset
			}
			if end > start && leaf.Parent != nil {
				pieces = append(pieces, piece{node: leaf, start: start, end: end})
			}
		}
		if leaf == rng.End.Node {
			break
		}
	}

	markers := make([]*html.Node, 0, len(pieces))
	for _, p := range pieces {
		markers = append(markers, wrapDirect(dom.Range{
			Start: dom.Point{Node: p.node, Offset: p.start},
			End:   dom.Point{Node: p.node, Offset: p.end},
		}))
	}
	return markers
}

func commonAncestor(a, b *html.Node) *html.Node {
	for n := a; n != nil; n = n.Parent {
		if dom.Contains(n, b) {
			return n
		}
	}
	return nil
}

// IsMarker reports whether n is a highlight marker element.
func IsMarker(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == ClassName {
					return true
				}
			}
		}
	}
	return false
}

// Markers returns every marker under root in document order.
func Markers(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if IsMarker(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Unwrap replaces marker with its children and merges the text it had split,
// leaving the parent's text structure as it was before the marker existed.
func Unwrap(marker *html.Node) bool {
	parent := marker.Parent
	if parent == nil {
		return false
	}
	for c := marker.FirstChild; c != nil; c = marker.FirstChild {
		marker.RemoveChild(c)
		parent.InsertBefore(c, marker)
	}
	parent.RemoveChild(marker)
	dom.Normalize(parent)
	return true
}

// Remove unwraps every marker whose text contains text or is contained in it.
func Remove(root *html.Node, text string) int {
	if text == "" {
		return 0
	}
	n := 0
	for _, m := range Markers(root) {
		content := dom.TextContent(m)
		if strings.Contains(text, content) || strings.Contains(content, text) {
			if Unwrap(m) {
				n++
			}
		}
	}
	return n
}

// Clear unwraps every marker under root.
func Clear(root *html.Node) int {
	n := 0
	for _, m := range Markers(root) {
		if Unwrap(m) {
			n++
		}
	}
	return n
}

// Emphasize applies the transient focus pulse to a marker.
func Emphasize(marker *html.Node) {
	setAttr(marker, focusAttr, "pulse")
	setAttr(marker, "style", pulseStyle)
}

// Deemphasize clears the focus pulse. It reports whether the marker was
// emphasized.
func Deemphasize(marker *html.Node) bool {
	if !removeAttr(marker, focusAttr) {
		return false
	}
	setAttr(marker, "style", markerStyle)
	return true
}

// Emphasized reports whether a marker currently carries the focus pulse.
func Emphasized(marker *html.Node) bool {
	for _, a := range marker.Attr {
		if a.Key == focusAttr {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) bool {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}
