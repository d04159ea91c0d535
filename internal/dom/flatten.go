// Package dom builds searchable flattened views of an HTML node tree and maps
// offsets in those views back to concrete (node, offset) positions.
package dom

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Mode selects how leaf text is flattened.
type Mode int

const (
	// Exact concatenates raw leaf data; offsets map 1:1.
	Exact Mode = iota
	// Normalized removes every whitespace rune from each leaf before
	// concatenation.
	Normalized
)

func (m Mode) String() string {
	if m == Normalized {
		return "normalized"
	}
	return "exact"
}

// Point is a boundary inside a text leaf. Offset is a byte offset into Node.Data.
type Point struct {
	Node   *html.Node
	Offset int
}

// Range is a span between two points in document order.
type Range struct {
	Start Point
	End   Point
}

// Collapsed reports whether the range is empty.
func (r Range) Collapsed() bool {
	return r.Start.Node == r.End.Node && r.Start.Offset >= r.End.Offset
}

// Segment records where one text leaf landed in the flattened text.
type Segment struct {
	Start int
	End   int
	Node  *html.Node
	Raw   string // leaf data before normalization
}

// FlatText is the flattened text of a subtree plus its segment map.
type FlatText struct {
	Mode     Mode
	Text     string
	Segments []Segment
}

// Flatten concatenates the text leaves under root in document order. It reads
// the live tree on every call; results must not be reused across mutations.
func Flatten(root *html.Node, mode Mode) FlatText {
	ft := FlatText{Mode: mode}
	var b strings.Builder
	for _, leaf := range TextLeaves(root) {
		text := leaf.Data
		if mode == Normalized {
			text = StripSpace(text)
		}
		if text == "" {
			continue
		}
		start := b.Len()
		b.WriteString(text)
		ft.Segments = append(ft.Segments, Segment{
			Start: start,
			End:   b.Len(),
			Node:  leaf,
			Raw:   leaf.Data,
		})
	}
	ft.Text = b.String()
	return ft
}

// StripSpace removes every whitespace rune from s. Invalid UTF-8 bytes are
// kept as-is so byte accounting stays aligned with NormalizedToRaw.
func StripSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// NormalizedToRaw maps a byte offset in StripSpace(raw) back to raw: the
// non-whitespace rune at normalized offset n is located in raw. When no such
// rune exists the result is len(raw).
func NormalizedToRaw(raw string, offset int) int {
	norm := 0
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRuneInString(raw[i:])
		if !unicode.IsSpace(r) {
			if norm == offset {
				return i
			}
			norm += size
		}
		i += size
	}
	return len(raw)
}

// SegmentAt returns the segment containing flattened offset off.
func (f FlatText) SegmentAt(off int) (Segment, bool) {
	i := sort.Search(len(f.Segments), func(i int) bool {
		return f.Segments[i].End > off
	})
	if i < len(f.Segments) && f.Segments[i].Start <= off {
		return f.Segments[i], true
	}
	return Segment{}, false
}

// Point converts a flattened offset that belongs to seg into a position in
// the segment's raw leaf data.
func (f FlatText) Point(seg Segment, off int) Point {
	local := off - seg.Start
	if f.Mode == Normalized {
		local = NormalizedToRaw(seg.Raw, local)
	}
	return Point{Node: seg.Node, Offset: clamp(local, 0, len(seg.Raw))}
}

// OffsetOf returns the flattened offset of p, which must sit in a text leaf
// that contributed a segment.
func (f FlatText) OffsetOf(p Point) (int, bool) {
	if p.Node == nil || p.Node.Type != html.TextNode {
		return 0, false
	}
	for _, seg := range f.Segments {
		if seg.Node != p.Node {
			continue
		}
		local := clamp(p.Offset, 0, len(seg.Raw))
		if f.Mode == Normalized {
			local = len(StripSpace(seg.Raw[:local]))
		}
		return seg.Start + local, true
	}
	return 0, false
}

// RangeAt converts the flattened span [start, end) into a concrete range.
func (f FlatText) RangeAt(start, end int) (Range, bool) {
	if start < 0 || end <= start || end > len(f.Text) {
		return Range{}, false
	}
	startSeg, ok := f.SegmentAt(start)
	if !ok {
		return Range{}, false
	}
	endSeg, ok := f.SegmentAt(end - 1)
	if !ok {
		return Range{}, false
	}
	return Range{Start: f.Point(startSeg, start), End: f.Point(endSeg, end)}, true
}
