package anchor

import (
	"errors"
	"strings"
	"testing"

	"github.com/xonecas/threadmark/internal/dom"
	"golang.org/x/net/html"
)

func selection(t *testing.T, root *html.Node, start, end int) dom.Range {
	t.Helper()
	rng, ok := dom.Flatten(root, dom.Exact).RangeAt(start, end)
	if !ok {
		t.Fatalf("no range for [%d, %d)", start, end)
	}
	return rng
}

func TestCapture_DuplicateFragment(t *testing.T) {
	body := parseBody(t, "<p>A cat sat on a <i>cat</i> mat</p>")

	a, err := Capture(body, selection(t, body, 15, 18), 0)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if a.Text != "cat" {
		t.Errorf("text = %q", a.Text)
	}
	if a.Prefix != "A cat sat on a " || a.Suffix != " mat" {
		t.Errorf("context = %q / %q", a.Prefix, a.Suffix)
	}
	if a.Occurrence == nil || *a.Occurrence != 1 {
		t.Fatalf("occurrence = %v, want 1", a.Occurrence)
	}

	// The captured anchor resolves back to the selected instance.
	c, ok := Resolve(body, a)
	if !ok || c.Start != 15 {
		t.Errorf("resolved start = %d (ok=%v), want 15", c.Start, ok)
	}
}

func TestCapture_TrimsWhitespace(t *testing.T) {
	body := parseBody(t, "<p>one two three</p>")

	a, err := Capture(body, selection(t, body, 3, 8), 0)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if a.Text != "two" || a.Prefix != "one " || a.Suffix != " three" {
		t.Errorf("anchor = %+v", a)
	}
	if a.Occurrence != nil {
		t.Errorf("unique fragment got occurrence %d", *a.Occurrence)
	}
}

func TestCapture_ContextLimit(t *testing.T) {
	long := strings.Repeat("é", 20)
	body := parseBody(t, "<p>"+long+"MID"+long+"</p>")
	start := len(long)

	a, err := Capture(body, selection(t, body, start, start+3), 5)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if a.Prefix != strings.Repeat("é", 5) || a.Suffix != strings.Repeat("é", 5) {
		t.Errorf("context = %q / %q", a.Prefix, a.Suffix)
	}
}

func TestCapture_EmptySelection(t *testing.T) {
	body := parseBody(t, "<p>a   b</p>")

	if _, err := Capture(body, selection(t, body, 1, 4), 0); !errors.Is(err, ErrEmptySelection) {
		t.Errorf("err = %v, want ErrEmptySelection", err)
	}
}

func TestCapture_OutsideRoot(t *testing.T) {
	body := parseBody(t, "<p>inside</p>")
	stray := &html.Node{Type: html.TextNode, Data: "stray"}

	_, err := Capture(body, dom.Range{Start: dom.Point{Node: stray}, End: dom.Point{Node: stray, Offset: 3}}, 0)
	if !errors.Is(err, ErrSelectionOutsideRoot) {
		t.Errorf("err = %v, want ErrSelectionOutsideRoot", err)
	}
}

func TestLocateOccurrenceIndex(t *testing.T) {
	body := parseBody(t, "<p>ab ab ab</p>")

	tests := []struct {
		name       string
		start, end int
		want       int
		ok         bool
	}{
		{"first", 0, 2, 0, true},
		{"third", 6, 8, 2, true},
		{"overlap", 4, 6, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LocateOccurrenceIndex(body, "ab", selection(t, body, tt.start, tt.end))
			if ok != tt.ok || got != tt.want {
				t.Errorf("got %d, %v; want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}

	if _, ok := LocateOccurrenceIndex(body, "ab ab ab", selection(t, body, 0, 8)); ok {
		t.Error("unique fragment should not report an occurrence")
	}
}
