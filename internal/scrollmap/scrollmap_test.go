package scrollmap

import (
	"strings"
	"testing"

	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/dom"
	"github.com/xonecas/threadmark/internal/highlight"
	"golang.org/x/net/html"
)

func TestCompute(t *testing.T) {
	root, err := html.Parse(strings.NewReader("<p>one</p>\n<p>two three</p>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	body := dom.Body(root)

	for _, text := range []string{"three", "one"} {
		c, ok := anchor.Resolve(body, anchor.TextAnchor{Text: text})
		if !ok {
			t.Fatalf("%q did not resolve", text)
		}
		highlight.Apply(c.Range)
	}
	before := dom.TextContent(body)

	got := Compute(body)
	if len(got) != 2 {
		t.Fatalf("markers = %d, want 2", len(got))
	}

	tests := []struct {
		text   string
		offset int
		line   int
		ratio  float64
	}{
		{"one", 0, 1, 0},
		{"three", 8, 2, 8.0 / 13.0},
	}
	for i, tt := range tests {
		m := got[i]
		if m.Text != tt.text || m.Offset != tt.offset || m.Line != tt.line || m.Ratio != tt.ratio {
			t.Errorf("marker %d = %+v, want %+v", i, m, tt)
		}
	}

	if dom.TextContent(body) != before || len(highlight.Markers(body)) != 2 {
		t.Error("Compute modified the tree")
	}
}

func TestCompute_NoMarkers(t *testing.T) {
	root, err := html.Parse(strings.NewReader("<p>plain</p>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := Compute(dom.Body(root)); len(got) != 0 {
		t.Errorf("markers = %d, want 0", len(got))
	}
}
