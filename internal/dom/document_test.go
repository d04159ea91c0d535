package dom

import (
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/net/html"
)

func TestDocument_WatchNotifiesOnChange(t *testing.T) {
	doc, err := ParseString("<p>start</p>")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}

	var calls atomic.Int32
	stop := doc.Watch(func() { calls.Add(1) })

	doc.Mutate(func(*html.Node) bool { return false })
	if calls.Load() != 0 {
		t.Fatalf("unchanged mutation notified %d times", calls.Load())
	}

	doc.AppendText(" more")
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	stop()
	stop() // idempotent
	doc.AppendText(" ignored")
	if calls.Load() != 1 {
		t.Fatalf("stopped watcher was called: %d", calls.Load())
	}
	if doc.Watchers() != 0 {
		t.Errorf("watchers = %d, want 0", doc.Watchers())
	}
}

func TestDocument_AppendHTML(t *testing.T) {
	doc, err := ParseString("<p>one</p>")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if err := doc.AppendHTML("<p>two <b>bold</b></p>"); err != nil {
		t.Fatalf("AppendHTML: %v", err)
	}
	if got := doc.Text(); got != "onetwo bold" {
		t.Errorf("text = %q", got)
	}
	if !strings.Contains(doc.String(), "<p>two <b>bold</b></p>") {
		t.Errorf("rendered = %s", doc.String())
	}
}

func TestSplitTextAndNormalize(t *testing.T) {
	body := parseBody(t, "<p>abcdef</p>")
	p := body.FirstChild
	leaf := p.FirstChild

	tail := SplitText(leaf, 2)
	if leaf.Data != "ab" || tail.Data != "cdef" {
		t.Fatalf("split = %q / %q", leaf.Data, tail.Data)
	}
	if leaf.NextSibling != tail || tail.Parent != p {
		t.Fatal("tail not inserted after head")
	}

	empty := SplitText(tail, len(tail.Data))
	if empty.Data != "" {
		t.Fatalf("expected empty tail, got %q", empty.Data)
	}

	Normalize(p)
	if p.FirstChild != p.LastChild {
		t.Fatal("expected a single merged text node")
	}
	if p.FirstChild.Data != "abcdef" {
		t.Errorf("merged = %q", p.FirstChild.Data)
	}
}

func TestContains(t *testing.T) {
	body := parseBody(t, "<div><p>x</p></div><p>y</p>")
	div := body.FirstChild
	inner := div.FirstChild.FirstChild
	outer := body.LastChild.FirstChild

	if !Contains(div, inner) {
		t.Error("div should contain its text")
	}
	if Contains(div, outer) {
		t.Error("div should not contain a sibling's text")
	}
}
