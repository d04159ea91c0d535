package resolver

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/dom"
	"github.com/xonecas/threadmark/internal/highlight"
	"github.com/xonecas/threadmark/internal/pending"
	"golang.org/x/net/html"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newDoc(t *testing.T, src string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func markerCount(doc *dom.Document) int {
	n := 0
	doc.Read(func(root *html.Node) {
		n = len(highlight.Markers(root))
	})
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmit_ResolvesImmediately(t *testing.T) {
	doc := newDoc(t, "<p>A cat sat on a cat mat</p>")
	r := New(doc, Options{})
	defer r.Close()

	if !r.Submit(anchor.TextAnchor{Text: "cat", Suffix: " sat"}, false) {
		t.Fatal("expected immediate success")
	}
	if r.Pending() != 0 || r.Watching() {
		t.Errorf("pending = %d watching = %v", r.Pending(), r.Watching())
	}
	if !strings.Contains(doc.String(), `class="threadmark-highlight"`) {
		t.Error("document has no marker")
	}
}

func TestSubmit_InvalidAnchor(t *testing.T) {
	doc := newDoc(t, "<p>text</p>")
	r := New(doc, Options{})
	defer r.Close()

	if r.Submit(anchor.TextAnchor{}, true) {
		t.Error("empty anchor reported success")
	}
	if r.Pending() != 0 {
		t.Error("empty anchor was queued")
	}
}

func TestSubmit_ResolvesAfterContentArrives(t *testing.T) {
	doc := newDoc(t, "<p>streaming...</p>")
	late := make(chan pending.PendingAnchor, 1)
	r := New(doc, Options{
		Debounce:      10 * time.Millisecond,
		OnLateResolve: func(p pending.PendingAnchor) { late <- p },
	})
	defer r.Close()

	if r.Submit(anchor.TextAnchor{Text: "hello"}, false) {
		t.Fatal("hello should not resolve yet")
	}
	if r.Pending() != 1 || !r.Watching() {
		t.Fatalf("pending = %d watching = %v", r.Pending(), r.Watching())
	}
	if doc.Watchers() != 1 {
		t.Errorf("watchers = %d, want 1", doc.Watchers())
	}

	if err := doc.AppendHTML("<p>hello world</p>"); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case p := <-late:
		if p.Text != "hello" {
			t.Errorf("late resolve for %q", p.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending anchor never resolved")
	}
	if r.Pending() != 0 {
		t.Errorf("pending = %d after resolution", r.Pending())
	}
	if r.Watching() || doc.Watchers() != 0 {
		t.Error("watch should be released once the queue drains")
	}
	if markerCount(doc) != 1 {
		t.Errorf("markers = %d, want 1", markerCount(doc))
	}
}

func TestSweep_ExpiredNeverResolves(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	doc := newDoc(t, "<p>nothing yet</p>")
	r := New(doc, Options{PendingTTL: time.Second, Debounce: time.Hour, Now: clock.Now})
	defer r.Close()

	r.Submit(anchor.TextAnchor{Text: "hello"}, false)
	clock.Advance(2 * time.Second)
	doc.AppendText("hello")

	res := r.Sweep()
	if res.Expired != 1 || res.Resolved != 0 || res.Remaining != 0 {
		t.Errorf("sweep = %+v", res)
	}
	if markerCount(doc) != 0 {
		t.Error("expired anchor was highlighted")
	}
	if r.Watching() {
		t.Error("watch should be released after the queue empties")
	}
}

func TestSubmitBatch(t *testing.T) {
	doc := newDoc(t, "<p>alpha beta</p>")
	var changed atomic.Int32
	r := New(doc, Options{Debounce: time.Hour, OnHighlightsChanged: func() { changed.Add(1) }})
	defer r.Close()

	got := r.SubmitBatch([]anchor.TextAnchor{{Text: "alpha"}, {Text: "gamma"}, {Text: "beta"}, {}})
	if got != 2 {
		t.Errorf("SubmitBatch = %d, want 2", got)
	}
	if r.Pending() != 1 || !r.Watching() {
		t.Errorf("pending = %d watching = %v", r.Pending(), r.Watching())
	}
	if markerCount(doc) != 2 {
		t.Errorf("markers = %d, want 2", markerCount(doc))
	}

	// A second batch replaces highlights and pending anchors.
	if got := r.SubmitBatch([]anchor.TextAnchor{{Text: "beta"}}); got != 1 {
		t.Errorf("second SubmitBatch = %d, want 1", got)
	}
	if r.Pending() != 0 {
		t.Errorf("pending = %d, want 0", r.Pending())
	}
	if markerCount(doc) != 1 {
		t.Errorf("markers = %d, want 1", markerCount(doc))
	}
	if doc.Text() != "alpha beta" {
		t.Errorf("text = %q", doc.Text())
	}
	if changed.Load() == 0 {
		t.Error("OnHighlightsChanged never called")
	}
}

func TestRestore(t *testing.T) {
	doc := newDoc(t, "<p>one</p>")
	r := New(doc, Options{Debounce: time.Hour})
	defer r.Close()

	r.Restore([]anchor.TextAnchor{{Text: "one"}, {Text: "two"}})
	if markerCount(doc) != 1 {
		t.Errorf("markers = %d, want 1", markerCount(doc))
	}
	if r.Pending() != 1 || !r.Watching() {
		t.Errorf("pending = %d watching = %v", r.Pending(), r.Watching())
	}
}

func TestRemove(t *testing.T) {
	doc := newDoc(t, "<p>keep this and drop that</p>")
	r := New(doc, Options{})
	defer r.Close()

	r.Submit(anchor.TextAnchor{Text: "keep this"}, false)
	r.Submit(anchor.TextAnchor{Text: "drop that"}, false)

	if got := r.Remove("drop that"); got != 1 {
		t.Errorf("Remove = %d, want 1", got)
	}
	if markerCount(doc) != 1 {
		t.Errorf("markers = %d, want 1", markerCount(doc))
	}
	if doc.Text() != "keep this and drop that" {
		t.Errorf("text = %q", doc.Text())
	}
}

func TestSubmit_RevealAndPulse(t *testing.T) {
	doc := newDoc(t, "<p>look here</p>")
	revealed := make(chan *html.Node, 1)
	r := New(doc, Options{
		PulseDuration: 20 * time.Millisecond,
		OnReveal:      func(m *html.Node) { revealed <- m },
	})
	defer r.Close()

	if !r.Submit(anchor.TextAnchor{Text: "here"}, true) {
		t.Fatal("expected success")
	}

	var m *html.Node
	select {
	case m = <-revealed:
	default:
		t.Fatal("OnReveal not called")
	}

	emphasized := func() bool {
		var on bool
		doc.Read(func(*html.Node) { on = highlight.Emphasized(m) })
		return on
	}
	if !emphasized() {
		t.Fatal("revealed marker should pulse")
	}
	waitFor(t, "pulse to end", func() bool { return !emphasized() })
}

func TestClose(t *testing.T) {
	doc := newDoc(t, "<p>text</p>")
	r := New(doc, Options{Debounce: time.Hour})

	r.Submit(anchor.TextAnchor{Text: "missing"}, false)
	r.Close()

	if r.Pending() != 0 || r.Watching() || doc.Watchers() != 0 {
		t.Errorf("pending = %d watching = %v watchers = %d", r.Pending(), r.Watching(), doc.Watchers())
	}
	if r.Submit(anchor.TextAnchor{Text: "text"}, false) {
		t.Error("closed resolver accepted work")
	}
}
