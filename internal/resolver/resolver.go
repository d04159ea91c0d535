// Package resolver drives anchor resolution against a live document: it
// highlights what it can find immediately, parks the rest in a pending queue
// and retries them whenever the document has been quiet for a moment.
package resolver

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/debounce"
	"github.com/xonecas/threadmark/internal/dom"
	"github.com/xonecas/threadmark/internal/highlight"
	"github.com/xonecas/threadmark/internal/pending"
	"golang.org/x/net/html"
)

// Defaults used for zero Options fields.
const (
	DefaultPendingTTL    = 30 * time.Second
	DefaultDebounce      = 500 * time.Millisecond
	DefaultPulseDuration = time.Second
)

// Options configures a Resolver.
type Options struct {
	PendingTTL    time.Duration
	Debounce      time.Duration
	PulseDuration time.Duration

	// Now is the clock; time.Now when nil.
	Now func() time.Time
	// Root picks the subtree searched for anchors; <body> when nil.
	Root func(doc *html.Node) *html.Node

	// OnReveal is called with the first marker of a resolution that asked to
	// be scrolled into view.
	OnReveal func(marker *html.Node)
	// OnLateResolve is called for every pending anchor resolved by a sweep.
	OnLateResolve func(pending.PendingAnchor)
	// OnHighlightsChanged is called after markers were added or removed.
	OnHighlightsChanged func()
}

func (o Options) withDefaults() Options {
	if o.PendingTTL <= 0 {
		o.PendingTTL = DefaultPendingTTL
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.PulseDuration <= 0 {
		o.PulseDuration = DefaultPulseDuration
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Root == nil {
		o.Root = dom.Body
	}
	return o
}

// Resolver owns the resolution state for one document. Methods are safe for
// concurrent use.
type Resolver struct {
	doc  *dom.Document
	opts Options

	queue     pending.Queue
	debouncer *debounce.Debouncer

	mu        sync.Mutex
	stopWatch func()
	pulses    map[*time.Timer]struct{}
	closed    bool
}

// New returns a resolver for doc. No watch is active until an anchor is
// queued.
func New(doc *dom.Document, opts Options) *Resolver {
	r := &Resolver{
		doc:    doc,
		opts:   opts.withDefaults(),
		pulses: make(map[*time.Timer]struct{}),
	}
	r.debouncer = debounce.New(r.opts.Debounce, r.debouncedSweep)
	return r
}

type resolution struct {
	anchor pending.PendingAnchor
	marker *html.Node
}

// Submit attempts to resolve a. On failure the anchor is queued until
// PendingTTL elapses. It reports whether a was highlighted now.
func (r *Resolver) Submit(a anchor.TextAnchor, scroll bool) bool {
	if err := a.Validate(); err != nil {
		log.Debug().Err(err).Msg("Rejected anchor")
		return false
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	marker, ok := r.attempt(a, scroll)
	if !ok {
		r.enqueue(pending.PendingAnchor{TextAnchor: a, ExpiresAt: r.opts.Now().Add(r.opts.PendingTTL), Scroll: scroll})
	}
	r.mu.Unlock()

	if ok {
		r.notifyResolved(nil, []resolution{{anchor: pending.PendingAnchor{TextAnchor: a, Scroll: scroll}, marker: marker}})
	} else {
		log.Debug().Str("text", a.Text).Msg("Anchor queued")
	}
	return ok
}

// SubmitBatch replaces every highlight and pending anchor with anchors,
// resolving them without scrolling. It returns how many resolved now.
func (r *Resolver) SubmitBatch(anchors []anchor.TextAnchor) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}

	cleared := 0
	r.doc.Mutate(func(root *html.Node) bool {
		cleared = highlight.Clear(r.opts.Root(root))
		return cleared > 0
	})
	r.queue.Clear()
	r.stopPulses()

	count := 0
	expires := r.opts.Now().Add(r.opts.PendingTTL)
	for _, a := range anchors {
		if a.Validate() != nil {
			continue
		}
		if _, ok := r.attempt(a, false); ok {
			count++
			continue
		}
		r.enqueue(pending.PendingAnchor{TextAnchor: a, ExpiresAt: expires})
	}
	queued := r.queue.Len()
	r.mu.Unlock()

	log.Debug().Int("resolved", count).Int("pending", queued).Int("cleared", cleared).Msg("Batch resolved")
	if count > 0 || cleared > 0 {
		r.highlightsChanged()
	}
	return count
}

// Restore queues anchors passively and sweeps once, for highlighting stored
// bookmarks when a document opens.
func (r *Resolver) Restore(anchors []anchor.TextAnchor) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	expires := r.opts.Now().Add(r.opts.PendingTTL)
	for _, a := range anchors {
		if a.Validate() == nil {
			r.enqueue(pending.PendingAnchor{TextAnchor: a, ExpiresAt: expires})
		}
	}
	r.mu.Unlock()

	r.Sweep()
}

// Remove unwraps every marker matching text and returns how many it removed.
func (r *Resolver) Remove(text string) int {
	n := 0
	r.doc.Mutate(func(root *html.Node) bool {
		n = highlight.Remove(r.opts.Root(root), text)
		return n > 0
	})
	if n > 0 {
		r.highlightsChanged()
	}
	return n
}

// Sweep drops expired anchors and retries the rest, newest first. The watch
// is released once nothing is left to wait for.
func (r *Resolver) Sweep() pending.SweepResult {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return pending.SweepResult{}
	}
	var late []resolution
	res := r.queue.Sweep(r.opts.Now(), func(p pending.PendingAnchor) bool {
		marker, ok := r.attempt(p.TextAnchor, p.Scroll)
		if ok {
			late = append(late, resolution{anchor: p, marker: marker})
		}
		return ok
	})
	if res.Remaining == 0 {
		r.releaseWatch()
	}
	r.mu.Unlock()

	if res.Expired > 0 {
		log.Debug().Int("count", res.Expired).Msg("Pending anchors expired")
	}
	for _, l := range late {
		log.Info().Str("text", l.anchor.Text).Msg("Pending anchor resolved")
	}
	r.notifyResolved(r.opts.OnLateResolve, late)
	return res
}

// Pending returns the number of queued anchors.
func (r *Resolver) Pending() int {
	return r.queue.Len()
}

// Watching reports whether document changes currently schedule sweeps.
func (r *Resolver) Watching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopWatch != nil
}

// Close releases the watch, cancels timers and drops the queue. The resolver
// ignores every call afterwards.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.releaseWatch()
	r.debouncer.Stop()
	r.stopPulses()
	r.queue.Clear()
}

func (r *Resolver) debouncedSweep() {
	if r.queue.Len() == 0 {
		return
	}
	r.Sweep()
}

// attempt resolves a and highlights it. Callers hold r.mu.
func (r *Resolver) attempt(a anchor.TextAnchor, scroll bool) (*html.Node, bool) {
	var first *html.Node
	ok := r.doc.Mutate(func(root *html.Node) bool {
		c, found := anchor.Resolve(r.opts.Root(root), a)
		if !found {
			return false
		}
		markers := highlight.Apply(c.Range)
		if len(markers) == 0 {
			return false
		}
		first = markers[0]
		if scroll {
			highlight.Emphasize(first)
		}
		return true
	})
	if ok && scroll {
		r.schedulePulseEnd(first)
	}
	return first, ok
}

// enqueue queues p and arms the watch. Callers hold r.mu.
func (r *Resolver) enqueue(p pending.PendingAnchor) {
	r.queue.Push(p)
	if r.stopWatch == nil {
		r.stopWatch = r.doc.Watch(r.debouncer.Trigger)
	}
}

// releaseWatch stops reacting to document changes. Callers hold r.mu.
func (r *Resolver) releaseWatch() {
	if r.stopWatch != nil {
		r.stopWatch()
		r.stopWatch = nil
	}
}

// schedulePulseEnd clears the focus pulse after PulseDuration. Callers hold
// r.mu.
func (r *Resolver) schedulePulseEnd(marker *html.Node) {
	var t *time.Timer
	t = time.AfterFunc(r.opts.PulseDuration, func() {
		r.mu.Lock()
		_, live := r.pulses[t]
		delete(r.pulses, t)
		r.mu.Unlock()
		if !live {
			return
		}
		// Attribute changes are not content changes; watchers stay quiet.
		r.doc.Mutate(func(*html.Node) bool {
			highlight.Deemphasize(marker)
			return false
		})
	})
	r.pulses[t] = struct{}{}
}

// stopPulses cancels outstanding pulse timers. Callers hold r.mu.
func (r *Resolver) stopPulses() {
	for t := range r.pulses {
		t.Stop()
		delete(r.pulses, t)
	}
}

func (r *Resolver) notifyResolved(hook func(pending.PendingAnchor), rs []resolution) {
	if len(rs) == 0 {
		return
	}
	for _, res := range rs {
		if hook != nil {
			hook(res.anchor)
		}
		if res.anchor.Scroll && r.opts.OnReveal != nil {
			r.opts.OnReveal(res.marker)
		}
	}
	r.highlightsChanged()
}

func (r *Resolver) highlightsChanged() {
	if r.opts.OnHighlightsChanged != nil {
		r.opts.OnHighlightsChanged()
	}
}
