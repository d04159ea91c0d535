package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a live HTML tree shared between content producers and the
// highlight engine. All access goes through Read and Mutate so a mutation is
// fully applied before the next reader observes the tree.
type Document struct {
	mu   sync.Mutex
	root *html.Node

	wmu      sync.Mutex
	watchers map[uint64]func()
	nextID   uint64
}

// NewDocument wraps an already parsed tree.
func NewDocument(root *html.Node) *Document {
	return &Document{root: root, watchers: make(map[uint64]func())}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return NewDocument(root), nil
}

// ParseString is Parse for an in-memory document.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Read runs fn with shared access to the tree. fn must not mutate it.
func (d *Document) Read(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Mutate runs fn with exclusive access to the tree. If fn reports a change,
// watchers are notified once after the lock is released.
func (d *Document) Mutate(fn func(root *html.Node) bool) bool {
	d.mu.Lock()
	changed := fn(d.root)
	d.mu.Unlock()

	if changed {
		d.notify()
	}
	return changed
}

// Watch registers fn to be called after every changing Mutate. The returned
// stop function unregisters it and is safe to call more than once.
func (d *Document) Watch(fn func()) (stop func()) {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	d.nextID++
	id := d.nextID
	d.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.wmu.Lock()
			defer d.wmu.Unlock()
			delete(d.watchers, id)
		})
	}
}

// Watchers returns the number of registered change listeners.
func (d *Document) Watchers() int {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return len(d.watchers)
}

func (d *Document) notify() {
	d.wmu.Lock()
	fns := make([]func(), 0, len(d.watchers))
	for _, fn := range d.watchers {
		fns = append(fns, fn)
	}
	d.wmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// AppendHTML parses fragment in the context of <body> and appends the
// resulting nodes to it, as streamed content would arrive.
func (d *Document) AppendHTML(fragment string) error {
	var parseErr error
	d.Mutate(func(root *html.Node) bool {
		body := Body(root)
		ctxNode := body
		if ctxNode.Type != html.ElementNode {
			ctxNode = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		}
		nodes, err := html.ParseFragment(strings.NewReader(fragment), ctxNode)
		if err != nil {
			parseErr = fmt.Errorf("parse fragment: %w", err)
			return false
		}
		for _, n := range nodes {
			body.AppendChild(n)
		}
		return len(nodes) > 0
	})
	return parseErr
}

// AppendText appends a bare text node to <body>.
func (d *Document) AppendText(text string) {
	if text == "" {
		return
	}
	d.Mutate(func(root *html.Node) bool {
		Body(root).AppendChild(&html.Node{Type: html.TextNode, Data: text})
		return true
	})
}

// Text returns the concatenated text content of <body>.
func (d *Document) Text() string {
	var s string
	d.Read(func(root *html.Node) {
		s = TextContent(Body(root))
	})
	return s
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	var err error
	d.Read(func(root *html.Node) {
		err = html.Render(w, root)
	})
	return err
}

// String renders the document, returning "" on render failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}
