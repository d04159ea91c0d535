// Package fetch loads HTML documents from local files or http(s) URLs.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/threadmark/internal/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxBytes caps how much of a document is read.
const DefaultMaxBytes = 8 << 20

const userAgent = "Threadmark/0.1"

// cacheEntry stores a fetched body with its timestamp.
type cacheEntry struct {
	body        []byte
	contentType string
	createdAt   time.Time
}

// Cache is an in-memory cache of fetched bodies keyed by URL.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

// NewCache returns a cache whose entries stay fresh for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// get returns the cached entry if it exists and is fresh. Safe on a nil
// receiver (always a miss).
func (c *Cache) get(key string) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.createdAt) > c.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) set(key string, body []byte, contentType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{body: body, contentType: contentType, createdAt: time.Now()}
}

// Loader reads documents. The zero value is not usable; use NewLoader.
type Loader struct {
	Client   *http.Client
	Cache    *Cache
	MaxBytes int64
}

// NewLoader returns a loader with a 15s HTTP timeout and the given cache,
// which may be nil.
func NewLoader(cache *Cache) *Loader {
	return &Loader{
		Client:   &http.Client{Timeout: 15 * time.Second},
		Cache:    cache,
		MaxBytes: DefaultMaxBytes,
	}
}

// IsURL reports whether src names an http(s) resource rather than a file.
func IsURL(src string) bool {
	u, err := url.Parse(src)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Load reads src, a file path or http(s) URL, into a document. Non-HTML
// responses become a document holding the body as preformatted text.
func (l *Loader) Load(ctx context.Context, src string) (*dom.Document, error) {
	if !IsURL(src) {
		f, err := os.Open(src) //nolint:gosec // G304: path chosen by the user
		if err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
		defer f.Close()
		body, err := io.ReadAll(io.LimitReader(f, l.MaxBytes))
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		return dom.Parse(bytes.NewReader(body))
	}

	body, contentType, err := l.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if isHTML(contentType) {
		return dom.Parse(bytes.NewReader(body))
	}
	return PlainText(string(body)), nil
}

func (l *Loader) fetch(ctx context.Context, src string) ([]byte, string, error) {
	if entry, ok := l.Cache.get(src); ok {
		log.Debug().Str("url", src).Msg("Fetch cache hit")
		return entry.body, entry.contentType, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("bad url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("fetch %s: HTTP %d: %s", src, resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.MaxBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read failed: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	l.Cache.set(src, body, contentType)
	log.Debug().Str("url", src).Int("bytes", len(body)).Msg("Fetched document")
	return body, contentType, nil
}

// isHTML treats a missing content type as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// PlainText builds a document whose body is a single <pre> holding text.
func PlainText(text string) *dom.Document {
	root := &html.Node{Type: html.DocumentNode}
	htmlEl := element(atom.Html)
	body := element(atom.Body)
	pre := element(atom.Pre)
	root.AppendChild(htmlEl)
	htmlEl.AppendChild(element(atom.Head))
	htmlEl.AppendChild(body)
	body.AppendChild(pre)
	pre.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return dom.NewDocument(root)
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
}
