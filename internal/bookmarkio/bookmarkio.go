// Package bookmarkio exports and imports bookmarks as YAML archives.
package bookmarkio

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/xonecas/threadmark/internal/store"
	"gopkg.in/yaml.v3"
)

// Version is the archive format version written by Export.
const Version = 1

// Archive is the YAML document.
type Archive struct {
	Version  int       `yaml:"version"`
	Exported time.Time `yaml:"exported"`
	Threads  []Thread  `yaml:"threads"`
}

// Thread is one thread and its bookmarks, oldest first.
type Thread struct {
	URL       string     `yaml:"url"`
	Title     string     `yaml:"title,omitempty"`
	Created   time.Time  `yaml:"created"`
	Updated   time.Time  `yaml:"updated"`
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// Bookmark is one archived bookmark.
type Bookmark struct {
	ID         string    `yaml:"id"`
	Text       string    `yaml:"text"`
	Prefix     string    `yaml:"prefix,omitempty"`
	Suffix     string    `yaml:"suffix,omitempty"`
	Occurrence *int      `yaml:"occurrence,omitempty"`
	Tags       []string  `yaml:"tags,omitempty"`
	Created    time.Time `yaml:"created"`
}

// Source is what Export reads from.
type Source interface {
	Threads() ([]store.Thread, error)
	ListBookmarks(f store.Filter) ([]store.Bookmark, error)
}

// Sink is what Import writes to.
type Sink interface {
	PutBookmark(t store.Thread, b store.Bookmark) error
}

// Export writes every thread and bookmark in src to w.
func Export(w io.Writer, src Source, now time.Time) error {
	threads, err := src.Threads()
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	archive := Archive{Version: Version, Exported: now.UTC()}
	for _, t := range threads {
		bookmarks, err := src.ListBookmarks(store.Filter{ThreadID: t.ID})
		if err != nil {
			return fmt.Errorf("list bookmarks for %s: %w", t.ID, err)
		}
		slices.SortStableFunc(bookmarks, func(a, b store.Bookmark) int {
			return a.Created.Compare(b.Created)
		})

		at := Thread{URL: t.URL, Title: t.Title, Created: t.Created.UTC(), Updated: t.Updated.UTC()}
		for _, b := range bookmarks {
			at.Bookmarks = append(at.Bookmarks, Bookmark{
				ID:         b.ID,
				Text:       b.Text,
				Prefix:     b.Prefix,
				Suffix:     b.Suffix,
				Occurrence: b.Occurrence,
				Tags:       b.Tags,
				Created:    b.Created.UTC(),
			})
		}
		archive.Threads = append(archive.Threads, at)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(archive); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	return enc.Close()
}

// Import reads an archive from r into dst and returns how many bookmarks it
// stored. Bookmarks keep their IDs, so importing twice is idempotent.
func Import(r io.Reader, dst Sink) (int, error) {
	var archive Archive
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&archive); err != nil {
		return 0, fmt.Errorf("parse archive: %w", err)
	}
	if errs := archive.Validate(); len(errs) > 0 {
		return 0, fmt.Errorf("invalid archive: %s", strings.Join(errs, "; "))
	}

	n := 0
	for _, t := range archive.Threads {
		thread := store.Thread{ID: t.URL, URL: t.URL, Title: t.Title, Created: t.Created, Updated: t.Updated}
		for _, b := range t.Bookmarks {
			err := dst.PutBookmark(thread, store.Bookmark{
				ID:         b.ID,
				ThreadID:   t.URL,
				Text:       b.Text,
				Prefix:     b.Prefix,
				Suffix:     b.Suffix,
				Occurrence: b.Occurrence,
				Tags:       b.Tags,
				Created:    b.Created,
			})
			if err != nil {
				return n, fmt.Errorf("import bookmark %s: %w", b.ID, err)
			}
			n++
		}
	}
	return n, nil
}

// Validate returns a message per problem found.
func (a Archive) Validate() []string {
	var errs []string

	if a.Version != Version {
		errs = append(errs, fmt.Sprintf("unsupported archive version %d", a.Version))
	}
	for i, t := range a.Threads {
		if strings.TrimSpace(t.URL) == "" {
			errs = append(errs, fmt.Sprintf("threads[%d].url is required", i))
		}
		for j, b := range t.Bookmarks {
			if strings.TrimSpace(b.Text) == "" {
				errs = append(errs, fmt.Sprintf("threads[%d].bookmarks[%d].text is required", i, j))
			}
		}
	}
	return errs
}
