// Package store persists threads and the bookmarks captured in them in a
// SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/threadmark/internal/anchor"
	_ "modernc.org/sqlite" // register sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id  TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL,
	created    INTEGER NOT NULL,
	updated    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bookmarks (
	bookmark_id  TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL REFERENCES threads(thread_id) ON DELETE CASCADE,
	text         TEXT NOT NULL,
	prefix       TEXT NOT NULL DEFAULT '',
	suffix       TEXT NOT NULL DEFAULT '',
	occurrence   INTEGER,
	tags         TEXT NOT NULL DEFAULT '[]',
	created      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_url ON threads(url);
CREATE INDEX IF NOT EXISTS idx_bookmarks_thread ON bookmarks(thread_id);
CREATE INDEX IF NOT EXISTS idx_bookmarks_created ON bookmarks(created);
`

// DefaultTitle names threads saved without a title.
const DefaultTitle = "Untitled Chat"

var (
	// ErrNotFound is returned when a thread or bookmark does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyText is returned when saving a bookmark without text.
	ErrEmptyText = errors.New("bookmark text is empty")

	// ErrEmptyURL is returned when saving a bookmark without a page URL.
	ErrEmptyURL = errors.New("bookmark url is empty")
)

// Thread is one conversation page. Its ID is the page URL.
type Thread struct {
	ID      string    `json:"threadId" yaml:"thread_id"`
	URL     string    `json:"url" yaml:"url"`
	Title   string    `json:"title" yaml:"title"`
	Created time.Time `json:"createdAt" yaml:"created"`
	Updated time.Time `json:"updatedAt" yaml:"updated"`
}

// Bookmark is a saved anchor within a thread.
type Bookmark struct {
	ID         string    `json:"bookmarkId" yaml:"id"`
	ThreadID   string    `json:"threadId" yaml:"thread_id"`
	Text       string    `json:"text" yaml:"text"`
	Prefix     string    `json:"prefix" yaml:"prefix,omitempty"`
	Suffix     string    `json:"suffix" yaml:"suffix,omitempty"`
	Occurrence *int      `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
	Tags       []string  `json:"tags" yaml:"tags,omitempty"`
	Created    time.Time `json:"createdAt" yaml:"created"`
}

// Anchor returns the locator stored in the bookmark.
func (b Bookmark) Anchor() anchor.TextAnchor {
	return anchor.TextAnchor{Text: b.Text, Prefix: b.Prefix, Suffix: b.Suffix, Occurrence: b.Occurrence}
}

// BookmarkPayload is a bookmark request as sent by the capture UI.
type BookmarkPayload struct {
	Text       string   `json:"text"`
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	Suffix     string   `json:"suffix,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"` // unix milliseconds
	Tags       []string `json:"tags,omitempty"`
	Occurrence *int     `json:"occurrence,omitempty"`
}

// Filter narrows ListBookmarks. Zero fields match everything.
type Filter struct {
	Query    string
	ThreadID string
	Since    time.Time
	Limit    int
}

// Store is a SQLite-backed bookmark database.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a bookmark database at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open bookmark db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// SaveBookmark stores a new bookmark, creating its thread on first use or
// bumping the thread's update time and title otherwise.
func (s *Store) SaveBookmark(p BookmarkPayload) (Bookmark, error) {
	if strings.TrimSpace(p.Text) == "" {
		return Bookmark{}, ErrEmptyText
	}
	if p.URL == "" {
		return Bookmark{}, ErrEmptyURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := now
	if p.Timestamp > 0 {
		created = time.UnixMilli(p.Timestamp)
	}
	b := Bookmark{
		ID:         uuid.NewString(),
		ThreadID:   p.URL,
		Text:       p.Text,
		Prefix:     p.Prefix,
		Suffix:     p.Suffix,
		Occurrence: p.Occurrence,
		Tags:       p.Tags,
		Created:    created,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Bookmark{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := upsertThread(tx, Thread{ID: p.URL, URL: p.URL, Title: p.Title, Created: now, Updated: now}); err != nil {
		return Bookmark{}, err
	}
	if err := insertBookmark(tx, b); err != nil {
		return Bookmark{}, err
	}
	if err := tx.Commit(); err != nil {
		return Bookmark{}, fmt.Errorf("commit: %w", err)
	}

	log.Debug().Str("bookmark", b.ID).Str("thread", b.ThreadID).Msg("Saved bookmark")
	return b, nil
}

// PutBookmark stores b as is, replacing any bookmark with the same ID. The
// thread is created or updated from t.
func (s *Store) PutBookmark(t Thread, b Bookmark) error {
	if strings.TrimSpace(b.Text) == "" {
		return ErrEmptyText
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if t.ID == "" {
		t.ID = b.ThreadID
	}
	if t.URL == "" {
		t.URL = t.ID
	}
	if t.ID == "" {
		return ErrEmptyURL
	}
	b.ThreadID = t.ID
	now := s.now()
	if b.Created.IsZero() {
		b.Created = now
	}
	if t.Created.IsZero() {
		t.Created = b.Created
	}
	if t.Updated.IsZero() {
		t.Updated = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := upsertThread(tx, t); err != nil {
		return err
	}
	if err := insertBookmark(tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// BookmarksForURL returns the bookmarks of every thread whose ID is contained
// in url, oldest first. Safe to call on a nil receiver (returns none).
func (s *Store) BookmarksForURL(url string) ([]Bookmark, error) {
	if s == nil || url == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT "+bookmarkColumns+" FROM bookmarks WHERE instr(?, thread_id) > 0 ORDER BY created, rowid",
		url,
	)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	return collectBookmarks(rows)
}

// ListBookmarks searches bookmarks, newest first. Query matches text, tags and
// thread title case-insensitively.
func (s *Store) ListBookmarks(f Filter) ([]Bookmark, error) {
	if s == nil {
		return nil, nil
	}

	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(lower(b.text) LIKE ? ESCAPE '\' OR lower(b.tags) LIKE ? ESCAPE '\' OR lower(t.title) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if f.ThreadID != "" {
		where = append(where, "b.thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if !f.Since.IsZero() {
		where = append(where, "b.created >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := "SELECT " + prefixed("b.", bookmarkColumns) + " FROM bookmarks b JOIN threads t ON t.thread_id = b.thread_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.created DESC, b.rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return collectBookmarks(rows)
}

// Bookmark returns the bookmark with the given ID.
func (s *Store) Bookmark(id string) (Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := scanBookmark(s.db.QueryRow("SELECT "+bookmarkColumns+" FROM bookmarks WHERE bookmark_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Bookmark{}, fmt.Errorf("bookmark %s: %w", id, ErrNotFound)
	}
	return b, err
}

// DeleteBookmark removes a bookmark.
func (s *Store) DeleteBookmark(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM bookmarks WHERE bookmark_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bookmark %s: %w", id, ErrNotFound)
	}
	return nil
}

// Threads returns every thread, most recently updated first.
func (s *Store) Threads() ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT thread_id, url, title, created, updated FROM threads ORDER BY updated DESC, thread_id")
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var (
			t                Thread
			created, updated int64
		)
		if err := rows.Scan(&t.ID, &t.URL, &t.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		t.Created = time.UnixMilli(created)
		t.Updated = time.UnixMilli(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Thread returns the thread with the given ID.
func (s *Store) Thread(id string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		t                Thread
		created, updated int64
	)
	err := s.db.QueryRow("SELECT thread_id, url, title, created, updated FROM threads WHERE thread_id = ?", id).
		Scan(&t.ID, &t.URL, &t.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	t.Created = time.UnixMilli(created)
	t.Updated = time.UnixMilli(updated)
	return t, nil
}

// --- Helpers ---

const bookmarkColumns = "bookmark_id, thread_id, text, prefix, suffix, occurrence, tags, created"

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// upsertThread creates the thread or bumps its update time, adopting a new
// non-empty title.
func upsertThread(tx *sql.Tx, t Thread) error {
	title := t.Title
	if title == "" {
		title = DefaultTitle
	}
	_, err := tx.Exec(`
		INSERT INTO threads (thread_id, url, title, created, updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			updated = excluded.updated,
			title = CASE WHEN ? != '' THEN excluded.title ELSE threads.title END`,
		t.ID, t.URL, title, t.Created.UnixMilli(), t.Updated.UnixMilli(), t.Title,
	)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

func insertBookmark(tx *sql.Tx, b Bookmark) error {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	var occurrence sql.NullInt64
	if b.Occurrence != nil {
		occurrence = sql.NullInt64{Int64: int64(*b.Occurrence), Valid: true}
	}
	_, err = tx.Exec(
		"INSERT OR REPLACE INTO bookmarks ("+bookmarkColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		b.ID, b.ThreadID, b.Text, b.Prefix, b.Suffix, occurrence, string(tagsJSON), b.Created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row scanner) (Bookmark, error) {
	var (
		b          Bookmark
		occurrence sql.NullInt64
		tags       string
		created    int64
	)
	if err := row.Scan(&b.ID, &b.ThreadID, &b.Text, &b.Prefix, &b.Suffix, &occurrence, &tags, &created); err != nil {
		return Bookmark{}, err
	}
	if occurrence.Valid {
		b.Occurrence = anchor.Occurrence(int(occurrence.Int64))
	}
	if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
		log.Warn().Err(err).Str("bookmark", b.ID).Msg("failed to decode bookmark tags")
	}
	b.Created = time.UnixMilli(created)
	return b, nil
}

func collectBookmarks(rows *sql.Rows) ([]Bookmark, error) {
	defer rows.Close()
	var out []Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE wildcards so user queries match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
