// Package bus routes the typed request/response messages exchanged between
// the capture UI, the background side and a page's highlight engine.
package bus

import (
	"errors"

	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/store"
)

// Kind names a message type.
type Kind string

// Page-side kinds.
const (
	KindResolveOne   Kind = "RESOLVE_ONE"
	KindResolveBatch Kind = "RESOLVE_BATCH"
	KindRemove       Kind = "REMOVE"
)

// Background-side kinds.
const (
	KindPing              Kind = "PING"
	KindBookmarksForURL   Kind = "GET_BOOKMARKS_FOR_URL"
	KindBookmarkRequested Kind = "BOOKMARK_REQUESTED"
)

var (
	// ErrUnknownKind is returned when no handler is registered for a kind.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrInvalidMessage is returned when a message lacks a required field.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is a request on the bus. Which fields are read depends on Kind.
type Message struct {
	Kind       Kind                   `json:"type"`
	Anchor     *anchor.TextAnchor     `json:"anchor,omitempty"`
	WantScroll bool                   `json:"wantScroll,omitempty"`
	Anchors    []anchor.TextAnchor    `json:"anchors,omitempty"`
	Text       string                 `json:"text,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Bookmark   *store.BookmarkPayload `json:"payload,omitempty"`
}

// Reply answers a Message.
type Reply struct {
	Success    bool             `json:"success"`
	Count      *int             `json:"count,omitempty"`
	BookmarkID string           `json:"bookmarkId,omitempty"`
	Bookmarks  []store.Bookmark `json:"bookmarks,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// NewErrorReply wraps err in a failed reply.
func NewErrorReply(err error) *Reply {
	return &Reply{Error: err.Error()}
}

func countReply(n int) *Reply {
	return &Reply{Success: true, Count: &n}
}
