package bus

import (
	"context"
	"fmt"

	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/store"
)

// Highlighter is the page-side engine the content handlers drive.
type Highlighter interface {
	Submit(a anchor.TextAnchor, scroll bool) bool
	SubmitBatch(anchors []anchor.TextAnchor) int
	Remove(text string) int
}

// Bookmarks is the storage the background handlers use.
type Bookmarks interface {
	SaveBookmark(p store.BookmarkPayload) (store.Bookmark, error)
	BookmarksForURL(url string) ([]store.Bookmark, error)
}

// MakeResolveOneHandler highlights a single anchor. Success reports whether
// it resolved immediately; otherwise it stays pending.
func MakeResolveOneHandler(h Highlighter) Handler {
	return func(_ context.Context, msg *Message) (*Reply, error) {
		if msg.Anchor == nil {
			return nil, fmt.Errorf("%w: anchor is required", ErrInvalidMessage)
		}
		return &Reply{Success: h.Submit(*msg.Anchor, msg.WantScroll)}, nil
	}
}

// MakeResolveBatchHandler replaces all highlights with msg.Anchors.
func MakeResolveBatchHandler(h Highlighter) Handler {
	return func(_ context.Context, msg *Message) (*Reply, error) {
		return countReply(h.SubmitBatch(msg.Anchors)), nil
	}
}

// MakeRemoveHandler unwraps highlights matching msg.Text.
func MakeRemoveHandler(h Highlighter) Handler {
	return func(_ context.Context, msg *Message) (*Reply, error) {
		if msg.Text == "" {
			return nil, fmt.Errorf("%w: text is required", ErrInvalidMessage)
		}
		return countReply(h.Remove(msg.Text)), nil
	}
}

// MakePingHandler answers liveness probes.
func MakePingHandler() Handler {
	return func(context.Context, *Message) (*Reply, error) {
		return &Reply{Success: true}, nil
	}
}

// MakeBookmarksForURLHandler returns the stored bookmarks for msg.URL.
func MakeBookmarksForURLHandler(b Bookmarks) Handler {
	return func(_ context.Context, msg *Message) (*Reply, error) {
		if msg.URL == "" {
			return nil, fmt.Errorf("%w: url is required", ErrInvalidMessage)
		}
		bookmarks, err := b.BookmarksForURL(msg.URL)
		if err != nil {
			return NewErrorReply(err), nil
		}
		return &Reply{Success: true, Bookmarks: bookmarks}, nil
	}
}

// MakeSaveBookmarkHandler stores msg.Bookmark.
func MakeSaveBookmarkHandler(b Bookmarks) Handler {
	return func(_ context.Context, msg *Message) (*Reply, error) {
		if msg.Bookmark == nil {
			return nil, fmt.Errorf("%w: payload is required", ErrInvalidMessage)
		}
		saved, err := b.SaveBookmark(*msg.Bookmark)
		if err != nil {
			return NewErrorReply(err), nil
		}
		return &Reply{Success: true, BookmarkID: saved.ID}, nil
	}
}

// RegisterPage installs the page-side handlers for h.
func RegisterPage(r *Router, h Highlighter) {
	r.Register(KindResolveOne, MakeResolveOneHandler(h))
	r.Register(KindResolveBatch, MakeResolveBatchHandler(h))
	r.Register(KindRemove, MakeRemoveHandler(h))
}

// RegisterBackground installs the background handlers for b.
func RegisterBackground(r *Router, b Bookmarks) {
	r.Register(KindPing, MakePingHandler())
	r.Register(KindBookmarksForURL, MakeBookmarksForURLHandler(b))
	r.Register(KindBookmarkRequested, MakeSaveBookmarkHandler(b))
}
