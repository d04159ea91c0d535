package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/store"
)

type fakeHighlighter struct {
	submitted []anchor.TextAnchor
	scroll    bool
	batch     []anchor.TextAnchor
	removed   string
}

func (f *fakeHighlighter) Submit(a anchor.TextAnchor, scroll bool) bool {
	f.submitted = append(f.submitted, a)
	f.scroll = scroll
	return a.Text == "found"
}

func (f *fakeHighlighter) SubmitBatch(anchors []anchor.TextAnchor) int {
	f.batch = anchors
	return len(anchors) - 1
}

func (f *fakeHighlighter) Remove(text string) int {
	f.removed = text
	return 3
}

type fakeBookmarks struct {
	saved []store.BookmarkPayload
	err   error
}

func (f *fakeBookmarks) SaveBookmark(p store.BookmarkPayload) (store.Bookmark, error) {
	if f.err != nil {
		return store.Bookmark{}, f.err
	}
	f.saved = append(f.saved, p)
	return store.Bookmark{ID: "bm-1", ThreadID: p.URL, Text: p.Text}, nil
}

func (f *fakeBookmarks) BookmarksForURL(url string) ([]store.Bookmark, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []store.Bookmark{{ID: "bm-1", ThreadID: url, Text: "cat"}}, nil
}

func newTestRouter() (*Router, *fakeHighlighter, *fakeBookmarks) {
	r := NewRouter()
	h := &fakeHighlighter{}
	b := &fakeBookmarks{}
	RegisterPage(r, h)
	RegisterBackground(r, b)
	return r, h, b
}

func TestRouter_Kinds(t *testing.T) {
	r, _, _ := newTestRouter()

	want := []Kind{KindBookmarkRequested, KindBookmarksForURL, KindPing, KindRemove, KindResolveBatch, KindResolveOne}
	got := r.Kinds()
	if len(got) != len(want) {
		t.Fatalf("kinds = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kinds = %v, want %v", got, want)
			break
		}
	}
}

func TestDispatch_UnknownKind(t *testing.T) {
	r, _, _ := newTestRouter()

	if _, err := r.Dispatch(context.Background(), &Message{Kind: "NOPE"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
	if _, err := r.Dispatch(context.Background(), nil); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("err = %v, want ErrInvalidMessage", err)
	}
}

func TestDispatch_PageKinds(t *testing.T) {
	r, h, _ := newTestRouter()
	ctx := context.Background()

	reply, err := r.Dispatch(ctx, &Message{Kind: KindResolveOne, Anchor: &anchor.TextAnchor{Text: "found"}, WantScroll: true})
	if err != nil || !reply.Success || !h.scroll {
		t.Errorf("resolve one = %+v, %v (scroll %v)", reply, err, h.scroll)
	}
	reply, err = r.Dispatch(ctx, &Message{Kind: KindResolveOne, Anchor: &anchor.TextAnchor{Text: "later"}})
	if err != nil || reply.Success {
		t.Errorf("pending resolve = %+v, %v", reply, err)
	}
	if _, err := r.Dispatch(ctx, &Message{Kind: KindResolveOne}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("missing anchor err = %v", err)
	}

	reply, err = r.Dispatch(ctx, &Message{Kind: KindResolveBatch, Anchors: []anchor.TextAnchor{{Text: "a"}, {Text: "b"}}})
	if err != nil || reply.Count == nil || *reply.Count != 1 {
		t.Errorf("batch = %+v, %v", reply, err)
	}

	reply, err = r.Dispatch(ctx, &Message{Kind: KindRemove, Text: "cat"})
	if err != nil || *reply.Count != 3 || h.removed != "cat" {
		t.Errorf("remove = %+v, %v", reply, err)
	}
}

func TestDispatch_BackgroundKinds(t *testing.T) {
	r, _, b := newTestRouter()
	ctx := context.Background()

	if reply, err := r.Dispatch(ctx, &Message{Kind: KindPing}); err != nil || !reply.Success {
		t.Errorf("ping = %+v, %v", reply, err)
	}

	reply, err := r.Dispatch(ctx, &Message{Kind: KindBookmarkRequested, Bookmark: &store.BookmarkPayload{Text: "cat", URL: "u"}})
	if err != nil || reply.BookmarkID != "bm-1" || len(b.saved) != 1 {
		t.Errorf("save = %+v, %v", reply, err)
	}

	reply, err = r.Dispatch(ctx, &Message{Kind: KindBookmarksForURL, URL: "u"})
	if err != nil || len(reply.Bookmarks) != 1 {
		t.Errorf("bookmarks = %+v, %v", reply, err)
	}

	b.err = errors.New("disk full")
	reply, err = r.Dispatch(ctx, &Message{Kind: KindBookmarkRequested, Bookmark: &store.BookmarkPayload{Text: "cat", URL: "u"}})
	if err != nil || reply.Success || reply.Error != "disk full" {
		t.Errorf("failed save = %+v, %v", reply, err)
	}
}

func TestMessage_WireFormat(t *testing.T) {
	raw := `{"type":"RESOLVE_ONE","anchor":{"text":"cat","suffix":" sat","occurrence":0},"wantScroll":true}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Kind != KindResolveOne || msg.Anchor == nil || !msg.WantScroll {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Anchor.Occurrence == nil || *msg.Anchor.Occurrence != 0 {
		t.Errorf("occurrence = %v, want 0", msg.Anchor.Occurrence)
	}
}
