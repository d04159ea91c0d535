package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/threadmark/internal/anchor"
	"github.com/xonecas/threadmark/internal/bus"
	"github.com/xonecas/threadmark/internal/dom"
	"github.com/xonecas/threadmark/internal/pending"
	"github.com/xonecas/threadmark/internal/resolver"
	"github.com/xonecas/threadmark/internal/scrollmap"
	"github.com/xonecas/threadmark/internal/store"
	"golang.org/x/net/html"
)

// session is one open document with its own resolver and page-side bus.
type session struct {
	id       string
	url      string
	created  time.Time
	doc      *dom.Document
	resolver *resolver.Resolver
	router   *bus.Router

	// version increments whenever the set of highlights changes.
	version  atomic.Int64
	revealed atomic.Pointer[string]
}

func (s *Server) newSession(url string, doc *dom.Document) *session {
	sess := &session{
		id:      uuid.NewString(),
		url:     url,
		created: time.Now(),
		doc:     doc,
		router:  bus.NewRouter(),
	}
	h := s.cfg.Highlight
	sess.resolver = resolver.New(doc, resolver.Options{
		PendingTTL:    h.PendingTTLOrDefault(),
		Debounce:      h.DebounceOrDefault(),
		PulseDuration: h.PulseOrDefault(),
		OnReveal: func(marker *html.Node) {
			var text string
			doc.Read(func(*html.Node) { text = dom.TextContent(marker) })
			sess.revealed.Store(&text)
		},
		OnLateResolve: func(p pending.PendingAnchor) {
			log.Info().Str("document", sess.id).Str("text", p.Text).Msg("Late highlight applied")
		},
		OnHighlightsChanged: func() { sess.version.Add(1) },
	})
	bus.RegisterPage(sess.router, sess.resolver)
	return sess
}

func (sess *session) close() {
	sess.resolver.Close()
}

func (s *Server) session(r *http.Request) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[chi.URLParam(r, "id")]
	return sess, ok
}

type createDocumentRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type documentResponse struct {
	ID       string    `json:"id"`
	URL      string    `json:"url,omitempty"`
	HTML     string    `json:"html,omitempty"`
	Markers  int       `json:"markers"`
	Pending  int       `json:"pending"`
	Watching bool      `json:"watching"`
	Version  int64     `json:"version"`
	Revealed string    `json:"revealed,omitempty"`
	Restored int       `json:"restored,omitempty"`
	Created  time.Time `json:"created"`
}

func (sess *session) describe(withHTML bool) documentResponse {
	resp := documentResponse{
		ID:       sess.id,
		URL:      sess.url,
		Pending:  sess.resolver.Pending(),
		Watching: sess.resolver.Watching(),
		Version:  sess.version.Load(),
		Created:  sess.created,
	}
	sess.doc.Read(func(root *html.Node) {
		resp.Markers = len(scrollmap.Compute(dom.Body(root)))
	})
	if withHTML {
		resp.HTML = sess.doc.String()
	}
	if p := sess.revealed.Load(); p != nil {
		resp.Revealed = *p
	}
	return resp
}

func (s *Server) createDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		doc *dom.Document
		err error
	)
	switch {
	case req.HTML != "":
		doc, err = dom.ParseString(req.HTML)
	case req.URL != "":
		doc, err = s.loader.Load(r.Context(), req.URL)
	default:
		err = errMissingDocument
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess := s.newSession(req.URL, doc)
	restored := s.restore(sess)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	log.Info().Str("document", sess.id).Str("url", sess.url).Int("restored", restored).Msg("Document opened")
	resp := sess.describe(false)
	resp.Restored = restored
	writeJSON(w, http.StatusCreated, resp)
}

// restore queues the stored bookmarks for the session's URL when
// auto-highlighting applies to it.
func (s *Server) restore(sess *session) int {
	h := s.cfg.Highlight
	if s.store == nil || sess.url == "" || !h.AutoHighlightOrDefault() || !h.AllowsURL(sess.url) {
		return 0
	}
	bookmarks, err := s.store.BookmarksForURL(sess.url)
	if err != nil {
		log.Warn().Err(err).Str("url", sess.url).Msg("failed to load bookmarks for restore")
		return 0
	}
	anchors := make([]anchor.TextAnchor, 0, len(bookmarks))
	for _, b := range bookmarks {
		anchors = append(anchors, b.Anchor())
	}
	sess.resolver.Restore(anchors)
	return len(anchors)
}

func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, errNoSession)
		return
	}
	writeJSON(w, http.StatusOK, sess.describe(true))
}

func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, errNoSession)
		return
	}
	sess.close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) documentMessageHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, errNoSession)
		return
	}
	dispatch(w, r, sess.router)
}

type appendRequest struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

func (s *Server) appendHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, errNoSession)
		return
	}
	var req appendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.HTML != "" {
		if err := sess.doc.AppendHTML(req.HTML); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	sess.doc.AppendText(req.Text)
	writeJSON(w, http.StatusOK, sess.describe(false))
}

type captureRequest struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Save  bool     `json:"save"`
	Title string   `json:"title,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type captureResponse struct {
	Anchor      anchor.TextAnchor `json:"anchor"`
	Highlighted bool              `json:"highlighted"`
	BookmarkID  string            `json:"bookmarkId,omitempty"`
}

// captureHandler turns a [start, end) span of the document's flattened text
// into an anchor, highlights it in the document and optionally saves it as a
// bookmark.
func (s *Server) captureHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, errNoSession)
		return
	}
	var req captureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		a   anchor.TextAnchor
		err error
	)
	sess.doc.Read(func(root *html.Node) {
		body := dom.Body(root)
		rng, found := dom.Flatten(body, dom.Exact).RangeAt(req.Start, req.End)
		if !found {
			err = errBadRange
			return
		}
		a, err = anchor.Capture(body, rng, s.cfg.Highlight.ContextCharsOrDefault())
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := captureResponse{Anchor: a, Highlighted: sess.resolver.Submit(a, false)}
	if req.Save {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, errNoStore)
			return
		}
		b, err := s.store.SaveBookmark(store.BookmarkPayload{
			Text:       a.Text,
			URL:        sess.url,
			Title:      req.Title,
			Prefix:     a.Prefix,
			Suffix:     a.Suffix,
			Tags:       req.Tags,
			Occurrence: a.Occurrence,
		})
		if errors.Is(err, store.ErrEmptyURL) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.BookmarkID = b.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) scrollMapHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, errNoSession)
		return
	}
	var markers []scrollmap.Marker
	sess.doc.Read(func(root *html.Node) {
		markers = scrollmap.Compute(dom.Body(root))
	})
	if markers == nil {
		markers = []scrollmap.Marker{}
	}
	writeJSON(w, http.StatusOK, markers)
}
