// Package server exposes document sessions and the message bus over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/threadmark/internal/bus"
	"github.com/xonecas/threadmark/internal/config"
	"github.com/xonecas/threadmark/internal/fetch"
	"github.com/xonecas/threadmark/internal/store"
)

// maxRequestBytes caps JSON request bodies.
const maxRequestBytes = 16 << 20

// Server holds open document sessions and the shared background bus.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	loader     *fetch.Loader
	background *bus.Router

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a server. store may be nil, in which case bookmark routes
// report errors and nothing is restored on load.
func New(cfg *config.Config, st *store.Store, loader *fetch.Loader) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if loader == nil {
		loader = fetch.NewLoader(nil)
	}
	s := &Server{
		cfg:        cfg,
		store:      st,
		loader:     loader,
		background: bus.NewRouter(),
		sessions:   make(map[string]*session),
	}
	bus.RegisterBackground(s.background, st)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", healthzHandler)

	r.Post("/api/v1/messages", s.backgroundMessageHandler)

	r.Post("/api/v1/documents", s.createDocumentHandler)
	r.Route("/api/v1/documents/{id}", func(r chi.Router) {
		r.Get("/", s.getDocumentHandler)
		r.Delete("/", s.deleteDocumentHandler)
		r.Post("/messages", s.documentMessageHandler)
		r.Post("/append", s.appendHandler)
		r.Post("/capture", s.captureHandler)
		r.Get("/scrollmap", s.scrollMapHandler)
	})

	r.Get("/api/v1/bookmarks", s.listBookmarksHandler)
	r.Delete("/api/v1/bookmarks/{id}", s.deleteBookmarkHandler)
	r.Get("/api/v1/threads", s.listThreadsHandler)

	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close ends every open session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) backgroundMessageHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	dispatch(w, r, s.background)
}

func (s *Server) listBookmarksHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	q := r.URL.Query()
	f := store.Filter{Query: q.Get("q"), ThreadID: q.Get("thread")}
	if v := q.Get("limit"); v != "" {
		n, err := parsePositive(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Since = since
	}

	bookmarks, err := s.store.ListBookmarks(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if bookmarks == nil {
		bookmarks = []store.Bookmark{}
	}
	writeJSON(w, http.StatusOK, bookmarks)
}

func (s *Server) deleteBookmarkHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	err := s.store.DeleteBookmark(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) listThreadsHandler(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	threads, err := s.store.Threads()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	writeJSON(w, http.StatusOK, threads)
}

// dispatch decodes a bus message from the request and writes the reply.
func dispatch(w http.ResponseWriter, r *http.Request, router *bus.Router) {
	var msg bus.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reply, err := router.Dispatch(r.Context(), &msg)
	switch {
	case errors.Is(err, bus.ErrUnknownKind), errors.Is(err, bus.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadJSON, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
