package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SkeLLLa/chrome-pool/internal/logging"
	"github.com/SkeLLLa/chrome-pool/pkg/devtools"
	"github.com/SkeLLLa/chrome-pool/pkg/pool"
)

const (
	defaultRenderTimeout = 30 * time.Second
	defaultMaxBodyBytes  = 1 << 20
	releaseTimeout       = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// SessionPool is the pool surface the render service drives.
type SessionPool interface {
	Acquire(ctx context.Context) (*devtools.Tab, error)
	Release(ctx context.Context, id string) error
	Stats() pool.Stats
	Endpoint() int
}

// Options tune the HTTP render service.
type Options struct {
	RenderTimeout time.Duration
	MaxBodyBytes  int64
}

// Server exposes a session pool as an HTTP render service.
type Server struct {
	addr          string
	sessions      SessionPool
	srv           *http.Server
	renderTimeout time.Duration
	maxBodyBytes  int64
	render        renderFunc
	activeRenders int32
}

// New configures and returns the render server instance.
func New(addr string, sessions SessionPool, opts Options) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("server setup failed: nil session pool")
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = defaultRenderTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		addr:          addr,
		sessions:      sessions,
		renderTimeout: opts.RenderTimeout,
		maxBodyBytes:  opts.MaxBodyBytes,
		render:        renderPage,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /render", s.handleRender)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins listening for render requests.
func (s *Server) Start() error {
	log.Info().
		Str("event", "server_started").
		Str("address", s.addr).
		Int("endpoint", s.sessions.Endpoint()).
		Msg("render server started")

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	log.Info().Str("event", "server_stopped").Msg("render server stopped")

	return err
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, requestID, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return
	}
	if err := req.validate(); err != nil {
		s.reject(w, requestID, http.StatusBadRequest, err)
		return
	}

	active := atomic.AddInt32(&s.activeRenders, 1)
	defer atomic.AddInt32(&s.activeRenders, -1)

	logging.LogRenderRequest(requestID, r.RemoteAddr, req.URL, req.Selector, int(active))

	ctx, cancel := context.WithTimeout(r.Context(), s.renderTimeout)
	defer cancel()

	tab, err := s.sessions.Acquire(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no session became available within %s", s.renderTimeout)
		}
		s.reject(w, requestID, status, err)
		return
	}

	html, renderErr := s.render(ctx, tab.Session, req)
	s.releaseSession(requestID, tab.ID)

	if renderErr != nil {
		log.Error().
			Str("event", "render_failed").
			Str("request_id", requestID).
			Str("url", req.URL).
			Str("session_id", tab.ID).
			Err(renderErr).
			Dur("elapsed", time.Since(start)).
			Msg("render failed")
		http.Error(w, renderErr.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))

	logging.LogRenderResponse(
		requestID,
		req.URL,
		tab.ID,
		http.StatusOK,
		len(html),
		time.Since(start),
		int(atomic.LoadInt32(&s.activeRenders)),
	)
}

// releaseSession hands the session back on its own deadline so a slow reset
// does not inherit an already expired request context.
func (s *Server) releaseSession(requestID, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := s.sessions.Release(ctx, id); err != nil {
		log.Warn().
			Str("event", "session_release_failed").
			Str("request_id", requestID).
			Str("session_id", id).
			Err(err).
			Msg("failed to release session")
	}
}

func (s *Server) reject(w http.ResponseWriter, requestID string, status int, err error) {
	log.Warn().
		Str("event", "render_rejected").
		Str("request_id", requestID).
		Int("status", status).
		Err(err).
		Msg("rejected render request")
	http.Error(w, err.Error(), status)
}

type statsResponse struct {
	pool.Stats
	ActiveRenders int `json:"active_renders"`
	Endpoint      int `json:"endpoint"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:         s.sessions.Stats(),
		ActiveRenders: int(atomic.LoadInt32(&s.activeRenders)),
		Endpoint:      s.sessions.Endpoint(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Str("event", "stats_encode_error").Err(err).Msg("failed to encode stats")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
