// Package httpapi exposes the admin surface: live state reads, config
// apply, call origination, and the WebSocket push stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gonopbx/pbxadmin/internal/ami"
	"github.com/gonopbx/pbxadmin/internal/hub"
	"github.com/gonopbx/pbxadmin/internal/live"
	"github.com/gonopbx/pbxadmin/internal/render"
	"github.com/gonopbx/pbxadmin/internal/store"
)

// SnapshotLoader reads the full configuration snapshot. *store.Store
// satisfies it.
type SnapshotLoader interface {
	GetSnapshot(ctx context.Context) (*store.Snapshot, error)
}

// Applier installs rendered fragments. *publish.Publisher satisfies it.
type Applier interface {
	Publish(ctx context.Context, frags []render.Fragment) error
}

// Executor runs manager actions. The reconnect supervisor satisfies it.
type Executor interface {
	Execute(ctx context.Context, action string, params map[string]string) (ami.Event, error)
}

// Options carries the server's collaborators.
type Options struct {
	DB        SnapshotLoader
	Applier   Applier
	Executor  Executor
	Live      *live.Aggregator
	Hub       *hub.Hub
	JWTSecret []byte
	Logger    *zap.SugaredLogger
}

type Server struct {
	db        SnapshotLoader
	applier   Applier
	exec      Executor
	live      *live.Aggregator
	hub       *hub.Hub
	jwtSecret []byte
	log       *zap.SugaredLogger
	router    chi.Router
}

func New(opts Options) *Server {
	s := &Server{
		db:        opts.DB,
		applier:   opts.Applier,
		exec:      opts.Executor,
		live:      opts.Live,
		hub:       opts.Hub,
		jwtSecret: opts.JWTSecret,
		log:       opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/live/endpoints", s.handleLiveEndpoints)
		r.Get("/live/channels", s.handleLiveChannels)
		r.Get("/live/trunks", s.handleLiveTrunks)
		r.Post("/apply", s.handleApply)
		r.Post("/calls/originate", s.handleOriginate)
	})
	r.Get("/ws", s.handleWS)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
