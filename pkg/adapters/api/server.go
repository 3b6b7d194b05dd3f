// Package api exposes the engine over HTTP: collection management, the
// unified document protocol, server-sent event subscriptions and the vector
// endpoints.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/quipu/pkg/core"
)

// DefaultKeepAlive is the interval between SSE keep-alive comments.
const DefaultKeepAlive = 15 * time.Second

// maxBody caps request bodies.
const maxBody = 8 << 20

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithKeepAlive sets the SSE keep-alive interval. Zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// WithComponent adds a component to the /debug/state snapshot.
func WithComponent(name string, c introspection.Introspectable) Option {
	return func(s *Server) {
		if c != nil {
			s.components[name] = c
		}
	}
}

// Server routes HTTP requests to an engine.
type Server struct {
	engine     *core.Engine
	logger     *slog.Logger
	metrics    http.Handler
	keepAlive  time.Duration
	components map[string]introspection.Introspectable
	started    time.Time
	handler    http.Handler
}

// New builds the HTTP routes for engine.
func New(engine *core.Engine, opts ...Option) *Server {
	s := &Server{
		engine:     engine,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		keepAlive:  DefaultKeepAlive,
		components: map[string]introspection.Introspectable{"engine": engine},
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/state", s.handleState)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("POST /collections", s.handleCreateCollection)
	mux.HandleFunc("GET /collections", s.handleListCollections)
	mux.HandleFunc("GET /collections/{id}", s.handleGetCollection)
	mux.HandleFunc("DELETE /collections/{id}", s.handleDeleteCollection)
	mux.HandleFunc("POST /collections/objects/{id}", s.handleObjects)
	mux.HandleFunc("GET /collections/objects/{id}", s.handleSubscribe)

	mux.HandleFunc("GET /vector", s.handleNamespaces)
	mux.HandleFunc("POST /vector/{namespace}", s.handleUpsert)
	mux.HandleFunc("PUT /vector/{namespace}", s.handleQuery)
	mux.HandleFunc("DELETE /vector/{namespace}", s.handleVectorDelete)
	mux.HandleFunc("GET /vector/{namespace}/{id}", s.handleVectorGet)
	mux.HandleFunc("POST /embeddings", s.handleEmbed)

	s.handler = s.logRequests(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Open subscription streams end with the context.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"time_utc":  time.Now().UTC().Format(time.RFC3339),
		"uptime_s":  int(time.Since(s.started).Seconds()),
		"read_only": s.engine.ReadOnly(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(s.components))
	for name, c := range s.components {
		out[name] = c.State()
	}
	writeJSON(w, http.StatusOK, out)
}
