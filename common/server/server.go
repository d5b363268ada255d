package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/weftlabs/weft/common/logger"
)

// Server runs an http.Server tied to a context. Shutdown is driven by
// context cancellation; signal handling belongs to the owning main, so
// every component of a service winds down through the same cancel.
type Server struct {
	http  *http.Server
	log   *logger.Logger
	name  string
	drain time.Duration
}

// New builds a server with request timeouts suited to short API and
// probe traffic.
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log:   log,
		name:  name,
		drain: 10 * time.Second,
	}
}

// WithTimeouts overrides the read and write timeouts. Services holding
// long-lived connections pass zero to disable them; their handlers
// enforce deadlines per message instead.
func (s *Server) WithTimeouts(read, write time.Duration) *Server {
	s.http.ReadTimeout = read
	s.http.WriteTimeout = write
	return s
}

// Start serves until ctx is cancelled, then drains in-flight requests.
// Returns nil after a clean drain; the listener error otherwise.
func (s *Server) Start(ctx context.Context) error {
	errs := make(chan error, 1)

	go func() {
		s.log.Info(s.name+" listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("%s server: %w", s.name, err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drain)
	defer cancel()

	if err := s.http.Shutdown(drainCtx); err != nil {
		s.log.Warn("drain window expired, closing", "server", s.name, "error", err)
		return s.http.Close()
	}

	s.log.Info(s.name + " stopped")
	return nil
}

// HealthHandler answers liveness probes.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}
}

// DeepHealthHandler answers readiness probes by checking live
// dependencies, reporting 503 with the failure when one is down.
func DeepHealthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		HealthHandler()(w, r)
	}
}

// JSONStatus serves the value produced by fn as a JSON document, for
// small operator-facing status pages.
func JSONStatus(fn func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fn())
	}
}
