package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics, /healthz and /readyz for an extraction run.
// /readyz answers 503 until MarkReady is called once every model is loaded.
type Server struct {
	http   *http.Server
	ready  atomic.Bool
	logger *slog.Logger
}

func NewServer(port int, logger *slog.Logger) *Server {
	s := &Server{logger: logger.With("component", "metrics")}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.readyz)

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading models"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// MarkReady flips /readyz to 200
func (s *Server) MarkReady() { s.ready.Store(true) }

func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves in the background until Shutdown
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.InfoContext(ctx, "metrics server starting", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
