// Package serve exposes sentence expansion over HTTP.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/medexpand/internal/inference"
)

const shutdownTimeout = 5 * time.Second

// Server answers expansion requests from a lazily loaded model.
type Server struct {
	handle   *inference.Handle
	registry *prometheus.Registry
	logger   *slog.Logger
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// New builds a Server. Its collectors are registered on reg, which is also
// what /metrics exposes.
func New(h *inference.Handle, reg *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handle:   h,
		registry: reg,
		logger:   logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medexpand_expand_requests_total",
			Help: "Expansion requests by HTTP status code.",
		}, []string{"code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medexpand_expand_duration_seconds",
			Help:    "Time spent expanding a sentence, model loading included.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{s.requests, s.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routes: /expand_sentence, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /expand_sentence", s.expand)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type expandResponse struct {
	ExpandedSentence string `json:"expanded_sentence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) expand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code, body := s.expandSentence(r)
	s.requests.WithLabelValues(strconv.Itoa(code)).Inc()
	s.latency.Observe(time.Since(start).Seconds())
	s.writeJSON(w, code, body)
}

func (s *Server) expandSentence(r *http.Request) (int, any) {
	sentence := r.URL.Query().Get("sentence")
	if strings.TrimSpace(sentence) == "" {
		return http.StatusBadRequest, errorResponse{Error: "sentence is required"}
	}
	expanded, err := s.handle.Expand(r.Context(), sentence)
	if err != nil {
		s.logger.Error("expand failed", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: err.Error()}
	}
	return http.StatusOK, expandResponse{ExpandedSentence: expanded}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"model_loaded": s.handle.Ready()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}
