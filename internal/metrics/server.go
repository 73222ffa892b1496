package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/InfraSecConsult/dnscap-go/internal/sink"
)

const shutdownTimeout = 5 * time.Second

// RecentFunc returns the most recent query names.
type RecentFunc func() []sink.RecentQuery

// Server serves /metrics and, when a recent-query source is set, /recent.
type Server struct {
	addr   string
	reg    *prometheus.Registry
	recent RecentFunc
	logger zerolog.Logger
}

func NewServer(addr string, reg *prometheus.Registry, recent RecentFunc, logger zerolog.Logger) *Server {
	return &Server{
		addr:   addr,
		reg:    reg,
		recent: recent,
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg}))
	if s.recent != nil {
		mux.HandleFunc("/recent", s.handleRecent)
	}
	return mux
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.recent()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode recent queries")
	}
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("metrics server stopped")
		return nil
	}
}
