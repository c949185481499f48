// Package http exposes the operator API and the device fallback channel.
// Devices that cannot hold a broker connection (NAT, captive networks) poll
// here; the same surface receives their result reports.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendhub-io/vendhub/internal/hub/core/service"
	"github.com/vendhub-io/vendhub/internal/pkg/metrics"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/options"
)

// Server hosts the REST API.
type Server struct {
	svc     *service.Service
	metrics *metrics.Metrics
	logger  log.Logger
	opts    *options.HttpOptions

	ready func() bool
}

// NewServer builds the server. ready reports whether dependencies (broker,
// store) are up; nil means always ready.
func NewServer(svc *service.Service, m *metrics.Metrics, logger log.Logger, opts *options.HttpOptions, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Server{
		svc:     svc,
		metrics: m,
		logger:  logger.WithName("http"),
		opts:    opts,
		ready:   ready,
	}
}

// Router assembles the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	// Operator surface, tenant-authenticated.
	api.HandleFunc("/commands", s.handleCreateCommand).Methods(http.MethodPost)
	api.HandleFunc("/commands/{commandID}", s.handleGetCommand).Methods(http.MethodGet)
	api.HandleFunc("/commands/{commandID}/cancel", s.handleCancelCommand).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.handleRegisterDevice).Methods(http.MethodPost)

	// Device surface: the fallback poll channel and its result sibling.
	api.HandleFunc("/devices/{deviceID}/commands/pending", s.handlePollCommands).Methods(http.MethodGet)
	api.HandleFunc("/devices/{deviceID}/command_result", s.handleCommandResult).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.opts.Timeout,
		WriteTimeout: s.opts.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
