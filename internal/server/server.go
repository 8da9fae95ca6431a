package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrifly-io/agrifly/pkg/log"
	"github.com/agrifly-io/agrifly/pkg/options"
)

// Server runs the broker's HTTP listener.
type Server struct {
	logger  log.Logger
	server  *http.Server
	options *options.HttpOptions
}

// NewServer builds the router and binds it to the configured address.
// ws, when non-nil, is mounted at /ws for the operator channel.
func NewServer(opts *options.HttpOptions, api *API, ws http.Handler) *Server {
	r := mux.NewRouter()

	// Liveness probe.
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness probe. The broker serves as soon as the listener is up;
	// vehicle links come and go independently.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if ws != nil {
		r.Handle("/ws", ws)
	}

	api.Register(r)

	return &Server{
		logger: log.WithName("server"),
		server: &http.Server{
			Addr:    opts.Addr,
			Handler: r,
		},
		options: opts,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
