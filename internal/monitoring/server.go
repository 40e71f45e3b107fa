package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/credential-cipher/pkg/cipher/strategies"
)

// Server represents the monitoring server
type Server struct {
	httpServer *http.Server
	logger     *logrus.Entry
}

// Config holds monitoring server configuration
type Config struct {
	BindAddress string
	MetricsPath string
}

// NewServer creates a new monitoring server. The strategy registry backs the
// /strategies endpoint; nil is allowed when no registry is wired.
func NewServer(cfg *Config, reg *strategies.Registry) *Server {
	logger := logrus.WithField("component", "monitoring-server")

	router := mux.NewRouter()

	// Prometheus metrics endpoint, scoped to this service's registry
	router.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Health check endpoint for monitoring
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			_ = err
		}
	}).Methods(http.MethodGet)

	// Registered strategy capabilities
	router.HandleFunc("/strategies", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var infos []strategies.Info
		if reg != nil {
			infos = reg.Describe()
		}
		if err := json.NewEncoder(w).Encode(infos); err != nil {
			logger.WithError(err).Error("Failed to encode strategy info")
		}
	}).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		logger:     logger,
	}
}

// Start starts the monitoring server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("address", s.httpServer.Addr).Info("Starting monitoring server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Monitoring server error")
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	s.logger.Info("Shutting down monitoring server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitoring server shutdown failed: %w", err)
	}

	s.logger.Info("Monitoring server stopped")
	return nil
}

// Stop stops the monitoring server
func (s *Server) Stop() error {
	return s.httpServer.Close()
}
