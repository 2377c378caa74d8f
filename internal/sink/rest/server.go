// Package rest is the HTTP query sink: the probe, current, sample, and
// asset endpoints, long-poll sample streaming, a WebSocket observation
// stream, and the metrics endpoint.
//
// The server follows the same lifecycle pattern as the other sinks:
//
//	srv, err := rest.New(deps)
//	srv.Start(ctx)
//	defer srv.Stop()
//
// All methods are safe for concurrent use.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/agent"
	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/metrics"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink"
)

// gracefulShutdownTimeout is the maximum wait for in-flight requests during
// shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the REST sink.
type Deps struct {
	Config  config.HTTPConfig
	Logger  sink.Logger
	Agent   *agent.Agent
	Metrics *metrics.Metrics
}

// Server is the REST sink.
type Server struct {
	cfg     config.HTTPConfig
	logger  sink.Logger
	agent   *agent.Agent
	metrics *metrics.Metrics

	server *http.Server
	hub    *hub
	cancel context.CancelFunc
}

// New creates the REST sink. The server does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Agent == nil {
		return nil, fmt.Errorf("rest: agent is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("rest: logger is required")
	}
	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		agent:   deps.Agent,
		metrics: deps.Metrics,
		hub:     newHub(deps.Logger),
	}, nil
}

// Name implements sink.Sink.
func (s *Server) Name() string { return "rest" }

// Start begins listening for HTTP connections.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		// No WriteTimeout: sample streams are open-ended.
	}

	listenErr := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rest server error", "error", err)
			listenErr <- err
		}
	}()

	// Surface an immediate bind failure as a startup error.
	select {
	case err := <-listenErr:
		return fmt.Errorf("rest: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	s.logger.Info("rest sink listening", "address", s.server.Addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("rest sink shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("shutting down rest sink", "error", err)
	}
}

// PublishObservation implements sink.Sink: admitted observations are
// broadcast to the WebSocket clients. Long-poll readers are driven by the
// buffer's observers instead.
func (s *Server) PublishObservation(obs *observation.Observation) {
	s.hub.broadcastObservation(s.agent, obs)
	if s.metrics != nil {
		s.metrics.SinkPublishes.WithLabelValues(s.Name(), "observation").Inc()
	}
}

// PublishAsset implements sink.Sink.
func (s *Server) PublishAsset(a *asset.Asset) {
	if s.metrics != nil {
		s.metrics.SinkPublishes.WithLabelValues(s.Name(), "asset").Inc()
	}
}

// PublishDeviceChange implements sink.Sink.
func (s *Server) PublishDeviceChange(d *device.Device) {
	if s.metrics != nil {
		s.metrics.SinkPublishes.WithLabelValues(s.Name(), "device").Inc()
	}
}
