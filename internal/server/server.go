package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/config"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/gossip"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/monitoring"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/node"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/transport"
	"github.com/Replicant-Partners/Chrysalis-sub000/pkg/api"
)

// Server represents the main application server
type Server struct {
	config     *config.Config
	bus        *transport.Bus
	node       *node.Node
	monitoring *monitoring.Service
	httpServer *http.Server
	cancel     context.CancelFunc
	logger     *logrus.Entry
}

// New creates a new server instance
func New(config *config.Config) (*Server, error) {
	monitoringService, err := monitoring.NewService(&config.Monitoring)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitoring service: %w", err)
	}

	swarmNode, err := node.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	swarmNode.Gossip().SetRecorder(monitoringService)

	// The in-process bus is the default message transport. Remote
	// transports attach through the same interface.
	bus := transport.NewBus()
	endpoint, err := bus.Register(swarmNode.ID(), swarmNode.HandleInbound)
	if err != nil {
		return nil, fmt.Errorf("failed to register node transport: %w", err)
	}
	swarmNode.Attach(endpoint)

	return &Server{
		config:     config,
		bus:        bus,
		node:       swarmNode,
		monitoring: monitoringService,
		logger:     logger.NewForNode(swarmNode.ID(), "server"),
	}, nil
}

// Node returns the swarm node hosted by this server.
func (s *Server) Node() *node.Node {
	return s.node
}

// Bus returns the in-process transport bus.
func (s *Server) Bus() *transport.Bus {
	return s.bus
}

// Start starts the server and all its components
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting swarm sync server")

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.startComponents(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	go s.metricsLoop(ctx)

	s.logger.WithFields(logrus.Fields{
		"http_port": s.config.Server.Port,
		"node_id":   s.node.ID(),
	}).Info("Server started successfully")

	// Wait for context cancellation
	<-ctx.Done()
	s.logger.Info("Context cancelled, shutting down")

	return s.Stop()
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("Stopping server")

	if s.cancel != nil {
		s.cancel()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server")
		}
	}

	if err := s.node.Stop(); err != nil {
		s.logger.WithError(err).Error("Failed to stop node")
	}
	s.monitoring.Stop()

	s.logger.Info("Server stopped successfully")
	return nil
}

// startComponents starts all server components
func (s *Server) startComponents(ctx context.Context) error {
	if err := s.node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	if err := s.monitoring.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitoring service: %w", err)
	}

	return nil
}

func (s *Server) startHTTPServer() error {
	httpMux := api.NewHTTPHandler(s.node, s.monitoring)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      httpMux,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	go func() {
		s.logger.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// metricsLoop periodically pushes node-side gauges into the metrics
// registry.
func (s *Server) metricsLoop(ctx context.Context) {
	interval := s.config.Monitoring.HealthCheckInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var active, suspect, dead int
			for _, p := range s.node.Gossip().Peers() {
				switch p.Status {
				case gossip.PeerActive:
					active++
				case gossip.PeerSuspect:
					suspect++
				case gossip.PeerDead:
					dead++
				}
			}
			s.monitoring.UpdatePeerCounts(active, suspect, dead)
			s.monitoring.UpdateStateGauges(s.node.Lineage().Len(), len(s.node.Beliefs().All()))
		}
	}
}

// Health returns the health status of the server
func (s *Server) Health() map[string]interface{} {
	return map[string]interface{}{
		"status": "healthy",
		"node":   s.node.Health(),
		"monitoring": map[string]interface{}{
			"status": "healthy",
		},
	}
}
