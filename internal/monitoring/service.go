// Package monitoring exposes Prometheus metrics and health checks for a
// running swarm node over its own HTTP listener.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/config"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
)

// Service provides metrics and health checking for one node.
type Service struct {
	config *config.MonitoringConfig
	logger *logrus.Entry

	server *http.Server

	registry *prometheus.Registry
	metrics  *Metrics

	healthChecks map[string]HealthCheck
	healthMutex  sync.RWMutex

	startTime time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.RWMutex
}

// HealthCheck represents a health check function
type HealthCheck func() HealthStatus

// HealthStatus represents the status of a health check
type HealthStatus struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"` // healthy, unhealthy, unknown
	Message   string        `json:"message,omitempty"`
	Details   interface{}   `json:"details,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Duration  time.Duration `json:"duration"`
}

// Metrics holds Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gossip metrics
	GossipMessagesTotal *prometheus.CounterVec
	GossipDropsTotal    *prometheus.CounterVec
	PeersByStatus       *prometheus.GaugeVec

	// Consensus metrics
	ConsensusRoundsTotal *prometheus.CounterVec
	VotesTotal           prometheus.Counter
	ByzantineFaultsTotal prometheus.Counter

	// State metrics
	StateMerges  *prometheus.CounterVec
	LineageNodes prometheus.Gauge
	BeliefCount  prometheus.Gauge

	// System metrics
	GoRoutines  prometheus.Gauge
	MemoryUsage prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewService creates a new monitoring service
func NewService(config *config.MonitoringConfig) (*Service, error) {
	service := &Service{
		config:       config,
		logger:       logger.NewForComponent("monitoring"),
		registry:     prometheus.NewRegistry(),
		healthChecks: make(map[string]HealthCheck),
		startTime:    time.Now(),
	}

	service.initializeMetrics()
	service.registerDefaultHealthChecks()

	return service, nil
}

// Start starts the monitoring service
func (s *Service) Start(ctx context.Context) error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("monitoring service is already running")
	}
	s.running = true
	s.runningMu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	if !s.config.Enabled {
		s.logger.Info("Monitoring disabled, skipping start")
		return nil
	}

	s.logger.Info("Starting monitoring service")

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.wg.Add(1)
	go s.systemMetricsWorker()

	s.logger.WithField("port", s.config.MetricsPort).Info("Monitoring service started")
	return nil
}

// Stop stops the monitoring service
func (s *Service) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.logger.Info("Stopping monitoring service")

	if s.cancel != nil {
		s.cancel()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}

	s.wg.Wait()

	s.logger.Info("Monitoring service stopped")
}

// initializeMetrics initializes Prometheus metrics
func (s *Service) initializeMetrics() {
	s.metrics = &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		GossipMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_messages_total",
				Help: "Gossip messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		GossipDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_drops_total",
				Help: "Gossip messages dropped by reason",
			},
			[]string{"reason"},
		),
		PeersByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "peers",
				Help: "Known peers by liveness status",
			},
			[]string{"status"},
		),
		ConsensusRoundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consensus_rounds_total",
				Help: "Consensus rounds by outcome",
			},
			[]string{"outcome"},
		),
		VotesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "consensus_votes_total",
				Help: "Votes recorded across all rounds",
			},
		),
		ByzantineFaultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "byzantine_faults_total",
				Help: "Byzantine faults observed (equivocation, bad signatures)",
			},
		),
		StateMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_merges_total",
				Help: "CRDT state merges by topic",
			},
			[]string{"topic"},
		),
		LineageNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lineage_nodes",
				Help: "Nodes in the local lineage graph",
			},
		),
		BeliefCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beliefs",
				Help: "Beliefs held locally",
			},
		),
		GoRoutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "go_routines",
				Help: "Number of goroutines",
			},
		),
		MemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
	}

	s.registry.MustRegister(
		s.metrics.HTTPRequestsTotal,
		s.metrics.HTTPRequestDuration,
		s.metrics.GossipMessagesTotal,
		s.metrics.GossipDropsTotal,
		s.metrics.PeersByStatus,
		s.metrics.ConsensusRoundsTotal,
		s.metrics.VotesTotal,
		s.metrics.ByzantineFaultsTotal,
		s.metrics.StateMerges,
		s.metrics.LineageNodes,
		s.metrics.BeliefCount,
		s.metrics.GoRoutines,
		s.metrics.MemoryUsage,
		s.metrics.ErrorsTotal,
	)
}

// startHTTPServer starts the HTTP server for metrics and health endpoints
func (s *Service) startHTTPServer() error {
	mux := http.NewServeMux()

	if s.config.PrometheusEnabled {
		mux.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc(s.config.HealthPath, s.healthHandler)
	mux.HandleFunc("/info", s.infoHandler)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	return nil
}

// systemMetricsWorker collects system metrics
func (s *Service) systemMetricsWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.collectSystemMetrics()
		}
	}
}

func (s *Service) collectSystemMetrics() {
	s.metrics.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.metrics.MemoryUsage.Set(float64(m.Alloc))
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, "/health", "200").Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, "/health").Observe(duration.Seconds())
	}()

	statuses := s.getHealthStatuses()

	overall := "healthy"
	for _, status := range statuses {
		if status.Status == "unhealthy" {
			overall = "unhealthy"
			break
		}
	}

	response := map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"checks":    statuses,
	}

	w.Header().Set("Content-Type", "application/json")
	if overall == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}

// infoHandler handles info requests
func (s *Service) infoHandler(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":    "swarm-sync",
		"version":    "1.0.0",
		"go_version": runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// registerDefaultHealthChecks registers default health checks
func (s *Service) registerDefaultHealthChecks() {
	s.RegisterHealthCheck("memory", s.memoryHealthCheck)
	s.RegisterHealthCheck("goroutines", s.goroutineHealthCheck)
}

// RegisterHealthCheck registers a new health check
func (s *Service) RegisterHealthCheck(name string, check HealthCheck) {
	s.healthMutex.Lock()
	defer s.healthMutex.Unlock()
	s.healthChecks[name] = check
}

// getHealthStatuses returns current health check statuses
func (s *Service) getHealthStatuses() []HealthStatus {
	s.healthMutex.RLock()
	defer s.healthMutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(s.healthChecks))
	for name, check := range s.healthChecks {
		start := time.Now()
		status := check()
		status.Name = name
		status.LastCheck = start
		status.Duration = time.Since(start)
		statuses = append(statuses, status)
	}

	return statuses
}

// memoryHealthCheck checks memory usage
func (s *Service) memoryHealthCheck() HealthStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	const maxMemory = 1024 * 1024 * 1024

	status := "healthy"
	message := fmt.Sprintf("Memory usage: %d MB", m.Alloc/1024/1024)

	if m.Alloc > maxMemory {
		status = "unhealthy"
		message = fmt.Sprintf("High memory usage: %d MB", m.Alloc/1024/1024)
	}

	return HealthStatus{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"alloc_bytes": m.Alloc,
			"sys_bytes":   m.Sys,
			"num_gc":      m.NumGC,
		},
	}
}

// goroutineHealthCheck checks goroutine count
func (s *Service) goroutineHealthCheck() HealthStatus {
	count := runtime.NumGoroutine()

	const maxGoroutines = 1000

	status := "healthy"
	message := fmt.Sprintf("Goroutines: %d", count)

	if count > maxGoroutines {
		status = "unhealthy"
		message = fmt.Sprintf("High goroutine count: %d", count)
	}

	return HealthStatus{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"count": count,
		},
	}
}

// RecordHTTPRequest records HTTP request metrics
func (s *Service) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	s.metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	s.metrics.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordGossipMessage records one sent or received gossip message.
func (s *Service) RecordGossipMessage(direction, msgType string) {
	s.metrics.GossipMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordGossipDrop records a dropped message by reason.
func (s *Service) RecordGossipDrop(reason string) {
	s.metrics.GossipDropsTotal.WithLabelValues(reason).Inc()
}

// RecordConsensusRound records a finished consensus check by outcome.
func (s *Service) RecordConsensusRound(achieved bool) {
	outcome := "pending"
	if achieved {
		outcome = "achieved"
	}
	s.metrics.ConsensusRoundsTotal.WithLabelValues(outcome).Inc()
}

// RecordVote counts one recorded vote.
func (s *Service) RecordVote() {
	s.metrics.VotesTotal.Inc()
}

// RecordByzantineFault counts one observed fault.
func (s *Service) RecordByzantineFault() {
	s.metrics.ByzantineFaultsTotal.Inc()
}

// RecordStateMerge counts one CRDT merge by topic.
func (s *Service) RecordStateMerge(topic string) {
	s.metrics.StateMerges.WithLabelValues(topic).Inc()
}

// UpdatePeerCounts updates the peer gauges.
func (s *Service) UpdatePeerCounts(active, suspect, dead int) {
	s.metrics.PeersByStatus.WithLabelValues("active").Set(float64(active))
	s.metrics.PeersByStatus.WithLabelValues("suspect").Set(float64(suspect))
	s.metrics.PeersByStatus.WithLabelValues("dead").Set(float64(dead))
}

// UpdateStateGauges updates the lineage and belief gauges.
func (s *Service) UpdateStateGauges(lineageNodes, beliefs int) {
	s.metrics.LineageNodes.Set(float64(lineageNodes))
	s.metrics.BeliefCount.Set(float64(beliefs))
}

// RecordError records error metrics
func (s *Service) RecordError(errorType, component string) {
	s.metrics.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}
