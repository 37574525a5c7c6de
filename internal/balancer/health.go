package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/baicaiyihao/quant/internal/domain"
	apperrors "github.com/baicaiyihao/quant/internal/errors"
	"github.com/baicaiyihao/quant/internal/registry"
	"github.com/baicaiyihao/quant/pkg/logger"
)

// HealthMonitorConfig holds the background probe settings
type HealthMonitorConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	ProbesPerSec float64
	ProbeBurst   int
}

// HealthMonitor probes endpoints out of band: deactivated endpoints whose
// backoff window has elapsed, and endpoints that never carried live traffic.
// Probe failures are logged only; they never reach a caller.
type HealthMonitor struct {
	config    HealthMonitorConfig
	registry  *registry.Registry
	transport domain.Transport
	policy    domain.TrackerPolicy
	limiter   *rate.Limiter
	log       *logger.Logger

	stopChan  chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

// NewHealthMonitor creates a health monitor for the registry's endpoints
func NewHealthMonitor(config HealthMonitorConfig, reg *registry.Registry, transport domain.Transport, policy domain.TrackerPolicy, log *logger.Logger) *HealthMonitor {
	burst := config.ProbeBurst
	if burst < 1 {
		burst = 1
	}
	return &HealthMonitor{
		config:    config,
		registry:  reg,
		transport: transport,
		policy:    policy,
		limiter:   rate.NewLimiter(rate.Limit(config.ProbesPerSec), burst),
		log:       log.HealthMonitorLogger(),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the periodic probe loop
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("health monitor is already running")
	}
	m.isRunning = true

	m.log.Infof("Starting health monitor with interval %v", m.config.Interval)
	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop stops the probe loop and waits for in-flight probes
func (m *HealthMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}

	close(m.stopChan)
	m.wg.Wait()
	m.isRunning = false
	m.stopChan = make(chan struct{})

	m.log.Info("Health monitor stopped")
	return nil
}

// IsRunning reports whether the probe loop is active
func (m *HealthMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Initial cycle establishes health for endpoints that never saw traffic
	m.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Health monitor loop stopped by context")
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle walks the endpoint pool once and probes whatever is due. Exposed
// so callers with their own scheduling can drive cycles directly.
func (m *HealthMonitor) RunCycle(ctx context.Context) {
	now := time.Now()
	for _, e := range m.registry.All() {
		switch {
		case !e.IsActive():
			// Deactivated: only probe once the backoff window elapsed
			if e.ReadyForProbe(now) {
				m.probe(ctx, e)
			}
		case e.TotalRequests() == 0:
			// Never used by live traffic: establish initial health
			m.probe(ctx, e)
		}
	}
}

func (m *HealthMonitor) probe(ctx context.Context, e *domain.Endpoint) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	latency, err := m.transport.Probe(probeCtx, e.URL)
	cancel()

	if err != nil {
		probeErr := apperrors.NewHealthProbeError(e.URL, err)
		transition := e.ApplyProbeResult(false, 0, m.policy)
		log := m.log.WithField("endpoint", e.URL).WithError(probeErr)
		if transition == domain.ProbeMarkedUnhealthy {
			log.Warn("Endpoint marked unhealthy by probe")
		} else {
			log.Debug("Health probe failed")
		}
		return
	}

	transition := e.ApplyProbeResult(true, latency, m.policy)
	log := m.log.WithField("endpoint", e.URL).
		WithField("latency_ms", latency.Milliseconds())
	switch transition {
	case domain.ProbeReactivated:
		log.Info("Endpoint recovered and rejoined rotation")
	case domain.ProbeMarkedHealthy:
		log.Info("Endpoint marked healthy by probe")
	default:
		log.Debug("Health probe passed")
	}
}
