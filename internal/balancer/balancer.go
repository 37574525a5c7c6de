package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baicaiyihao/quant/internal/domain"
	apperrors "github.com/baicaiyihao/quant/internal/errors"
	"github.com/baicaiyihao/quant/internal/registry"
	"github.com/baicaiyihao/quant/pkg/logger"
)

// Config contains the facade and call-path settings
type Config struct {
	Strategy            domain.StrategyName
	CallTimeout         time.Duration
	MaxFailoverAttempts int
}

// Balancer distributes outbound RPC calls across the registry's endpoint
// pool. It composes the selection strategy, the failure tracker and the
// health monitor, and hands out instrumented clients.
type Balancer struct {
	config    Config
	registry  *registry.Registry
	transport domain.Transport
	tracker   *FailureTracker
	monitor   *HealthMonitor
	log       *logger.Logger

	strategyMu sync.RWMutex
	strategy   SelectionStrategy

	// selectMu serializes selection so stateful strategies (weighted round
	// robin in particular) keep their ordering under concurrent calls
	selectMu sync.Mutex
}

// New creates a balancer. The endpoint set is fixed for the process lifetime;
// Start/Stop control only the background health monitoring.
func New(config Config, reg *registry.Registry, transport domain.Transport, tracker *FailureTracker, monitor *HealthMonitor, log *logger.Logger) (*Balancer, error) {
	strategy, err := NewStrategy(config.Strategy)
	if err != nil {
		return nil, err
	}

	b := &Balancer{
		config:    config,
		registry:  reg,
		transport: transport,
		tracker:   tracker,
		monitor:   monitor,
		log:       log.BalancerLogger(),
		strategy:  strategy,
	}
	b.log.Infof("Selection strategy set to: %s", strategy.Name())
	return b, nil
}

// Start launches background health monitoring
func (b *Balancer) Start(ctx context.Context) error {
	b.log.Infof("Starting balancer with %d endpoints", b.registry.Len())
	return b.monitor.Start(ctx)
}

// Stop stops background health monitoring. In-flight calls are not cancelled.
func (b *Balancer) Stop() error {
	b.log.Info("Stopping balancer")
	return b.monitor.Stop()
}

// SetStrategy swaps the active selection strategy at runtime without touching
// endpoint state
func (b *Balancer) SetStrategy(name domain.StrategyName) error {
	strategy, err := NewStrategy(name)
	if err != nil {
		return err
	}

	b.strategyMu.Lock()
	b.strategy = strategy
	b.strategyMu.Unlock()

	b.log.Infof("Selection strategy set to: %s", name)
	return nil
}

// Strategy returns the active strategy name
func (b *Balancer) Strategy() domain.StrategyName {
	b.strategyMu.RLock()
	defer b.strategyMu.RUnlock()
	return b.strategy.Name()
}

// CreateClient selects an endpoint and returns a client bound to it. Fails
// when no endpoint is active and healthy; callers that want to wait for an
// endpoint to come back poll with their own delay.
func (b *Balancer) CreateClient() (*Client, error) {
	endpoint, err := b.selectEndpoint()
	if err != nil {
		return nil, err
	}

	b.log.WithField("endpoint", endpoint.URL).
		WithField("strategy", string(b.Strategy())).
		Debug("Selected endpoint for client")

	return &Client{balancer: b, endpoint: endpoint}, nil
}

func (b *Balancer) selectEndpoint() (*domain.Endpoint, error) {
	b.strategyMu.RLock()
	strategy := b.strategy
	b.strategyMu.RUnlock()

	b.selectMu.Lock()
	defer b.selectMu.Unlock()

	candidates := b.registry.Candidates()
	if len(candidates) == 0 {
		return nil, apperrors.NewNoAvailableEndpointError()
	}
	return strategy.Select(candidates)
}

// Client is a handle bound to one selected endpoint. Every call is timed and
// reported to the failure tracker; a failed call fails over to an alternate
// endpoint at most MaxFailoverAttempts times before the error is surfaced.
type Client struct {
	balancer *Balancer
	endpoint *domain.Endpoint
}

// Endpoint returns the URL the client is currently bound to
func (c *Client) Endpoint() string {
	return c.endpoint.URL
}

// Call performs one RPC with instrumentation and failover
func (c *Client) Call(ctx context.Context, req domain.Request) (*domain.Response, error) {
	callID := uuid.NewString()
	endpoint := c.endpoint
	attempts := 0

	var lastErr error
	for {
		attempts++
		log := c.balancer.log.CallLogger(callID, req.Method, endpoint.URL)

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.balancer.config.CallTimeout)
		resp, err := c.balancer.transport.Call(callCtx, endpoint.URL, req)
		latency := time.Since(start)
		cancel()

		if err == nil {
			c.balancer.tracker.Success(endpoint, latency)
			log.WithField("latency_ms", latency.Milliseconds()).Debug("Call succeeded")
			return resp, nil
		}

		// Timeouts count the same as any other failure
		c.balancer.tracker.Failure(endpoint, err)
		lastErr = err
		log.WithError(err).WithField("attempt", attempts).Warn("Call failed")

		if attempts > c.balancer.config.MaxFailoverAttempts {
			break
		}
		next, selectErr := c.balancer.selectEndpoint()
		if selectErr != nil || next == endpoint {
			break
		}
		endpoint = next
	}

	return nil, apperrors.NewCallFailedError(c.endpoint.URL, endpoint.URL, attempts, lastErr)
}
