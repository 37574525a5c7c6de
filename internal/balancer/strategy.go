package balancer

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/baicaiyihao/quant/internal/domain"
	apperrors "github.com/baicaiyihao/quant/internal/errors"
)

// SelectionStrategy chooses the next endpoint among the active-and-healthy
// candidates. Select is called on every outbound call and must be
// goroutine-safe; the balancer additionally serializes selection so stateful
// strategies keep their ordering under concurrency.
type SelectionStrategy interface {
	Select(candidates []*domain.Endpoint) (*domain.Endpoint, error)
	Name() domain.StrategyName
}

// NewStrategy creates a strategy by name
func NewStrategy(name domain.StrategyName) (SelectionStrategy, error) {
	switch name {
	case domain.RoundRobinStrategy:
		return &roundRobinStrategy{}, nil
	case domain.WeightedRoundRobinStrategy:
		return &weightedRoundRobinStrategy{}, nil
	case domain.LeastConnectionsStrategy:
		return &leastConnectionsStrategy{}, nil
	case domain.ResponseTimeStrategy:
		return &responseTimeStrategy{}, nil
	case domain.RandomStrategy:
		return &randomStrategy{}, nil
	default:
		return nil, apperrors.NewInvalidStrategyError(string(name))
	}
}

// roundRobinStrategy cycles a circular index over the filtered, order-stable
// candidate list
type roundRobinStrategy struct {
	index uint64
}

func (s *roundRobinStrategy) Select(candidates []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewNoAvailableEndpointError()
	}
	next := atomic.AddUint64(&s.index, 1)
	return candidates[(next-1)%uint64(len(candidates))], nil
}

func (s *roundRobinStrategy) Name() domain.StrategyName {
	return domain.RoundRobinStrategy
}

// weightedRoundRobinStrategy implements smooth weighted round robin over the
// endpoints' effective weights. Each selection picks the candidate with the
// largest current weight, subtracts the candidates' total effective weight
// from the pick, then credits every candidate its own effective weight. This
// amortizes selection frequency proportional to effective weight without
// bursty back-to-back picks of the heaviest endpoint.
type weightedRoundRobinStrategy struct {
	mu sync.Mutex
}

func (s *weightedRoundRobinStrategy) Select(candidates []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewNoAvailableEndpointError()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var selected *domain.Endpoint
	var total float64
	max := math.Inf(-1)

	for _, e := range candidates {
		total += e.EffectiveWeight()
		if cw := e.CurrentWeight(); cw > max {
			max = cw
			selected = e
		}
	}

	selected.AddCurrentWeight(-total)
	for _, e := range candidates {
		e.AddCurrentWeight(e.EffectiveWeight())
	}
	return selected, nil
}

func (s *weightedRoundRobinStrategy) Name() domain.StrategyName {
	return domain.WeightedRoundRobinStrategy
}

// leastConnectionsStrategy picks the endpoint with the fewest recorded
// requests; ties break toward the higher effective weight
type leastConnectionsStrategy struct{}

func (s *leastConnectionsStrategy) Select(candidates []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewNoAvailableEndpointError()
	}

	selected := candidates[0]
	for _, e := range candidates[1:] {
		er, sr := e.TotalRequests(), selected.TotalRequests()
		if er < sr || (er == sr && e.EffectiveWeight() > selected.EffectiveWeight()) {
			selected = e
		}
	}
	return selected, nil
}

func (s *leastConnectionsStrategy) Name() domain.StrategyName {
	return domain.LeastConnectionsStrategy
}

// responseTimeStrategy picks the endpoint with the lowest smoothed latency
type responseTimeStrategy struct{}

func (s *responseTimeStrategy) Select(candidates []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewNoAvailableEndpointError()
	}

	selected := candidates[0]
	for _, e := range candidates[1:] {
		if e.ResponseTimeEMA() < selected.ResponseTimeEMA() {
			selected = e
		}
	}
	return selected, nil
}

func (s *responseTimeStrategy) Name() domain.StrategyName {
	return domain.ResponseTimeStrategy
}

// randomStrategy picks uniformly among candidates
type randomStrategy struct{}

func (s *randomStrategy) Select(candidates []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewNoAvailableEndpointError()
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (s *randomStrategy) Name() domain.StrategyName {
	return domain.RandomStrategy
}
