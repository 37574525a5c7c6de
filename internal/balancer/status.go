package balancer

import (
	"github.com/baicaiyihao/quant/internal/domain"
)

// StatusSnapshot is a point-in-time view of the pool for the control API
type StatusSnapshot struct {
	Strategy         string                    `json:"strategy"`
	TotalEndpoints   int                       `json:"totalEndpoints"`
	ActiveEndpoints  int                       `json:"activeEndpoints"`
	HealthyEndpoints int                       `json:"healthyEndpoints"`
	Endpoints        []domain.EndpointSnapshot `json:"endpoints"`
}

// MetricsSnapshot aggregates pool-wide performance numbers
type MetricsSnapshot struct {
	AvgResponseTimeMs     float64 `json:"avgResponseTimeMs"`
	TotalRequests         int64   `json:"totalRequests"`
	TotalSuccess          int64   `json:"totalSuccess"`
	OverallSuccessRatePct float64 `json:"overallSuccessRatePct"`
	ActiveEndpointCount   int     `json:"activeEndpointCount"`
	AvgEffectiveWeight    float64 `json:"avgEffectiveWeight"`
	TotalEffectiveWeight  float64 `json:"totalEffectiveWeight"`
}

// Status returns a point-in-time snapshot of every endpoint
func (b *Balancer) Status() StatusSnapshot {
	endpoints := b.registry.All()
	snap := StatusSnapshot{
		Strategy:       string(b.Strategy()),
		TotalEndpoints: len(endpoints),
		Endpoints:      make([]domain.EndpointSnapshot, 0, len(endpoints)),
	}
	for _, e := range endpoints {
		es := e.Snapshot()
		if es.IsActive {
			snap.ActiveEndpoints++
		}
		if es.IsHealthy {
			snap.HealthyEndpoints++
		}
		snap.Endpoints = append(snap.Endpoints, es)
	}
	return snap
}

// Metrics returns aggregated pool-wide metrics
func (b *Balancer) Metrics() MetricsSnapshot {
	var snap MetricsSnapshot
	var emaSum float64
	var emaCount int

	for _, e := range b.registry.All() {
		es := e.Snapshot()
		snap.TotalRequests += es.TotalRequests
		snap.TotalSuccess += es.SuccessCount
		snap.TotalEffectiveWeight += es.EffectiveWeight
		if es.IsActive {
			snap.ActiveEndpointCount++
		}
		if es.ResponseTimeMs > 0 {
			emaSum += es.ResponseTimeMs
			emaCount++
		}
	}

	if n := b.registry.Len(); n > 0 {
		snap.AvgEffectiveWeight = snap.TotalEffectiveWeight / float64(n)
	}
	if emaCount > 0 {
		snap.AvgResponseTimeMs = emaSum / float64(emaCount)
	}
	if snap.TotalRequests > 0 {
		snap.OverallSuccessRatePct = float64(snap.TotalSuccess) / float64(snap.TotalRequests) * 100
	}
	return snap
}
