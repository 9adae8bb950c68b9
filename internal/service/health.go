package service

import (
	"context"
	"time"
)

// Health check statuses.
const (
	HealthHealthy       = "healthy"
	HealthUnhealthy     = "unhealthy"
	HealthUninitialized = "uninitialized"
)

const probeTimeout = 5 * time.Second

// Check is the outcome of one health probe. Latency is in milliseconds.
type Check struct {
	Status  string `json:"status"`
	Latency *int64 `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health is the healthCheck response.
type Health struct {
	Code   int              `json:"code"`
	Checks map[string]Check `json:"checks"`
}

// HealthCheck probes the data store and the storage gateway.
func (s *Service) HealthCheck(ctx context.Context) Health {
	return Health{
		Code: 1,
		Checks: map[string]Check{
			"db":      s.probe(ctx, s.db),
			"storage": s.probe(ctx, s.storage),
		},
	}
}

func (s *Service) probe(ctx context.Context, p Pinger) Check {
	if p == nil {
		return Check{Status: HealthUninitialized}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := s.now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: HealthUnhealthy, Error: err.Error()}
	}
	latency := s.now().Sub(start).Milliseconds()
	return Check{Status: HealthHealthy, Latency: &latency}
}
