// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"time"

	"github.com/jllopis/kinkernel/pkg/errors"
)

// HealthStatus represents the health state of a server.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is the outcome of checking one server.
type HealthResult struct {
	Server    string        `json:"server"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	LastCheck time.Time     `json:"last_check"`
}

// Check connects to the named server if needed and pings it.
func (p *Pool) Check(ctx context.Context, name string) (result HealthResult) {
	result = HealthResult{Server: name, Status: HealthUnhealthy}
	start := time.Now()
	defer func() {
		result.Latency = time.Since(start)
		result.LastCheck = time.Now()
	}()

	client, err := p.Get(ctx, name)
	if err != nil {
		result.Message = errors.Diagnostic(err)
		return result
	}
	defer p.Release(name, client)

	if err := client.Ping(ctx); err != nil {
		p.healthChecksFailed.Add(1)
		result.Message = errors.Diagnostic(err)
		return result
	}
	p.healthChecksPassed.Add(1)
	result.Status = HealthHealthy
	return result
}

// CheckAll checks every registered server in name order. The overall status
// is healthy when every server is, unhealthy when none is and degraded
// otherwise. A pool without servers is healthy.
func (p *Pool) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	names := p.ListServers()
	results := make([]HealthResult, 0, len(names))
	healthy := 0
	for _, name := range names {
		r := p.Check(ctx, name)
		if r.Status == HealthHealthy {
			healthy++
		}
		results = append(results, r)
	}

	switch {
	case healthy == len(results):
		return results, HealthHealthy
	case healthy == 0:
		return results, HealthUnhealthy
	default:
		return results, HealthDegraded
	}
}
