// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package health tracks per-service probe results and numeric metrics for
// the running agent.
package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/instagov/internal/util"
)

// ServiceState is the probed state of one dependency.
type ServiceState string

const (
	StateHealthy   ServiceState = "healthy"
	StateDegraded  ServiceState = "degraded"
	StateUnhealthy ServiceState = "unhealthy"
)

// ServiceStatus is the last observed probe for one service.
type ServiceStatus struct {
	Name      string       `json:"name"`
	State     ServiceState `json:"state"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Report is a point-in-time snapshot of overall health.
type Report struct {
	Healthy     bool                     `json:"healthy"`
	Message     string                   `json:"message"`
	CheckedAt   time.Time                `json:"checked_at"`
	Services    map[string]ServiceStatus `json:"services"`
	Metrics     map[string]float64       `json:"metrics"`
	ServiceList []ServiceStatus          `json:"-"`
}

// Monitor collects probe results and metrics behind one mutex.
type Monitor struct {
	mu       sync.Mutex
	services map[string]ServiceStatus
	metrics  map[string]float64
	clock    util.Clock
	logger   *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(c util.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates an empty Monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		services: make(map[string]ServiceStatus),
		metrics:  make(map[string]float64),
		clock:    util.SystemClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordProbe stores the result of probing one service.
func (m *Monitor) RecordProbe(name string, state ServiceState, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services[name] = ServiceStatus{
		Name:      name,
		State:     state,
		Message:   message,
		CheckedAt: m.clock.Now(),
	}
	if state != StateHealthy {
		m.logger.Warn("service probe unhealthy",
			zap.String("service", name),
			zap.String("state", string(state)),
			zap.String("message", message))
	}
}

// RecordMetric stores or overwrites a named gauge.
func (m *Monitor) RecordMetric(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[name] = value
}

// Report snapshots the monitor. Overall health is the conjunction of all
// recorded probes; a monitor with no probes reports healthy.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		Healthy:   true,
		Message:   "all services healthy",
		CheckedAt: m.clock.Now(),
		Services:  make(map[string]ServiceStatus, len(m.services)),
		Metrics:   make(map[string]float64, len(m.metrics)),
	}
	for name, s := range m.services {
		r.Services[name] = s
		r.ServiceList = append(r.ServiceList, s)
		if s.State == StateUnhealthy {
			r.Healthy = false
			r.Message = "one or more services unhealthy"
		}
	}
	for name, v := range m.metrics {
		r.Metrics[name] = v
	}
	sort.Slice(r.ServiceList, func(i, j int) bool {
		return r.ServiceList[i].Name < r.ServiceList[j].Name
	})
	return r
}
