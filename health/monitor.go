package health

import (
	"context"
	"sort"
	"sync"
)

// Check probes a single dependency and returns an error if it is unhealthy.
type Check func(ctx context.Context) error

// Monitor tracks the health status of named components. Components can push
// statuses directly with Update, or register a Check that RunChecks invokes
// to refresh the status on demand.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]Check
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]Check),
	}
}

// Update records the current status of a component
func (m *Monitor) Update(status Status) {
	if status.Component == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Component] = status
}

// UpdateHealthy records a healthy status for a component
func (m *Monitor) UpdateHealthy(component, message string) {
	m.Update(NewHealthy(component, message))
}

// UpdateUnhealthy records an unhealthy status for a component
func (m *Monitor) UpdateUnhealthy(component, message string) {
	m.Update(NewUnhealthy(component, message))
}

// RegisterCheck associates a check with a component. The check runs on every
// RunChecks call and its result replaces the component's stored status.
// Registering a check also seeds an initial healthy status so the component
// appears in reports before the first run.
func (m *Monitor) RegisterCheck(component string, check Check) {
	if component == "" || check == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
	if _, ok := m.statuses[component]; !ok {
		m.statuses[component] = NewHealthy(component, "Check registered")
	}
}

// RunChecks runs all registered checks and updates the stored statuses.
// Checks run outside the monitor lock so a slow dependency does not block
// status reads.
func (m *Monitor) RunChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	for name, check := range checks {
		if err := check(ctx); err != nil {
			m.UpdateUnhealthy(name, err.Error())
		} else {
			m.UpdateHealthy(name, "OK")
		}
	}
}

// Get returns the status of a specific component
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[component]
	return status, ok
}

// GetAll returns the statuses of all tracked components sorted by name
func (m *Monitor) GetAll() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		all = append(all, status)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Component < all[j].Component
	})
	return all
}

// AggregateHealth returns the aggregate status of all tracked components
func (m *Monitor) AggregateHealth(component string) Status {
	return Aggregate(component, m.GetAll())
}

// Count returns the number of tracked components
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Clear removes all tracked statuses and checks
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = make(map[string]Status)
	m.checks = make(map[string]Check)
}
