package resilience

import (
	"sync"

	"github.com/MercatoLabs/dealkit/logger"
)

// OperationMode is the system-wide degradation level derived from the
// number of unavailable services.
type OperationMode string

// Operation modes.
const (
	ModeFull     OperationMode = "FULL"
	ModeDegraded OperationMode = "DEGRADED"
	ModeMinimal  OperationMode = "MINIMAL"
)

// defaultErrorThreshold is the consecutive error count at which a service
// is marked unavailable.
const defaultErrorThreshold = 3

// HealthMonitor tracks per-service consecutive error counts and derives the
// operation mode. It is process-global and safe for concurrent use; every
// pipeline error site and the circuit breaker report into it.
type HealthMonitor struct {
	mu          sync.Mutex
	threshold   int
	errorCounts map[string]int
	unavailable map[string]bool
}

// NewHealthMonitor creates a monitor with the given error threshold.
// A threshold below 1 uses the default of 3.
func NewHealthMonitor(threshold int) *HealthMonitor {
	if threshold < 1 {
		threshold = defaultErrorThreshold
	}
	return &HealthMonitor{
		threshold:   threshold,
		errorCounts: make(map[string]int),
		unavailable: make(map[string]bool),
	}
}

var (
	globalMonitor     *HealthMonitor
	globalMonitorOnce sync.Once
)

// Global returns the process-wide health monitor singleton.
func Global() *HealthMonitor {
	globalMonitorOnce.Do(func() {
		globalMonitor = NewHealthMonitor(defaultErrorThreshold)
	})
	return globalMonitor
}

// RecordError records a service error. Reaching the threshold marks the
// service unavailable and may degrade the operation mode.
func (m *HealthMonitor) RecordError(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCounts[service]++
	if m.errorCounts[service] >= m.threshold && !m.unavailable[service] {
		m.unavailable[service] = true
		logger.ServiceDegraded(service, string(m.modeLocked()), m.unavailableCountLocked())
	}
}

// RecordRecovery resets the error counter and availability for a service.
func (m *HealthMonitor) RecordRecovery(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasUnavailable := m.unavailable[service]
	m.errorCounts[service] = 0
	delete(m.unavailable, service)
	if wasUnavailable {
		logger.Info("Service recovered", "service", service, "mode", string(m.modeLocked()))
	}
}

// IsAvailable reports whether the service is currently considered healthy.
func (m *HealthMonitor) IsAvailable(service string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable[service]
}

// ErrorCount returns the consecutive error count for a service.
func (m *HealthMonitor) ErrorCount(service string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCounts[service]
}

// Mode derives the operation mode from the unavailable-service count:
// FULL (0), DEGRADED (1-2), MINIMAL (>=3).
func (m *HealthMonitor) Mode() OperationMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modeLocked()
}

// UnavailableServices returns the names of currently unavailable services.
func (m *HealthMonitor) UnavailableServices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	services := make([]string, 0, len(m.unavailable))
	for s := range m.unavailable {
		services = append(services, s)
	}
	return services
}

// Reset clears all counters and availability flags. Intended for tests.
func (m *HealthMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCounts = make(map[string]int)
	m.unavailable = make(map[string]bool)
}

func (m *HealthMonitor) modeLocked() OperationMode {
	switch n := m.unavailableCountLocked(); {
	case n == 0:
		return ModeFull
	case n <= 2:
		return ModeDegraded
	default:
		return ModeMinimal
	}
}

func (m *HealthMonitor) unavailableCountLocked() int {
	return len(m.unavailable)
}
