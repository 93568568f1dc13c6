// Package health provides health check functionality
package health

import (
	"sort"
	"sync"
	"time"
)

// Overall status values
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical,omitempty"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's health when the status is read
type Probe func() (healthy bool, message string)

type registration struct {
	probe    Probe
	critical bool
}

// Checker tracks health of system components
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]registration
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]registration),
	}
}

// Register adds a probe evaluated on every status read. A failing critical
// component makes the whole system unhealthy rather than degraded.
func (c *Checker) Register(name string, critical bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = registration{probe: probe, critical: critical}
}

// Refresh runs all registered probes
func (c *Checker) Refresh() {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	regs := make([]registration, 0, len(c.probes))
	for name, reg := range c.probes {
		names = append(names, name)
		regs = append(regs, reg)
	}
	c.mu.RUnlock()

	// Probes run unlocked; they may call back into other components
	checks := make([]Check, len(regs))
	for i, reg := range regs {
		healthy, msg := reg.probe()
		checks[i] = Check{
			Healthy:   healthy,
			Critical:  reg.critical,
			Message:   msg,
			LastCheck: time.Now(),
		}
	}

	c.mu.Lock()
	for i, name := range names {
		c.components[name] = checks[i]
	}
	c.mu.Unlock()
}

// GetStatus refreshes probes and returns the overall health status
func (c *Checker) GetStatus() Status {
	c.Refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusOK
	for _, check := range c.components {
		if check.Healthy {
			continue
		}
		if check.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	// Copy components map
	components := make(map[string]Check, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	c.Refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, check := range c.components {
		if !check.Healthy {
			return false
		}
	}
	return true
}

// Unhealthy returns the names of failing components, sorted
func (c *Checker) Unhealthy() []string {
	c.Refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, check := range c.components {
		if !check.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
