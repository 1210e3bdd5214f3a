package supervisor

import (
	"sync"
	"time"

	"github.com/flowctl/flowctl/pkg/route"
)

// RouteHealth captures the latest supervisor-observed lifecycle snapshot
// for one route. Routes have no separate readiness probe: State itself
// already distinguishes Running from Stopped/Failed.
type RouteHealth struct {
	Name      string
	State     route.State
	Err       string
	StartedAt *time.Time
	StoppedAt *time.Time
	UpdatedAt time.Time
}

// HealthMonitor tracks the latest RouteHealth per route, guarded by its own
// mutex and kept as a component separate from Registry/LifecycleManager so
// Supervisor.Status() can read a consistent snapshot without holding the
// registry lock.
type HealthMonitor struct {
	mu     sync.RWMutex
	health map[string]RouteHealth
}

// NewHealthMonitor returns an empty health monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{health: make(map[string]RouteHealth)}
}

// Set records name's current health snapshot.
func (h *HealthMonitor) Set(name string, st route.State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	existing := h.health[name]
	rh := RouteHealth{Name: name, State: st, UpdatedAt: now, StartedAt: existing.StartedAt}

	switch st {
	case route.StateStarting:
		rh.StartedAt = &now
	case route.StateStopped, route.StateFailed:
		rh.StoppedAt = &now
	}
	if err != nil {
		rh.Err = err.Error()
	}
	h.health[name] = rh
}

// Get returns name's last-known snapshot, zero value if never recorded.
func (h *HealthMonitor) Get(name string) RouteHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health[name]
}

// Delete removes a route's health data, used alongside Registry.Unregister.
func (h *HealthMonitor) Delete(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.health, name)
}
