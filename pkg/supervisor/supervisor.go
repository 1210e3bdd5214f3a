// Package supervisor runs a set of routes to completion: Registry holds the
// routes, HealthMonitor tracks their lifecycle snapshots, and
// LifecycleManager drives concurrent start/stop bounded by
// max_concurrent_routes. Supervisor is the thin facade gluing the three
// together.
package supervisor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowctl/flowctl/pkg/route"
)

// Supervisor owns the full set of routes for one running process.
type Supervisor struct {
	registry *Registry
	health   *HealthMonitor
	lc       *LifecycleManager
	log      *logrus.Entry
}

// New builds a Supervisor. maxConcurrentRoutes <= 0 means unbounded.
func New(maxConcurrentRoutes int, shutdownGrace time.Duration, log *logrus.Entry) *Supervisor {
	reg := NewRegistry()
	health := NewHealthMonitor()
	return &Supervisor{
		registry: reg,
		health:   health,
		lc:       NewLifecycleManager(reg, health, maxConcurrentRoutes, shutdownGrace, log),
		log:      log,
	}
}

// Register adds a route to the supervisor before Run is called.
func (s *Supervisor) Register(r *route.Route) error {
	return s.registry.Register(r)
}

// Run starts every registered route and blocks until they all stop, ctx is
// cancelled, or shutdown_grace elapses after cancellation. Safe to call
// once; routes registered after Run has started are not picked up.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.WithField("routes", s.registry.Names()).Info("supervisor: starting routes")
	return s.lc.Run(ctx)
}

// Status returns the latest known health snapshot for every registered
// route, in registration order.
func (s *Supervisor) Status() []RouteHealth {
	routes := s.registry.Routes()
	out := make([]RouteHealth, 0, len(routes))
	for _, r := range routes {
		h := s.health.Get(r.Name)
		if h.Name == "" {
			h = RouteHealth{Name: r.Name, State: r.State()}
		}
		out = append(out, h)
	}
	return out
}

// Route looks up a registered route by name, or nil if unknown.
func (s *Supervisor) Route(name string) *route.Route {
	return s.registry.Lookup(name)
}
