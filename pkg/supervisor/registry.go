package supervisor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowctl/flowctl/pkg/route"
)

// Registry holds every route the supervisor knows about, keyed by name, in
// registration order. Routes have no dependency graph to resolve — no
// mutable state crosses route boundaries — so there is no ordering or
// dependency-resolution machinery here, only a name-keyed lookup.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]*route.Route
	order  []string
}

// NewRegistry returns an empty route registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]*route.Route)}
}

// Register adds r to the registry. Names must be unique, matching
// config.validate's duplicate-route-name check one layer up.
func (reg *Registry) Register(r *route.Route) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.routes[r.Name]; exists {
		return fmt.Errorf("supervisor: route %q already registered", r.Name)
	}
	reg.routes[r.Name] = r
	reg.order = append(reg.order, r.Name)
	return nil
}

// Unregister drops a route, supporting an optional future reload surface;
// the core engine itself never calls it.
func (reg *Registry) Unregister(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.routes, name)
	for i, n := range reg.order {
		if n == name {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
}

// Lookup returns the named route, or nil if not registered.
func (reg *Registry) Lookup(name string) *route.Route {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.routes[name]
}

// Routes returns every registered route in registration order.
func (reg *Registry) Routes() []*route.Route {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*route.Route, 0, len(reg.order))
	for _, n := range reg.order {
		if r, ok := reg.routes[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Names returns every registered route name, sorted.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.routes))
	for n := range reg.routes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
