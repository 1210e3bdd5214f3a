package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowctl/flowctl/pkg/route"
)

// LifecycleManager drives route start/stop. A Route's Start blocks for the
// route's entire running lifetime, so routes cannot be started by walking
// them one at a time; LifecycleManager instead starts every route in its
// own goroutine behind a buffered-channel semaphore sized to
// max_concurrent_routes: routes beyond the cap block on the semaphore
// acquire, i.e. sit in the pending set, and start the moment a running
// route's slot frees up.
type LifecycleManager struct {
	registry      *Registry
	health        *HealthMonitor
	maxConcurrent int
	shutdownGrace time.Duration
	log           *logrus.Entry
}

// NewLifecycleManager builds a LifecycleManager over registry/health.
// maxConcurrent <= 0 means unbounded (every route starts immediately).
func NewLifecycleManager(registry *Registry, health *HealthMonitor, maxConcurrent int, shutdownGrace time.Duration, log *logrus.Entry) *LifecycleManager {
	return &LifecycleManager{
		registry:      registry,
		health:        health,
		maxConcurrent: maxConcurrent,
		shutdownGrace: shutdownGrace,
		log:           log,
	}
}

// Run starts every registered route and blocks until all have stopped or
// failed, or ctx is cancelled. On cancellation it requests every route to
// stop, propagating hierarchically down to each route's source, processor
// chain, and sinks, and waits up to shutdownGrace for a clean drain before
// returning an error, so the caller can force-terminate any external
// subprocess still alive.
func (lm *LifecycleManager) Run(ctx context.Context) error {
	routes := lm.registry.Routes()
	if len(routes) == 0 {
		return nil
	}

	limit := lm.maxConcurrent
	if limit <= 0 {
		limit = len(routes)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, r := range routes {
		wg.Add(1)
		go func(r *route.Route) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			lm.runOne(ctx, r)
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		lm.log.Info("supervisor: cancellation received, stopping routes")
		for _, r := range routes {
			r.Stop()
		}
		select {
		case <-done:
			return ctx.Err()
		case <-time.After(lm.shutdownGrace):
			lm.log.Warn("supervisor: shutdown_grace exceeded, returning with routes still draining")
			return fmt.Errorf("supervisor: shutdown_grace %s exceeded: %w", lm.shutdownGrace, ctx.Err())
		}
	}
}

func (lm *LifecycleManager) runOne(ctx context.Context, r *route.Route) {
	lm.health.Set(r.Name, route.StateStarting, nil)

	err := r.Start(ctx)

	lm.health.Set(r.Name, r.State(), err)
	if err != nil {
		lm.log.WithError(err).WithField("route", r.Name).Warn("route stopped with error")
	}
}
