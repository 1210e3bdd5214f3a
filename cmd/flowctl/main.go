// Command flowctl is the engine's entry point: it loads configuration,
// wires logging, metrics, endpoint drivers, and the route supervisor
// together, and drives the process lifecycle until an OS signal requests
// shutdown. Grounded on cmd/appserver/main.go's flag/signal/shutdown
// pattern, generalized from one HTTP application to a set of routes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowctl/flowctl/pkg/audit"
	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/endpoint"
	"github.com/flowctl/flowctl/pkg/hostmetrics"
	"github.com/flowctl/flowctl/pkg/logger"
	"github.com/flowctl/flowctl/pkg/metrics"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/route"
	"github.com/flowctl/flowctl/pkg/supervisor"
	"github.com/flowctl/flowctl/pkg/uri"
)

func main() {
	configPath := flag.String("config", "flowctl.yaml", "path to the routing configuration document")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on, empty to disable")
	flag.Parse()

	doc, envSnapshot, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowctl: load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{Level: doc.Settings.LogLevel, Format: "text", Output: "stdout"})

	// base carries the configured resource attributes (service name,
	// region, instance id, ...) as default fields on every log line the
	// process emits, independent of which subsystem logs it.
	resourceFields := make(map[string]interface{}, len(doc.Settings.Tracing.ResourceAttributes))
	for k, v := range doc.Settings.Tracing.ResourceAttributes {
		resourceFields[k] = v
	}
	base := log.WithFields(resourceFields)
	base.Infof("flowctl: loaded %d routes", len(doc.Routes))

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, log)
	}

	auditWriter, err := audit.Open(doc.Settings.AuditDSN)
	if err != nil {
		base.Fatalf("flowctl: open audit log: %v", err)
	}
	defer auditWriter.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampler, err := hostmetrics.New(doc.Settings.HostMetricsInterval, base.WithField("component", "hostmetrics"))
	if err != nil {
		base.WithError(err).Warn("flowctl: host metrics sampler unavailable")
	} else {
		go sampler.Run(rootCtx)
	}

	reg := registry.New()
	endpoint.RegisterAll(reg)

	env := uri.Env(envSnapshot)
	sup := supervisor.New(doc.Settings.MaxConcurrentRoutes, doc.Settings.ShutdownGrace, base.WithField("component", "supervisor"))

	for _, spec := range doc.Routes {
		r := route.New(spec, reg, env, base.WithField("component", "route"), doc.Settings.QueueCapacity, doc.Settings.DefaultTimeout)
		if err := sup.Register(r); err != nil {
			base.Fatalf("flowctl: register route %q: %v", spec.Name, err)
		}
	}

	go watchAuditTransitions(rootCtx, sup, auditWriter, doc.Settings)

	if err := sup.Run(rootCtx); err != nil && rootCtx.Err() == nil {
		base.WithError(err).Error("flowctl: supervisor exited with error")
		os.Exit(1)
	}
	base.Info("flowctl: shutdown complete")
}

// watchAuditTransitions polls the supervisor's status snapshot and appends
// every observed state change to the audit log. Polling, rather than a
// callback from the supervisor, keeps Route/Supervisor free of an audit
// dependency; the interval is a fraction of the ambient host metrics
// cadence so lifecycle transitions are captured promptly without adding a
// dedicated setting.
func watchAuditTransitions(ctx context.Context, sup *supervisor.Supervisor, w *audit.Writer, settings config.Settings) {
	if w == nil {
		return
	}
	interval := settings.HostMetricsInterval / 3
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]string)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range sup.Status() {
				prev, seen := last[h.Name]
				cur := string(h.State)
				if seen && prev == cur {
					continue
				}
				_ = w.Record(ctx, h.Name, prev, cur, h.Err)
				last[h.Name] = cur
			}
		}
	}
}

func serveMetrics(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.WithField("addr", addr).Info("flowctl: serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("flowctl: metrics server exited")
	}
}
