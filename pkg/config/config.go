// Package config loads the engine's configuration document: route
// declarations plus process-wide settings. Loading follows the same shape
// as the rest of the stack: an optional YAML file overlaid with
// environment variables decoded via struct tags, and a .env file loaded
// first for local development convenience.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/flowctl/flowctl/pkg/ferrors"
)

// ProcessorSpec is one stage of a route's processor chain as declared in
// the configuration document. Fields beyond Type are processor-specific
// and are decoded lazily by each processor constructor.
type ProcessorSpec struct {
	Type string         `yaml:"type" json:"type"`
	Raw  map[string]any `yaml:",inline" json:"-"`
}

// UnmarshalYAML captures both the "type" discriminator and every other
// key so processor constructors can decode their own shape from Raw.
func (p *ProcessorSpec) UnmarshalYAML(unmarshal func(any) error) error {
	var raw map[string]any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	t, _ := raw["type"].(string)
	p.Type = t
	p.Raw = raw
	return nil
}

// RouteSpec is a single route declaration.
type RouteSpec struct {
	Name       string          `yaml:"name" json:"name"`
	From       string          `yaml:"from" json:"from"`
	Processors []ProcessorSpec `yaml:"processors" json:"processors"`
	To         StringOrSlice   `yaml:"to" json:"to"`
}

// StringOrSlice decodes either a single URI string or a list of URIs into
// a normalized []string, matching the document schema's `to` field.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Settings holds process-wide engine tuning, each field defaulted per the
// configuration document's schema.
type Settings struct {
	MaxConcurrentRoutes int           `yaml:"max_concurrent_routes" env:"FLOWCTL_MAX_CONCURRENT_ROUTES"`
	DefaultTimeout      time.Duration `yaml:"-" json:"-"`
	DefaultTimeoutSec   int           `yaml:"default_timeout" env:"FLOWCTL_DEFAULT_TIMEOUT"`
	LogLevel            string        `yaml:"log_level" env:"FLOWCTL_LOG_LEVEL"`
	QueueCapacity       int           `yaml:"queue_capacity" env:"FLOWCTL_QUEUE_CAPACITY"`
	ShutdownGrace       time.Duration `yaml:"-" json:"-"`
	ShutdownGraceSec    int           `yaml:"shutdown_grace" env:"FLOWCTL_SHUTDOWN_GRACE"`

	// AuditDSN is a postgres DSN for the route lifecycle audit log.
	// Empty disables the audit writer entirely.
	AuditDSN string `yaml:"audit_dsn" env:"FLOWCTL_AUDIT_DSN"`

	// HostMetricsInterval controls how often the host resource sampler
	// reports CPU/RSS gauges.
	HostMetricsIntervalSec int           `yaml:"host_metrics_interval" env:"FLOWCTL_HOST_METRICS_INTERVAL"`
	HostMetricsInterval    time.Duration `yaml:"-" json:"-"`

	// Tracing carries resource attributes attached to every structured log
	// line the engine emits, letting a deployment stamp process-wide
	// identity (service name, region, instance id) without threading it
	// through every call site.
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// TracingConfig holds resource attributes merged onto the process-wide
// logger, either from the configuration document or from a comma-separated
// environment variable.
type TracingConfig struct {
	ResourceAttributes map[string]string `yaml:"resource_attributes" json:"resource_attributes"`
	AttributesEnv      string            `yaml:"-" json:"-" env:"FLOWCTL_RESOURCE_ATTRIBUTES"`
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into
// ResourceAttributes, trimming whitespace and skipping empty keys.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		result[k] = v
	}
	return result
}

// Document is the top-level configuration document consumed by the core.
type Document struct {
	Routes   []RouteSpec `yaml:"routes" json:"routes"`
	EnvVars  []string    `yaml:"env_vars" json:"env_vars"`
	Settings Settings    `yaml:"settings" json:"settings"`
}

func defaults() Document {
	return Document{
		Settings: Settings{
			MaxConcurrentRoutes:    10,
			DefaultTimeoutSec:      30,
			LogLevel:               "info",
			QueueCapacity:          64,
			ShutdownGraceSec:       30,
			HostMetricsIntervalSec: 15,
		},
	}
}

// Load reads a .env file (if present), a YAML document at path (if path is
// non-empty and the file exists), overlays environment-variable
// overrides, validates required env_vars, captures the environment
// snapshot, and returns the resolved Document plus that snapshot.
func Load(path string) (*Document, map[string]string, error) {
	_ = godotenv.Load()

	doc := defaults()
	if path != "" {
		if err := loadFromFile(path, &doc); err != nil {
			return nil, nil, err
		}
	}

	if err := envdecode.Decode(&doc.Settings); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, nil, ferrors.Config("config.load", fmt.Errorf("decode env: %w", err))
		}
	}
	if err := envdecode.Decode(&doc.Settings.Tracing); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, nil, ferrors.Config("config.load", fmt.Errorf("decode env: %w", err))
		}
	}
	doc.Settings.normalize()

	snapshot := snapshotEnv()
	if err := validateEnvVars(doc.EnvVars, snapshot); err != nil {
		return nil, nil, err
	}

	if err := validate(&doc); err != nil {
		return nil, nil, err
	}

	return &doc, snapshot, nil
}

func loadFromFile(path string, doc *Document) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ferrors.Config("config.load", err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return ferrors.Config("config.load", fmt.Errorf("parse %s: %w", path, err))
	}
	return nil
}

func (s *Settings) normalize() {
	if s.MaxConcurrentRoutes <= 0 {
		s.MaxConcurrentRoutes = 10
	}
	if s.DefaultTimeoutSec <= 0 {
		s.DefaultTimeoutSec = 30
	}
	if s.QueueCapacity <= 0 {
		s.QueueCapacity = 64
	}
	if s.ShutdownGraceSec <= 0 {
		s.ShutdownGraceSec = 30
	}
	if s.HostMetricsIntervalSec <= 0 {
		s.HostMetricsIntervalSec = 15
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	s.DefaultTimeout = time.Duration(s.DefaultTimeoutSec) * time.Second
	s.ShutdownGrace = time.Duration(s.ShutdownGraceSec) * time.Second
	s.HostMetricsInterval = time.Duration(s.HostMetricsIntervalSec) * time.Second
	s.Tracing.normalize()
}

func snapshotEnv() map[string]string {
	snap := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			snap[parts[0]] = parts[1]
		}
	}
	return snap
}

func validateEnvVars(required []string, snapshot map[string]string) error {
	var missing []string
	for _, name := range required {
		if _, ok := snapshot[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return ferrors.Config("config.validate", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func validate(doc *Document) error {
	seen := make(map[string]bool, len(doc.Routes))
	for _, r := range doc.Routes {
		if r.Name == "" {
			return ferrors.Config("config.validate", fmt.Errorf("route missing name"))
		}
		if seen[r.Name] {
			return ferrors.Config("config.validate", fmt.Errorf("duplicate route name %q", r.Name))
		}
		seen[r.Name] = true
		if r.From == "" {
			return ferrors.Config("config.validate", fmt.Errorf("route %q: from is required", r.Name))
		}
		if len(r.To) == 0 {
			return ferrors.Config("config.validate", fmt.Errorf("route %q: to is required", r.Name))
		}
	}
	return nil
}
