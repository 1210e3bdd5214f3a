package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsAndRouteDecoding(t *testing.T) {
	yamlDoc := `
routes:
  - name: ticker
    from: "timer://1s"
    processors:
      - type: filter
        predicate: "{{v}} > 10"
    to: "log://"
settings:
  max_concurrent_routes: 3
`
	path := writeTemp(t, "config.yaml", yamlDoc)

	doc, snapshot, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot == nil {
		t.Fatal("expected non-nil env snapshot")
	}
	if len(doc.Routes) != 1 {
		t.Fatalf("routes = %d", len(doc.Routes))
	}
	r := doc.Routes[0]
	if r.Name != "ticker" || r.From != "timer://1s" {
		t.Fatalf("route = %+v", r)
	}
	if len(r.To) != 1 || r.To[0] != "log://" {
		t.Fatalf("to = %v", r.To)
	}
	if len(r.Processors) != 1 || r.Processors[0].Type != "filter" {
		t.Fatalf("processors = %+v", r.Processors)
	}
	if doc.Settings.MaxConcurrentRoutes != 3 {
		t.Fatalf("max_concurrent_routes = %d", doc.Settings.MaxConcurrentRoutes)
	}
	if doc.Settings.QueueCapacity != 64 {
		t.Fatalf("queue_capacity default = %d", doc.Settings.QueueCapacity)
	}
}

func TestLoadMissingRequiredEnvVar(t *testing.T) {
	yamlDoc := `
routes:
  - name: r
    from: "timer://1s"
    to: "log://"
env_vars:
  - FLOWCTL_TEST_DOES_NOT_EXIST_XYZ
`
	path := writeTemp(t, "config.yaml", yamlDoc)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for missing required env var")
	}
}

func TestLoadDuplicateRouteNameRejected(t *testing.T) {
	yamlDoc := `
routes:
  - name: r
    from: "timer://1s"
    to: "log://"
  - name: r
    from: "timer://2s"
    to: "log://"
`
	path := writeTemp(t, "config.yaml", yamlDoc)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate route name")
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	doc, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Routes) != 0 {
		t.Fatalf("expected no routes, got %d", len(doc.Routes))
	}
}
