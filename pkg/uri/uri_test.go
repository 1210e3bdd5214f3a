package uri

import "testing"

func TestExpandWithEnvValue(t *testing.T) {
	env := Env{"HOST": "example.com"}
	got, err := Expand("http://{{HOST}}:8080/x", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://example.com:8080/x" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandWithDefault(t *testing.T) {
	got, err := Expand("http://{{HOST|default('localhost')}}/", Env{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://localhost/" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandMissingNoDefaultIsConfigError(t *testing.T) {
	_, err := Expand("http://{{HOST}}/", Env{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExpandIdempotentOverPlainString(t *testing.T) {
	got, err := Expand("http://plain.example/path", Env{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://plain.example/path" {
		t.Fatalf("got %q", got)
	}
}

func TestParseSchemeHostQuery(t *testing.T) {
	ep, err := Parse("mqtt://broker:1883/sensors/temp?qos=1", Env{})
	if err != nil {
		t.Fatal(err)
	}
	if ep.Scheme != "mqtt" || ep.Host != "broker" || ep.Port != "1883" {
		t.Fatalf("ep = %+v", ep)
	}
	if ep.Path != "/sensors/temp" {
		t.Fatalf("path = %q", ep.Path)
	}
	if ep.QueryInt("qos", -1) != 1 {
		t.Fatalf("qos = %d", ep.QueryInt("qos", -1))
	}
}

func TestParseRejectsUnterminatedPlaceholder(t *testing.T) {
	_, err := Parse("http://{{HOST/path", Env{})
	if err == nil {
		t.Fatal("expected error")
	}
}
