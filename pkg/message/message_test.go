package message

import (
	"encoding/json"
	"testing"
)

func TestNewCarriesMandatoryFields(t *testing.T) {
	m := New("timer://1s", "ticker", map[string]any{"tick_id": int64(0)})

	if m.String("source") != "timer://1s" {
		t.Fatalf("source = %q", m.String("source"))
	}
	if m.String("route") != "ticker" {
		t.Fatalf("route = %q", m.String("route"))
	}
	if m.String("timestamp") == "" {
		t.Fatal("timestamp not set")
	}
	if n, ok := m.Int("tick_id"); !ok || n != 0 {
		t.Fatalf("tick_id = %v, %v", n, ok)
	}
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := New("test://", "r", map[string]any{"v": int64(1)})
	next := base.With("v", int64(2))

	if n, _ := base.Int("v"); n != 1 {
		t.Fatalf("base mutated: v=%d", n)
	}
	if n, _ := next.Int("v"); n != 2 {
		t.Fatalf("next.v = %d, want 2", n)
	}
}

func TestWithAll(t *testing.T) {
	base := New("test://", "r", map[string]any{"a": int64(1)})
	next := base.WithAll(map[string]any{"b": int64(2), "c": "x"})

	if _, ok := base.Int("b"); ok {
		t.Fatal("base should not see b")
	}
	if n, _ := next.Int("a"); n != 1 {
		t.Fatalf("next lost a: %d", n)
	}
	if n, _ := next.Int("b"); n != 2 {
		t.Fatalf("next.b = %d", n)
	}
}

func TestAccessorsMissingKey(t *testing.T) {
	m := New("test://", "r", nil)
	if m.String("missing") != "" {
		t.Fatal("expected empty string for missing key")
	}
	if _, ok := m.Int("missing"); ok {
		t.Fatal("expected ok=false for missing int")
	}
	if _, ok := m.Bool("missing"); ok {
		t.Fatal("expected ok=false for missing bool")
	}
	if v, ok := m.Array("missing"); ok || v != nil {
		t.Fatal("expected ok=false, nil for missing array")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	m := New("http://", "r", map[string]any{"n": int64(21)})
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}

	var out Message
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if n, ok := out.Int("n"); !ok || n != 21 {
		t.Fatalf("round-tripped n = %v, %v", n, ok)
	}
}

func TestBytesBody(t *testing.T) {
	m := New("test://", "r", map[string]any{"body": "hello"})
	if string(m.Bytes("body")) != "hello" {
		t.Fatalf("Bytes(body) = %q", m.Bytes("body"))
	}
}
