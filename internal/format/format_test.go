package format

import (
	"bytes"
	"testing"
)

type sample struct {
	ID      string   `json:"id"`
	Retries int      `json:"retry_count"`
	Tags    []string `json:"tags,omitempty"`
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).Write(&buf, sample{ID: "op-1", Retries: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "{\"id\":\"op-1\",\"retry_count\":2}\n" {
		t.Fatalf("unexpected json %q", got)
	}
}

func TestYAMLFormatterUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := (YAMLFormatter{}).Write(&buf, sample{ID: "op-1", Retries: 2, Tags: []string{"a"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "id: op-1\nretry_count: 2\ntags:\n  - a\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected yaml:\n%s\nwant:\n%s", got, want)
	}
}

func TestForName(t *testing.T) {
	for _, name := range []string{"", "json", "JSON"} {
		f, err := ForName(name)
		if err != nil {
			t.Fatalf("for name %q: %v", name, err)
		}
		if _, ok := f.(JSONFormatter); !ok {
			t.Fatalf("expected JSON formatter for %q, got %T", name, f)
		}
	}
	for _, name := range []string{"yaml", "yml"} {
		f, err := ForName(name)
		if err != nil {
			t.Fatalf("for name %q: %v", name, err)
		}
		if _, ok := f.(YAMLFormatter); !ok {
			t.Fatalf("expected YAML formatter for %q, got %T", name, f)
		}
	}
	if _, err := ForName("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
