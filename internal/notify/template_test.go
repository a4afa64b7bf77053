package notify

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRenderString(t *testing.T) {
	vars := map[string]string{
		"monitor_name": "API",
		"status":       "down",
	}

	tests := []struct {
		tpl  string
		want string
	}{
		{"Monitor {monitor_name} is {status}", "Monitor API is down"},
		{"no placeholders", "no placeholders"},
		{"{missing} key", " key"},
		{"{monitor_name}{status}", "APIdown"},
		{"literal {not a key}", "literal {not a key}"},
	}

	for _, tt := range tests {
		if got := RenderString(tt.tpl, vars); got != tt.want {
			t.Errorf("RenderString(%q) = %q, want %q", tt.tpl, got, tt.want)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	tpl := json.RawMessage(`{
		"text": "{monitor_name} went {status}",
		"count": 3,
		"enabled": true,
		"nested": {"detail": "{error}"},
		"list": ["{status}", 42]
	}`)
	vars := map[string]string{
		"monitor_name": "API",
		"status":       "down",
		"error":        "connect_refused",
	}

	got, err := RenderJSON(tpl, vars)
	if err != nil {
		t.Fatalf("RenderJSON failed: %v", err)
	}

	want := map[string]any{
		"text":    "API went down",
		"count":   float64(3),
		"enabled": true,
		"nested":  map[string]any{"detail": "connect_refused"},
		"list":    []any{"down", float64(42)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RenderJSON = %#v, want %#v", got, want)
	}
}

func TestRenderJSONInvalid(t *testing.T) {
	if _, err := RenderJSON(json.RawMessage(`{broken`), nil); err == nil {
		t.Error("expected error for invalid template JSON")
	}
}
