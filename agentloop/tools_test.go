package agentloop

import (
	"encoding/json"
	"testing"
)

func TestParseToolArguments(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		args, err := ParseToolArguments(json.RawMessage(raw))
		if err != nil || args == nil || len(args) != 0 {
			t.Errorf("ParseToolArguments(%q) = %v, %v; want empty map", raw, args, err)
		}
	}
	if _, err := ParseToolArguments(json.RawMessage(`{"path":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestGetIntArg(t *testing.T) {
	args := map[string]interface{}{
		"float":  float64(12),
		"string": " 7 ",
		"bad":    "seven",
		"bool":   true,
	}
	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"float", 12, true},
		{"string", 7, true},
		{"bad", 0, false},
		{"bool", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := GetIntArg(args, tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("GetIntArg(%q) = %d, %v; want %d, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGetBoolArg(t *testing.T) {
	args := map[string]interface{}{"a": true, "b": "true", "c": "false", "d": "yes"}
	tests := []struct {
		key    string
		want   bool
		wantOK bool
	}{
		{"a", true, true},
		{"b", true, true},
		{"c", false, true},
		{"d", false, false},
		{"missing", false, false},
	}
	for _, tt := range tests {
		got, ok := GetBoolArg(args, tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("GetBoolArg(%q) = %v, %v; want %v, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMissingArgs(t *testing.T) {
	def := ToolDefinition{
		Name:       "apply_diff",
		Parameters: map[string]interface{}{"required": []interface{}{"path", "diff"}},
	}
	missing := missingArgs(def, map[string]interface{}{"path": "a.go", "diff": nil})
	if len(missing) != 1 || missing[0] != "diff" {
		t.Errorf("missingArgs = %v, want [diff]", missing)
	}
}

func TestToolRegistrySubset(t *testing.T) {
	reg := NewToolRegistry()
	RegisterBuiltinTools(reg)

	defs := reg.Subset([]string{"write_to_file", "nope", "read_file"})
	if len(defs) != 2 || defs[0].Name != "write_to_file" || defs[1].Name != "read_file" {
		t.Fatalf("Subset = %+v", defs)
	}

	clone := reg.Clone()
	clone.Unregister("read_file")
	if reg.Get("read_file") == nil {
		t.Error("Unregister on a clone changed the original")
	}
	if clone.Count() != reg.Count()-1 {
		t.Errorf("clone count = %d, original %d", clone.Count(), reg.Count())
	}
}

func TestBuiltinToolsAreModeGoverned(t *testing.T) {
	reg := NewToolRegistry()
	RegisterBuiltinTools(reg)
	for _, name := range reg.Names() {
		if !builtinTool(name) {
			t.Errorf("%s is registered as a built-in but no mode group lists it", name)
		}
	}
	if builtinTool("deploy") {
		t.Error("deploy should not be a built-in tool")
	}
}
