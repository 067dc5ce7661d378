package modes

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	want := []string{"code", "architect", "ask", "debug"}
	if got := r.Slugs(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if _, ok := r.Get(DefaultMode); !ok {
		t.Errorf("default mode %q missing", DefaultMode)
	}
}

func TestToolAllowed(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name    string
		mode    string
		tool    string
		path    string
		allowed bool
	}{
		{"code edits anything", "code", "apply_diff", "main.go", true},
		{"code reads", "code", "read_file", "main.go", true},
		{"ask cannot edit", "ask", "write_to_file", "main.go", false},
		{"ask can search", "ask", "search_files", "", true},
		{"architect edits markdown", "architect", "write_to_file", "docs/plan.md", true},
		{"architect cannot edit code", "architect", "apply_diff", "main.go", false},
		{"always available", "ask", "switch_mode", "", true},
		{"completion", "architect", "attempt_completion", "", true},
		{"unknown tool", "code", "execute_command", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ToolAllowed(tt.mode, tt.tool, tt.path)
			if (err == nil) != tt.allowed {
				t.Errorf("expected allowed=%v, got %v", tt.allowed, err)
			}
			if err != nil {
				var nae *ToolNotAllowedError
				if !errors.As(err, &nae) {
					t.Errorf("expected *ToolNotAllowedError, got %T", err)
				}
			}
		})
	}
}

func TestToolAllowedFileRestrictionMessage(t *testing.T) {
	err := NewRegistry().ToolAllowed("architect", "apply_diff", "main.go")
	var nae *ToolNotAllowedError
	if !errors.As(err, &nae) {
		t.Fatalf("expected *ToolNotAllowedError, got %v", err)
	}
	if nae.FileRegex != `\.md$` {
		t.Errorf("expected file regex reported, got %q", nae.FileRegex)
	}
	if !strings.Contains(err.Error(), "main.go") {
		t.Errorf("expected path in message, got %q", err.Error())
	}
}

func TestToolAllowedUnknownMode(t *testing.T) {
	err := NewRegistry().ToolAllowed("nope", "read_file", "")
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestModeTools(t *testing.T) {
	m, _ := NewRegistry().Get("ask")
	got := strings.Join(m.Tools(), ",")
	want := "attempt_completion,list_files,new_task,read_file,search_files,switch_mode"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestLoadFile(t *testing.T) {
	content := `
modes:
  - slug: reviewer
    name: Reviewer
    role_definition: You review code.
    groups:
      - read
      - group: edit
        file_regex: '_test\.go$'
        description: Tests only
  - slug: ask
    name: Ask (custom)
    role_definition: Custom ask.
    groups: [read]
`
	path := filepath.Join(t.TempDir(), "modes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	reviewer, ok := r.Get("reviewer")
	if !ok {
		t.Fatal("expected reviewer mode")
	}
	if len(reviewer.Groups) != 2 || reviewer.Groups[1].FileRegex != `_test\.go$` {
		t.Errorf("unexpected groups: %+v", reviewer.Groups)
	}
	if err := r.ToolAllowed("reviewer", "apply_diff", "x_test.go"); err != nil {
		t.Errorf("expected test edits allowed: %v", err)
	}
	if err := r.ToolAllowed("reviewer", "apply_diff", "x.go"); err == nil {
		t.Error("expected non-test edit rejected")
	}

	ask, _ := r.Get("ask")
	if ask.Name != "Ask (custom)" {
		t.Errorf("expected built-in overridden, got %q", ask.Name)
	}
	if slugs := r.Slugs(); len(slugs) != 5 || slugs[4] != "reviewer" {
		t.Errorf("expected reviewer appended after built-ins, got %v", slugs)
	}
}

func TestLoadYAMLRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing slug", "modes:\n  - name: x\n    role_definition: y\n"},
		{"bad slug", "modes:\n  - slug: Bad Slug\n    role_definition: y\n"},
		{"unknown group", "modes:\n  - slug: x\n    role_definition: y\n    groups: [browser]\n"},
		{"bad regex", "modes:\n  - slug: x\n    role_definition: y\n    groups:\n      - group: edit\n        file_regex: '('\n"},
		{"missing role", "modes:\n  - slug: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.LoadYAML([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
			if len(r.Slugs()) != 4 {
				t.Errorf("registry changed on error: %v", r.Slugs())
			}
		})
	}
}
