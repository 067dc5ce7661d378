// Package modes defines agent modes: a role definition plus the tool
// groups the model may use while the mode is active.
package modes

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Group names a set of tools.
type Group string

const (
	GroupRead Group = "read"
	GroupEdit Group = "edit"
)

// ToolGroups lists the tools in each group.
var ToolGroups = map[Group][]string{
	GroupRead: {"read_file", "list_files", "search_files"},
	GroupEdit: {"write_to_file", "apply_diff"},
}

// AlwaysAvailable tools are allowed in every mode.
var AlwaysAvailable = []string{"attempt_completion", "switch_mode", "new_task"}

// DefaultMode is the slug a task starts in when none is given.
const DefaultMode = "code"

var ErrUnknownMode = errors.New("unknown mode")

// GroupEntry enables a group, optionally restricted to files matching
// FileRegex. In YAML it is either a bare group name or a mapping.
type GroupEntry struct {
	Group       Group  `json:"group" yaml:"group"`
	FileRegex   string `json:"file_regex,omitempty" yaml:"file_regex,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (g *GroupEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		g.Group = Group(value.Value)
		return nil
	}
	type plain GroupEntry
	return value.Decode((*plain)(g))
}

// Mode is one agent persona.
type Mode struct {
	Slug               string       `json:"slug" yaml:"slug"`
	Name               string       `json:"name" yaml:"name"`
	RoleDefinition     string       `json:"role_definition" yaml:"role_definition"`
	WhenToUse          string       `json:"when_to_use,omitempty" yaml:"when_to_use,omitempty"`
	CustomInstructions string       `json:"custom_instructions,omitempty" yaml:"custom_instructions,omitempty"`
	Groups             []GroupEntry `json:"groups" yaml:"groups"`
}

// Tools returns every tool the mode allows, sorted.
func (m Mode) Tools() []string {
	seen := make(map[string]bool)
	for _, t := range AlwaysAvailable {
		seen[t] = true
	}
	for _, g := range m.Groups {
		for _, t := range ToolGroups[g.Group] {
			seen[t] = true
		}
	}
	tools := make([]string, 0, len(seen))
	for t := range seen {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

func (m Mode) validate() error {
	if m.Slug == "" {
		return errors.New("mode slug is required")
	}
	if !slugPattern.MatchString(m.Slug) {
		return fmt.Errorf("mode %q: slug may only contain lowercase letters, digits and dashes", m.Slug)
	}
	if strings.TrimSpace(m.RoleDefinition) == "" {
		return fmt.Errorf("mode %q: role_definition is required", m.Slug)
	}
	for _, g := range m.Groups {
		if _, ok := ToolGroups[g.Group]; !ok {
			return fmt.Errorf("mode %q: unknown tool group %q", m.Slug, g.Group)
		}
		if g.FileRegex != "" {
			if _, err := regexp.Compile(g.FileRegex); err != nil {
				return fmt.Errorf("mode %q: invalid file_regex for group %s: %w", m.Slug, g.Group, err)
			}
		}
	}
	return nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ToolNotAllowedError reports a tool the active mode does not permit.
type ToolNotAllowedError struct {
	Mode      string
	Tool      string
	Path      string
	FileRegex string
}

func (e *ToolNotAllowedError) Error() string {
	if e.FileRegex != "" {
		return fmt.Sprintf("tool %q in mode %q may only edit files matching %s, not %q", e.Tool, e.Mode, e.FileRegex, e.Path)
	}
	return fmt.Sprintf("tool %q is not available in mode %q", e.Tool, e.Mode)
}

// Builtins returns the built-in modes.
func Builtins() []Mode {
	return []Mode{
		{
			Slug:           "code",
			Name:           "Code",
			RoleDefinition: "You are a highly skilled software engineer with extensive knowledge in many programming languages, frameworks, design patterns, and best practices.",
			WhenToUse:      "Writing, modifying, or refactoring code.",
			Groups:         []GroupEntry{{Group: GroupRead}, {Group: GroupEdit}},
		},
		{
			Slug:           "architect",
			Name:           "Architect",
			RoleDefinition: "You are an experienced technical leader who is inquisitive and an excellent planner. You gather context and write a detailed plan before anything is implemented.",
			WhenToUse:      "Planning and designing before implementation.",
			Groups: []GroupEntry{
				{Group: GroupRead},
				{Group: GroupEdit, FileRegex: `\.md$`, Description: "Markdown files only"},
			},
		},
		{
			Slug:           "ask",
			Name:           "Ask",
			RoleDefinition: "You are a knowledgeable technical assistant focused on answering questions about software and the code in this workspace. You do not modify files.",
			WhenToUse:      "Explanations, documentation, and answers without changes.",
			Groups:         []GroupEntry{{Group: GroupRead}},
		},
		{
			Slug:           "debug",
			Name:           "Debug",
			RoleDefinition: "You are an expert software debugger specializing in systematic problem diagnosis and resolution.",
			WhenToUse:      "Troubleshooting errors and investigating unexpected behavior.",
			Groups:         []GroupEntry{{Group: GroupRead}, {Group: GroupEdit}},
		},
	}
}

// Registry holds the modes available to tasks. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	modes map[string]Mode
	order []string
}

// NewRegistry creates a registry holding the built-in modes.
func NewRegistry() *Registry {
	r := &Registry{modes: make(map[string]Mode)}
	for _, m := range Builtins() {
		r.put(m)
	}
	return r
}

func (r *Registry) put(m Mode) {
	if _, exists := r.modes[m.Slug]; !exists {
		r.order = append(r.order, m.Slug)
	}
	r.modes[m.Slug] = m
}

// Register adds a mode or replaces the one with the same slug.
func (r *Registry) Register(m Mode) error {
	if err := m.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(m)
	return nil
}

// Get returns the mode with the given slug.
func (r *Registry) Get(slug string) (Mode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modes[slug]
	return m, ok
}

// Slugs returns mode slugs in registration order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Modes returns all modes in registration order.
func (r *Registry) Modes() []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Mode, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.modes[slug])
	}
	return out
}

// ToolAllowed checks whether tool may run in mode slug. path is the file
// an edit tool targets and is checked against the group's file_regex.
func (r *Registry) ToolAllowed(slug, tool, path string) error {
	m, ok := r.Get(slug)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, slug)
	}
	for _, t := range AlwaysAvailable {
		if t == tool {
			return nil
		}
	}

	var restricted *GroupEntry
	for i, g := range m.Groups {
		for _, t := range ToolGroups[g.Group] {
			if t != tool {
				continue
			}
			if g.FileRegex == "" {
				return nil
			}
			re, err := regexp.Compile(g.FileRegex)
			if err == nil && (path == "" || re.MatchString(path)) {
				return nil
			}
			restricted = &m.Groups[i]
		}
	}
	if restricted != nil {
		return &ToolNotAllowedError{Mode: slug, Tool: tool, Path: path, FileRegex: restricted.FileRegex}
	}
	return &ToolNotAllowedError{Mode: slug, Tool: tool}
}
