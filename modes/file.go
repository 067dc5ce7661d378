package modes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a custom modes file.
type File struct {
	Modes []Mode `yaml:"modes"`
}

// LoadFile reads custom modes from a YAML file. A mode whose slug matches
// an existing one replaces it; others are added. The registry is unchanged
// when any mode in the file is invalid.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read modes file: %w", err)
	}
	return r.LoadYAML(data)
}

// LoadYAML is LoadFile for in-memory content.
func (r *Registry) LoadYAML(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse modes file: %w", err)
	}
	for _, m := range f.Modes {
		if err := m.validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range f.Modes {
		r.put(m)
	}
	return nil
}
