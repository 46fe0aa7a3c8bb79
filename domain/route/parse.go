package route

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is a YAML document declaring the routes of one service.
type File struct {
	Service string       `yaml:"service"`
	Routes  []Definition `yaml:"routes"`
}

// ParseFile parses route definitions from a YAML file.
func ParseFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses route definitions from YAML bytes and validates each one.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse yaml: %w", err)
	}

	seen := make(map[string]bool, len(f.Routes))
	for i, def := range f.Routes {
		def.Path = Normalize(def.Path)
		f.Routes[i] = def
		if err := def.Validate(); err != nil {
			return File{}, fmt.Errorf("route %d (%s): %w", i, def.Key(), err)
		}
		if seen[def.Key()] {
			return File{}, fmt.Errorf("route %d: duplicate route %s", i, def.Key())
		}
		seen[def.Key()] = true
	}
	return f, nil
}
