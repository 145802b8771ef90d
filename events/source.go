package events

import (
	"encoding/json"
	"fmt"
	"os"
)

// Definition declares one named channel and the kind of payload it carries.
type Definition struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Source supplies channel definitions to Directory.Boot.
type Source interface {
	Definitions() ([]Definition, error)
}

// StaticSource is a fixed list of definitions.
type StaticSource []Definition

// Definitions returns a copy of the list.
func (s StaticSource) Definitions() ([]Definition, error) {
	out := make([]Definition, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads definitions from a JSON file shaped as
// {"channels": [{"name": "...", "kind": "..."}]}.
type FileSource string

// Definitions reads and decodes the file.
func (f FileSource) Definitions() ([]Definition, error) {
	file, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("open channel file: %w", err)
	}
	defer file.Close()

	var doc struct {
		Channels []Definition `json:"channels"`
	}
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode channel file %s: %w", string(f), err)
	}
	return doc.Channels, nil
}

// MultiSource concatenates the definitions of several sources in order.
type MultiSource []Source

// Definitions returns every definition of every source.
func (m MultiSource) Definitions() ([]Definition, error) {
	var out []Definition
	for _, src := range m {
		defs, err := src.Definitions()
		if err != nil {
			return nil, err
		}
		out = append(out, defs...)
	}
	return out, nil
}
