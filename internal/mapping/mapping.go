// Package mapping serves the semantic annotations of result channels.
package mapping

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// SimpartixOutput identifies the mapping that annotates simulation results.
const SimpartixOutput = "SimpartixOutput"

//go:embed mappings.yaml
var mappingsYAML []byte

// Channel annotates one result channel.
type Channel struct {
	URI  string `yaml:"uri" json:"uri"`
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// Mapping annotates the channels of one result type.
type Mapping struct {
	ID          string             `yaml:"-" json:"id"`
	Description string             `yaml:"description" json:"description,omitempty"`
	Channels    map[string]Channel `yaml:"channels" json:"channels"`
}

var (
	loadOnce sync.Once
	mappings map[string]Mapping
	loadErr  error
)

func load() (map[string]Mapping, error) {
	loadOnce.Do(func() {
		mappings, loadErr = parse(mappingsYAML)
	})
	return mappings, loadErr
}

func parse(data []byte) (map[string]Mapping, error) {
	var raw map[string]Mapping
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}
	for id, m := range raw {
		if len(m.Channels) == 0 {
			return nil, fmt.Errorf("mapping %s has no channels", id)
		}
		m.ID = id
		raw[id] = m
	}
	return raw, nil
}

// IDs returns the known mapping identifiers in sorted order.
func IDs() ([]string, error) {
	all, err := load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Get returns the mapping with the given id.
func Get(id string) (Mapping, bool, error) {
	all, err := load()
	if err != nil {
		return Mapping{}, false, err
	}
	m, ok := all[id]
	return m, ok, nil
}
