// internal/locators/registry.go
package locators

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// RegistryVersion is the only registry format version understood.
const RegistryVersion = 1

// Registry is the versioned map of known selectors, keyed by source then key.
//
//	version: 1
//	sources:
//	  amazonParsers:
//	    email: "input#ap_email"
type Registry struct {
	Version int                          `yaml:"version"`
	Sources map[string]map[string]string `yaml:"sources"`
}

// ParseRegistry decodes and validates a registry document.
func ParseRegistry(r io.Reader) (*Registry, error) {
	var reg Registry
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&reg); err != nil {
		if err == io.EOF {
			return &Registry{Version: RegistryVersion}, nil
		}
		return nil, fmt.Errorf("failed to decode locator registry: %w", err)
	}
	if reg.Version != RegistryVersion {
		return nil, fmt.Errorf("unsupported locator registry version %d (want %d)", reg.Version, RegistryVersion)
	}
	for source, keys := range reg.Sources {
		for key, sel := range keys {
			if sel == "" {
				return nil, fmt.Errorf("locator registry: empty selector for %s/%s", source, key)
			}
		}
	}
	return &reg, nil
}

// LoadRegistry reads a registry file. A leading ~ is expanded.
func LoadRegistry(path string) (*Registry, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand registry path %q: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open locator registry: %w", err)
	}
	defer f.Close()
	return ParseRegistry(f)
}

// Lookup returns the registered selector for (source, key).
func (r *Registry) Lookup(source, key string) (string, bool) {
	if r == nil {
		return "", false
	}
	sel, ok := r.Sources[source][key]
	return sel, ok
}

// Keys lists the registered keys of a source in sorted order.
func (r *Registry) Keys(source string) []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.Sources[source]))
	for k := range r.Sources[source] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
