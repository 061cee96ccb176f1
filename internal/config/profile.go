package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Profile describes a target VM shape for sweeps. The thread and task lists
// are labels for the service under test, carried through to results; only
// the concurrency levels change what the engine itself does.
type Profile struct {
	Name               string  `json:"name,omitempty"`
	AzureSKU           string  `json:"azure_sku"`
	VCPUs              int     `json:"vcpus"`
	MemoryGB           float64 `json:"memory_gb"`
	ThreadCounts       []int   `json:"thread_counts"`
	MaxConcurrentTasks []int   `json:"max_concurrent_tasks"`
}

const profileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["azure_sku", "vcpus", "memory_gb", "thread_counts", "max_concurrent_tasks"],
  "properties": {
    "name": {"type": "string"},
    "azure_sku": {"type": "string", "minLength": 1},
    "vcpus": {"type": "integer", "minimum": 1},
    "memory_gb": {"type": "number", "exclusiveMinimum": 0},
    "thread_counts": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "integer", "minimum": 1}
    },
    "max_concurrent_tasks": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "integer", "minimum": 1}
    }
  },
  "additionalProperties": true
}`

// LoadProfile reads and validates one VM profile JSON file. The profile name
// falls back to the file name without extension.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile %s: %w", path, err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("config: profile %s: %w", path, err)
	}
	if profile.Name == "" {
		base := filepath.Base(path)
		profile.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return profile, nil
}

// ParseProfile validates raw profile JSON against the embedded schema and
// decodes it.
func ParseProfile(data []byte) (*Profile, error) {
	schemaLoader := gojsonschema.NewStringLoader(profileSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errors := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			errors = append(errors, verr.String())
		}
		return nil, fmt.Errorf("validation failed: %s", strings.Join(errors, "; "))
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &profile, nil
}

// LoadProfileDir loads every *.json profile in a directory, sorted by name.
func LoadProfileDir(dir string) ([]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read profile dir %s: %w", dir, err)
	}

	var profiles []*Profile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		profile, err := LoadProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}
