// Package schema holds dataset definitions: the staging table a dataset
// loads into, its column type map, header renames, per-column value
// normalizers and, for keyed datasets, the business key.
//
// Built-in datasets register themselves at init. LoadFile can add or
// override definitions from YAML.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/record"
)

// Dataset describes one ingestible dataset.
type Dataset struct {
	Key       string // Unique identifier: "prop_extract"
	Label     string // Display name
	Schema    string // Target schema: "stg"
	Table     string // Target table: "prop_extract"
	UniqueKey string // Business key column; empty when the table has none

	Types       map[string]record.SemanticType // canonical column -> type; unlisted columns are text
	Renames     map[string]string              // canonical or raw header -> final name
	Normalizers map[string]string              // canonical column -> value normalizer name
}

// QualifiedTable returns "schema.table".
func (d Dataset) QualifiedTable() string {
	return d.Schema + "." + d.Table
}

// ValueFuncs resolves the dataset's named normalizers.
func (d Dataset) ValueFuncs() (map[string]normalize.ValueFunc, error) {
	if len(d.Normalizers) == 0 {
		return nil, nil
	}
	out := make(map[string]normalize.ValueFunc, len(d.Normalizers))
	for col, name := range d.Normalizers {
		fn, ok := ValueFunc(name)
		if !ok {
			return nil, fmt.Errorf("dataset %s: unknown normalizer %q for column %s", d.Key, name, col)
		}
		out[col] = fn
	}
	return out, nil
}

// Validate checks that a definition is loadable.
func (d Dataset) Validate() error {
	switch {
	case d.Key == "":
		return fmt.Errorf("dataset key is required")
	case d.Schema == "" || d.Table == "":
		return fmt.Errorf("dataset %s: schema and table are required", d.Key)
	}
	if _, err := d.ValueFuncs(); err != nil {
		return err
	}
	return nil
}

var (
	registry   = make(map[string]Dataset)
	registryMu sync.RWMutex
)

// Register adds a dataset definition to the registry.
// Panics if a dataset with the same key is already registered.
func Register(d Dataset) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[d.Key]; exists {
		panic(fmt.Sprintf("dataset already registered: %s", d.Key))
	}
	registry[d.Key] = d
}

// Put adds or replaces a dataset definition after validating it.
func Put(d Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Key] = d
	return nil
}

// Get returns a dataset definition by key.
func Get(key string) (Dataset, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[key]
	return d, ok
}

// All returns all registered datasets sorted by key.
func All() []Dataset {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Dataset, 0, len(registry))
	for _, d := range registry {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// Clear removes all registered datasets.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Dataset)
}
