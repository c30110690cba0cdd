package schema

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/propstage/internal/record"
)

// fileDataset is the YAML shape of a dataset override.
type fileDataset struct {
	Key         string            `yaml:"key"`
	Extends     string            `yaml:"extends"`
	Label       string            `yaml:"label"`
	Schema      string            `yaml:"schema"`
	Table       string            `yaml:"table"`
	UniqueKey   string            `yaml:"unique_key"`
	Types       map[string]string `yaml:"types"`
	Renames     map[string]string `yaml:"renames"`
	Normalizers map[string]string `yaml:"normalizers"`
}

type datasetFile struct {
	Datasets []fileDataset `yaml:"datasets"`
}

// LoadFile reads dataset definitions from a YAML file and registers them,
// replacing built-ins with the same key. An entry with "extends" starts from
// the named dataset and overlays its own fields; map fields are merged.
func LoadFile(path string) ([]Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and registers dataset definitions from YAML bytes.
func Parse(data []byte) ([]Dataset, error) {
	var f datasetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse dataset file: %w", err)
	}

	out := make([]Dataset, 0, len(f.Datasets))
	for i, fd := range f.Datasets {
		d, err := fd.build()
		if err != nil {
			return nil, fmt.Errorf("dataset %d: %w", i, err)
		}
		if err := Put(d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (fd fileDataset) build() (Dataset, error) {
	var d Dataset
	if fd.Extends != "" {
		base, ok := Get(fd.Extends)
		if !ok {
			return Dataset{}, fmt.Errorf("extends unknown dataset %q", fd.Extends)
		}
		d = base
		d.Types = maps.Clone(base.Types)
		d.Renames = maps.Clone(base.Renames)
		d.Normalizers = maps.Clone(base.Normalizers)
	}

	d.Key = fd.Key
	if fd.Label != "" {
		d.Label = fd.Label
	}
	if fd.Schema != "" {
		d.Schema = fd.Schema
	}
	if fd.Table != "" {
		d.Table = fd.Table
	}
	if fd.UniqueKey != "" {
		d.UniqueKey = fd.UniqueKey
	}

	if len(fd.Types) > 0 && d.Types == nil {
		d.Types = make(map[string]record.SemanticType, len(fd.Types))
	}
	for col, name := range fd.Types {
		t, err := record.ParseSemanticType(name)
		if err != nil {
			return Dataset{}, fmt.Errorf("column %s: %w", col, err)
		}
		d.Types[col] = t
	}

	if len(fd.Renames) > 0 && d.Renames == nil {
		d.Renames = make(map[string]string, len(fd.Renames))
	}
	maps.Copy(d.Renames, fd.Renames)

	if len(fd.Normalizers) > 0 && d.Normalizers == nil {
		d.Normalizers = make(map[string]string, len(fd.Normalizers))
	}
	maps.Copy(d.Normalizers, fd.Normalizers)

	return d, nil
}
