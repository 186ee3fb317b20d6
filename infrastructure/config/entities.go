package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/infrastructure/rules"
)

// EntityFile is the layout of the entity definition file
type EntityFile struct {
	Entities []EntityDefinition `yaml:"entities"`
}

// EntityDefinition describes one entity type
type EntityDefinition struct {
	Name             string                           `yaml:"name"`
	DisplayName      string                           `yaml:"displayName"`
	UniqueFields     []string                         `yaml:"uniqueFields"`
	SearchableFields []string                         `yaml:"searchableFields"`
	MutualFields     map[string]MutualFieldDefinition `yaml:"mutualFields"`
	Prejoins         []PrejoinDefinition              `yaml:"prejoins"`
	Tags             []TagDefinition                  `yaml:"tags"`
	Validation       []rules.ValidationRule           `yaml:"validation"`
}

// MutualFieldDefinition names the related type and, optionally, a registered
// mutual data processor
type MutualFieldDefinition struct {
	EntityType string `yaml:"entityType"`
	Processor  string `yaml:"processor"`
}

// PrejoinDefinition describes a prejoin chain
type PrejoinDefinition struct {
	MutualField      string          `yaml:"mutualField"`
	TargetEntityType string          `yaml:"targetEntityType"`
	Path             []HopDefinition `yaml:"path"`
}

// HopDefinition is one step of a prejoin chain
type HopDefinition struct {
	EntityType string `yaml:"entityType"`
	SkipCache  bool   `yaml:"skipCache"`
	Processor  string `yaml:"processor"`
}

// TagDefinition is either a CEL rule or the name of a registered processor
type TagDefinition struct {
	rules.TagRule `yaml:",inline"`
	Processor     string `yaml:"processor"`
}

// Processors holds the Go functions an entity definition file may refer to by name
type Processors struct {
	Mutual map[string]registry.MutualDataProcessor
	Hop    map[string]registry.HopProcessor
	Tag    map[string]registry.TagProcessor
}

// LoadRegistry reads the entity definition file and builds the registry
func LoadRegistry(path string, procs Processors) (*registry.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity definitions: %w", err)
	}
	configs, err := ParseEntityConfigs(data, procs)
	if err != nil {
		return nil, err
	}
	return registry.New(configs...)
}

// ParseEntityConfigs decodes entity definitions and resolves processor names and
// CEL rules
func ParseEntityConfigs(data []byte, procs Processors) ([]registry.EntityConfig, error) {
	var file EntityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse entity definitions: %w", err)
	}

	compiler, err := rules.NewCompiler()
	if err != nil {
		return nil, err
	}

	configs := make([]registry.EntityConfig, 0, len(file.Entities))
	for _, def := range file.Entities {
		cfg, err := def.toConfig(compiler, procs)
		if err != nil {
			return nil, fmt.Errorf("entity type %q: %w", def.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (d EntityDefinition) toConfig(compiler *rules.Compiler, procs Processors) (registry.EntityConfig, error) {
	cfg := registry.EntityConfig{
		Name:             d.Name,
		DisplayName:      d.DisplayName,
		UniqueFields:     d.UniqueFields,
		SearchableFields: d.SearchableFields,
		MutualFields:     make(map[string]registry.MutualField, len(d.MutualFields)),
	}

	for name, field := range d.MutualFields {
		mf := registry.MutualField{EntityType: field.EntityType}
		if field.Processor != "" {
			proc, ok := procs.Mutual[field.Processor]
			if !ok {
				return cfg, fmt.Errorf("mutual field %q: unknown processor %q", name, field.Processor)
			}
			mf.DataProcessor = proc
		}
		cfg.MutualFields[name] = mf
	}

	for _, p := range d.Prejoins {
		prejoin := registry.Prejoin{MutualField: p.MutualField, TargetEntityType: p.TargetEntityType}
		for _, h := range p.Path {
			hop := registry.Hop{EntityType: h.EntityType, SkipCache: h.SkipCache}
			if h.Processor != "" {
				proc, ok := procs.Hop[h.Processor]
				if !ok {
					return cfg, fmt.Errorf("prejoin %q: unknown hop processor %q", p.MutualField, h.Processor)
				}
				hop.Processor = proc
			}
			prejoin.Path = append(prejoin.Path, hop)
		}
		cfg.Prejoins = append(cfg.Prejoins, prejoin)
	}

	for _, t := range d.Tags {
		tag := registry.TagConfig{Name: t.Name}
		switch {
		case t.Processor != "" && t.When != "":
			return cfg, fmt.Errorf("tag %q: processor and when are exclusive", t.Name)
		case t.Processor != "":
			proc, ok := procs.Tag[t.Processor]
			if !ok {
				return cfg, fmt.Errorf("tag %q: unknown processor %q", t.Name, t.Processor)
			}
			tag.Processor = proc
		default:
			proc, err := compiler.TagProcessor(t.TagRule)
			if err != nil {
				return cfg, err
			}
			tag.Processor = proc
		}
		cfg.Tags = append(cfg.Tags, tag)
	}

	if len(d.Validation) > 0 {
		validate, err := compiler.Validator(d.Validation)
		if err != nil {
			return cfg, fmt.Errorf("validation: %w", err)
		}
		cfg.Validate = validate
	}

	return cfg, nil
}
