// Package registry holds the per-entity-type configuration of the graph: unique
// fields, searchable fields, mutual fields with their data processors, prejoin
// chains and tag processors. It is built once at startup and read-only afterwards.
package registry

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/monorist/monorise/domain/entity"
)

var entityTypePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// MutualDataProcessor derives the mutual data of one related id from the full
// ordered id list, the current mutual (nil when it does not exist yet) and the
// prejoin context (nil outside prejoin propagation).
type MutualDataProcessor func(ids []string, entityID string, current *entity.Mutual, prejoinContext map[string]interface{}) map[string]interface{}

// IndexProcessor stores the position of the id in the ordered list.
func IndexProcessor(ids []string, entityID string, _ *entity.Mutual, _ map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"index": slices.Index(ids, entityID)}
}

// MutualField configures one relationship field of an entity type.
type MutualField struct {
	EntityType    string
	DataProcessor MutualDataProcessor
}

// PrejoinItem is one element of the accumulator while walking a prejoin chain.
type PrejoinItem struct {
	EntityType string
	EntityID   string
	Data       map[string]interface{}
	MutualData map[string]interface{}
}

// HopProcessor transforms the accumulated items and context after a hop.
type HopProcessor func(items []PrejoinItem, context map[string]interface{}) ([]PrejoinItem, map[string]interface{})

// Hop is one step of a prejoin chain.
type Hop struct {
	EntityType string
	SkipCache  bool
	Processor  HopProcessor
}

// Prejoin materializes the transitive closure of a path of mutuals into a mutual
// field of the root entity type.
type Prejoin struct {
	MutualField      string
	TargetEntityType string
	Path             []Hop
}

// TagProcessor computes the tags of an entity for one tag name.
type TagProcessor func(e *entity.Entity) ([]entity.Tag, error)

// TagConfig binds a tag name to its processor.
type TagConfig struct {
	Name      string
	Processor TagProcessor
}

// EntityConfig is the configuration record of one entity type.
type EntityConfig struct {
	Name             string
	DisplayName      string
	UniqueFields     []string
	SearchableFields []string
	MutualFields     map[string]MutualField
	Prejoins         []Prejoin
	Tags             []TagConfig
	// Validate checks a create or update payload. It may be nil.
	Validate func(data map[string]interface{}, partial bool) error
}

// HasMutualField reports whether name is a mutual field of the type.
func (c *EntityConfig) HasMutualField(name string) bool {
	_, ok := c.MutualFields[name]
	return ok
}

// Registry maps entity type names to their configuration.
type Registry struct {
	configs map[string]*EntityConfig
	names   []string
}

// New validates the configurations and builds a registry.
func New(configs ...EntityConfig) (*Registry, error) {
	r := &Registry{configs: make(map[string]*EntityConfig, len(configs))}

	for i := range configs {
		cfg := configs[i]
		if !entityTypePattern.MatchString(cfg.Name) {
			return nil, fmt.Errorf("entity type %q: name must match %s", cfg.Name, entityTypePattern)
		}
		if _, dup := r.configs[cfg.Name]; dup {
			return nil, fmt.Errorf("entity type %q: defined twice", cfg.Name)
		}
		if cfg.DisplayName == "" {
			cfg.DisplayName = cfg.Name
		}
		if cfg.MutualFields == nil {
			cfg.MutualFields = map[string]MutualField{}
		}
		for name, field := range cfg.MutualFields {
			if field.DataProcessor == nil {
				field.DataProcessor = IndexProcessor
				cfg.MutualFields[name] = field
			}
		}
		r.configs[cfg.Name] = &cfg
		r.names = append(r.names, cfg.Name)
	}
	sort.Strings(r.names)

	for _, name := range r.names {
		if err := r.validate(r.configs[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNew is New for static configurations known to be valid.
func MustNew(configs ...EntityConfig) *Registry {
	r, err := New(configs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) validate(cfg *EntityConfig) error {
	for name, field := range cfg.MutualFields {
		if _, ok := r.configs[field.EntityType]; !ok {
			return fmt.Errorf("entity type %q: mutual field %q references unknown type %q", cfg.Name, name, field.EntityType)
		}
	}

	for _, tag := range cfg.Tags {
		if tag.Name == "" || tag.Processor == nil {
			return fmt.Errorf("entity type %q: tags need a name and a processor", cfg.Name)
		}
		if strings.Contains(tag.Name, "#") {
			return fmt.Errorf("entity type %q: tag name %q must not contain '#'", cfg.Name, tag.Name)
		}
	}

	for _, prejoin := range cfg.Prejoins {
		if err := r.validatePrejoin(cfg, prejoin); err != nil {
			return fmt.Errorf("entity type %q: prejoin %q: %w", cfg.Name, prejoin.MutualField, err)
		}
	}
	return nil
}

func (r *Registry) validatePrejoin(cfg *EntityConfig, p Prejoin) error {
	field, ok := cfg.MutualFields[p.MutualField]
	if !ok {
		return fmt.Errorf("mutual field is not defined")
	}
	if field.EntityType != p.TargetEntityType {
		return fmt.Errorf("target %q does not match mutual field type %q", p.TargetEntityType, field.EntityType)
	}
	if len(p.Path) < 2 {
		return fmt.Errorf("path needs at least two hops")
	}
	if p.Path[0].EntityType != cfg.Name {
		return fmt.Errorf("path must start at %q", cfg.Name)
	}
	if last := p.Path[len(p.Path)-1].EntityType; last != p.TargetEntityType {
		return fmt.Errorf("path must end at %q, ends at %q", p.TargetEntityType, last)
	}

	seen := make(map[string]bool, len(p.Path))
	for _, hop := range p.Path {
		if _, ok := r.configs[hop.EntityType]; !ok {
			return fmt.Errorf("unknown entity type %q", hop.EntityType)
		}
		if seen[hop.EntityType] {
			return fmt.Errorf("entity type %q appears twice, paths must be acyclic", hop.EntityType)
		}
		seen[hop.EntityType] = true
	}
	return nil
}

// Get returns the configuration of an entity type.
func (r *Registry) Get(entityType string) (*EntityConfig, bool) {
	cfg, ok := r.configs[entityType]
	return cfg, ok
}

// Has reports whether the entity type is configured.
func (r *Registry) Has(entityType string) bool {
	_, ok := r.configs[entityType]
	return ok
}

// Names returns the configured entity types in lexical order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// PrejoinRef points at one prejoin of a root entity type.
type PrejoinRef struct {
	RootType string
	Prejoin  Prejoin
	// HopIndex is the position of the hop whose entity type is the "by" side of the
	// change that matched.
	HopIndex int
}

// PrejoinsAffectedBy returns every prejoin whose path contains the consecutive hops
// (a, b) in either direction. The returned HopIndex points at the earlier hop.
func (r *Registry) PrejoinsAffectedBy(a, b string) []PrejoinRef {
	var refs []PrejoinRef
	for _, name := range r.names {
		for _, p := range r.configs[name].Prejoins {
			for i := 0; i+1 < len(p.Path); i++ {
				from, to := p.Path[i].EntityType, p.Path[i+1].EntityType
				if (from == a && to == b) || (from == b && to == a) {
					refs = append(refs, PrejoinRef{RootType: name, Prejoin: p, HopIndex: i})
					break
				}
			}
		}
	}
	return refs
}

// ChainAllowed reports whether a prejoin of byType walks byType -> via -> target.
func (r *Registry) ChainAllowed(byType, via, target string) bool {
	cfg, ok := r.configs[byType]
	if !ok {
		return false
	}
	for _, p := range cfg.Prejoins {
		for i := 0; i+2 < len(p.Path); i++ {
			if p.Path[i].EntityType == byType && p.Path[i+1].EntityType == via && p.Path[i+2].EntityType == target {
				return true
			}
		}
	}
	return false
}
