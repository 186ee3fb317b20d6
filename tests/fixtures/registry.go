// Package fixtures provides entity configurations and tables shared by tests.
package fixtures

import (
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/infrastructure/persistence/memory"
)

// Index names of the test table.
const (
	EntityReplicationIndex = "entity-replication"
	MutualReplicationIndex = "mutual-replication"
)

// NewTable returns an empty in-memory table with both replication indexes.
func NewTable() *memory.Table {
	return memory.NewTable(map[string]memory.IndexSpec{
		EntityReplicationIndex: {PartitionAttr: "R1PK", SortAttr: "R1SK"},
		MutualReplicationIndex: {PartitionAttr: "R2PK", SortAttr: "R2SK"},
	})
}

// PublishedTag tags videos with status "published", grouped by category and
// sorted by publishedAt.
func PublishedTag(e *entity.Entity) ([]entity.Tag, error) {
	if e.Data["status"] != "published" {
		return nil, nil
	}
	group, _ := e.Data["category"].(string)
	sortValue, _ := e.Data["publishedAt"].(string)
	return []entity.Tag{{Group: group, SortValue: sortValue}}, nil
}

// Configs returns the configuration of a small course catalog: courses contain
// modules, modules contain chapters, and the chapters of a course are prejoined.
func Configs() []registry.EntityConfig {
	return []registry.EntityConfig{
		{
			Name:             "learner",
			UniqueFields:     []string{"email"},
			SearchableFields: []string{"name", "email"},
			MutualFields: map[string]registry.MutualField{
				"organizations": {EntityType: "organization"},
			},
		},
		{
			Name:             "organization",
			SearchableFields: []string{"name"},
			MutualFields: map[string]registry.MutualField{
				"learners": {EntityType: "learner"},
			},
		},
		{
			Name:             "course",
			SearchableFields: []string{"title"},
			MutualFields: map[string]registry.MutualField{
				"modules":  {EntityType: "module"},
				"chapters": {EntityType: "chapter"},
			},
			Prejoins: []registry.Prejoin{{
				MutualField:      "chapters",
				TargetEntityType: "chapter",
				Path: []registry.Hop{
					{EntityType: "course"},
					{EntityType: "module"},
					{EntityType: "chapter"},
				},
			}},
		},
		{
			Name:             "module",
			SearchableFields: []string{"title"},
			MutualFields: map[string]registry.MutualField{
				"courses":  {EntityType: "course"},
				"chapters": {EntityType: "chapter"},
			},
		},
		{
			Name:             "chapter",
			SearchableFields: []string{"title"},
			MutualFields: map[string]registry.MutualField{
				"modules": {EntityType: "module"},
				"videos":  {EntityType: "video"},
			},
		},
		{
			Name:             "video",
			SearchableFields: []string{"title"},
			MutualFields: map[string]registry.MutualField{
				"chapters": {EntityType: "chapter"},
			},
			Tags: []registry.TagConfig{{Name: "published", Processor: PublishedTag}},
		},
	}
}

// Registry returns the registry built from Configs.
func Registry() *registry.Registry {
	return registry.MustNew(Configs()...)
}
