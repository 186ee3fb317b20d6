package entity

import (
	"maps"
	"time"
)

// Mutual is one direction of a relationship between two entities. Every mutual is
// stored twice: once under each entity, with by/target fields swapped.
type Mutual struct {
	ByEntityType    string                 `json:"byEntityType"`
	ByEntityID      string                 `json:"byEntityId"`
	EntityType      string                 `json:"entityType"`
	EntityID        string                 `json:"entityId"`
	MutualID        string                 `json:"mutualId"`
	Data            map[string]interface{} `json:"data"`
	MutualData      map[string]interface{} `json:"mutualData"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	MutualUpdatedAt time.Time              `json:"mutualUpdatedAt"`
}

// Mirror returns the reverse direction of m. byData is the data of m's by-entity,
// which the mirrored item embeds.
func (m *Mutual) Mirror(byData map[string]interface{}) *Mutual {
	return &Mutual{
		ByEntityType:    m.EntityType,
		ByEntityID:      m.EntityID,
		EntityType:      m.ByEntityType,
		EntityID:        m.ByEntityID,
		MutualID:        m.MutualID,
		Data:            byData,
		MutualData:      maps.Clone(m.MutualData),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		MutualUpdatedAt: m.MutualUpdatedAt,
	}
}

// Target returns the entity the mutual points at, as embedded in the mutual.
func (m *Mutual) Target() *Entity {
	return &Entity{
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Data:       m.Data,
		UpdatedAt:  m.UpdatedAt,
	}
}
