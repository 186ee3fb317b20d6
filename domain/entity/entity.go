package entity

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Entity is one typed object of the graph together with its metadata.
type Entity struct {
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// NewID returns a new time-sortable identifier. Listing entities by id therefore
// follows creation order.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

var derivedIDSpace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9c54-2f8e1d0a7b31")

// DeriveID returns the identifier a request identified by seed always gets, so
// that a redelivered request addresses the entity its first delivery created.
// With a non-zero at the id keeps the time-sortable layout of NewID, with at as
// its timestamp.
func DeriveID(seed string, at time.Time) string {
	id := uuid.NewSHA1(derivedIDSpace, []byte(seed))
	if at.IsZero() {
		return id.String()
	}
	ms := uint64(at.UnixMilli())
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	id[6] = (id[6] & 0x0f) | 0x70
	return id.String()
}

// Clone returns a copy whose top-level data map can be modified independently.
func (e *Entity) Clone() *Entity {
	clone := *e
	clone.Data = maps.Clone(e.Data)
	return &clone
}

// MergeData returns base with every key of patch applied on top. Keys absent from
// patch keep their previous value. Neither argument is modified.
func MergeData(base, patch map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(patch))
	maps.Copy(merged, base)
	maps.Copy(merged, patch)
	return merged
}

// Project keeps only the listed data fields. A nil or empty projection keeps everything.
func (e *Entity) Project(fields []string) *Entity {
	if len(fields) == 0 {
		return e
	}
	projected := *e
	projected.Data = make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := e.Data[f]; ok {
			projected.Data[f] = v
		}
	}
	return &projected
}
