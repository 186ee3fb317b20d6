package ports

import (
	"context"
	"errors"
	"time"

	"github.com/monorist/monorise/domain/entity"
)

// ErrStaleWrite is returned by conditional mutual writes that lost to a newer write.
// Callers treat it as a successful no-op.
var ErrStaleWrite = errors.New("stale write skipped")

// CreateEntityOptions tunes CreateEntity.
type CreateEntityOptions struct {
	// EntityID pins the id instead of generating one.
	EntityID string
	// CreatedAt overrides the creation timestamp.
	CreatedAt *time.Time
	// ExpiresIn sets a TTL on the metadata item.
	ExpiresIn time.Duration
}

// ListOptions tunes ListEntities.
type ListOptions struct {
	Limit int32
	// Start and End bound the entity id range, both inclusive.
	Start string
	End   string
	// LastKey is the opaque cursor returned by the previous page.
	LastKey    string
	Projection []string
}

// EntityList is one page of entities.
type EntityList struct {
	Items      []*entity.Entity `json:"entities"`
	TotalCount int              `json:"totalCount"`
	LastKey    string           `json:"lastKey,omitempty"`
}

// EntityQueryResult is the outcome of a search over the searchable fields of a type.
type EntityQueryResult struct {
	Items         []*entity.Entity `json:"entities"`
	TotalCount    int              `json:"totalCount"`
	FilteredCount int              `json:"filteredCount"`
}

// EntityRepository persists entity metadata and uniqueness items.
type EntityRepository interface {
	CreateEntity(ctx context.Context, entityType string, data map[string]interface{}, opts CreateEntityOptions) (*entity.Entity, error)
	GetEntity(ctx context.Context, entityType, entityID string) (*entity.Entity, error)
	GetEntityByUniqueField(ctx context.Context, entityType, field, value string) (*entity.Entity, error)
	// GetFieldAvailability fails with an already-exists error when value is taken.
	GetFieldAvailability(ctx context.Context, entityType, field, value string) error
	UpdateEntity(ctx context.Context, entityType, entityID string, data map[string]interface{}) (*entity.Entity, error)
	UpsertEntity(ctx context.Context, entityType, entityID string, data map[string]interface{}) (*entity.Entity, error)
	DeleteEntity(ctx context.Context, entityType, entityID string) (*entity.Entity, error)
	ListEntities(ctx context.Context, entityType string, opts ListOptions) (*EntityList, error)
	QueryEntities(ctx context.Context, entityType, query string) (*EntityQueryResult, error)
}

// MutualWriteOptions tunes mutual writes.
type MutualWriteOptions struct {
	// Since makes the write conditional: it is applied only when the stored
	// mutualUpdatedAt is older, otherwise ErrStaleWrite is returned.
	Since *time.Time
}

// MutualListOptions tunes ListEntitiesByEntity.
type MutualListOptions struct {
	Limit   int32
	LastKey string
	// ChainQuery names an intermediate entity type. The result is every entity of
	// the requested type reachable through it, without pagination.
	ChainQuery string
	Projection []string
}

// MutualList is one page of mutuals of an entity.
type MutualList struct {
	Items   []*entity.Mutual `json:"entities"`
	LastKey string           `json:"lastKey,omitempty"`
}

// MutualRepository persists mutual relationships as mirrored item pairs.
type MutualRepository interface {
	CreateMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}, opts MutualWriteOptions) (*entity.Mutual, error)
	GetMutual(ctx context.Context, byType, byID, entityType, entityID string) (*entity.Mutual, error)
	UpdateMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}, opts MutualWriteOptions) (*entity.Mutual, error)
	DeleteMutual(ctx context.Context, byType, byID, entityType, entityID string) (*entity.Mutual, error)
	ListEntitiesByEntity(ctx context.Context, byType, byID, entityType string, opts MutualListOptions) (*MutualList, error)
	// ListAllEntitiesByEntity follows every page of ListEntitiesByEntity.
	ListAllEntitiesByEntity(ctx context.Context, byType, byID, entityType string) ([]*entity.Mutual, error)
	// FieldVersion returns the version of the last sync applied to a mutual field
	// of byEntity, or the zero time when the field was never synced.
	FieldVersion(ctx context.Context, byType, byID, field string) (time.Time, error)
	// ClaimFieldVersion records version as the latest sync of a mutual field. It
	// returns ErrStaleWrite when a newer version is already recorded; claiming the
	// recorded version again succeeds.
	ClaimFieldVersion(ctx context.Context, byType, byID, field string, version time.Time) error
}

// TagListOptions tunes ListTaggedEntities.
type TagListOptions struct {
	Group string
	// Start and End bound the sort value, both inclusive.
	Start   string
	End     string
	Limit   int32
	LastKey string
}

// TaggedEntityList is one page of a tag listing.
type TaggedEntityList struct {
	Items   []*entity.TaggedEntity `json:"entities"`
	LastKey string                 `json:"lastKey,omitempty"`
}

// TagMarker records one tag value stored for an entity.
type TagMarker struct {
	TagName string
	entity.Tag
}

// TagRepository persists tag listings and the per-entity markers that reconcile them.
type TagRepository interface {
	ListTaggedEntities(ctx context.Context, entityType, tagName string, opts TagListOptions) (*TaggedEntityList, error)
	ListEntityTags(ctx context.Context, entityType, entityID, tagName string) ([]TagMarker, error)
	PutTag(ctx context.Context, e *entity.Entity, tagName string, tag entity.Tag) error
	DeleteTag(ctx context.Context, entityType, entityID, tagName string, tag entity.Tag) error
}

// ReplicaRepository rewrites the copies of an entity or a mutual embedded in
// other items.
type ReplicaRepository interface {
	// ReplicateEntity refreshes every item embedding e that is older than e.
	// It returns the number of items rewritten.
	ReplicateEntity(ctx context.Context, e *entity.Entity) (int, error)
	// ReplicateMutual copies the mutual data of m onto its mirrored item.
	ReplicateMutual(ctx context.Context, m *entity.Mutual) (int, error)
}
