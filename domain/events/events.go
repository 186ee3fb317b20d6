package events

import (
	"time"
)

// Event names. They are used verbatim as EventBridge detail-types.
const (
	CreateEntity            = "CREATE_ENTITY"
	EntityCreated           = "ENTITY_CREATED"
	EntityUpdated           = "ENTITY_UPDATED"
	EntityDeleted           = "ENTITY_DELETED"
	EntityMutualToCreate    = "ENTITY_MUTUAL_TO_CREATE"
	EntityMutualToUpdate    = "ENTITY_MUTUAL_TO_UPDATE"
	EntityMutualProcessed   = "ENTITY_MUTUAL_PROCESSED"
	PrejoinRelationshipSync = "PREJOIN_RELATIONSHIP_SYNC"
)

// SourceCore is the EventBridge source of every event published by the core.
const SourceCore = "monorise.core"

// DomainEvent is the base interface for all domain events
type DomainEvent interface {
	GetEventType() string
	GetAggregateID() string
	GetTimestamp() time.Time
}

func aggregateID(entityType, entityID string) string {
	return entityType + "#" + entityID
}

// EntityRef identifies an entity inside an event payload.
type EntityRef struct {
	EntityType string                 `json:"entityType" validate:"required"`
	EntityID   string                 `json:"entityId" validate:"required"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// CreateEntityCommand asks the create-entity processor to create an entity.
type CreateEntityCommand struct {
	EntityType  string                 `json:"entityType" validate:"required"`
	EntityID    string                 `json:"entityId,omitempty"`
	Payload     map[string]interface{} `json:"payload" validate:"required"`
	AccountID   string                 `json:"accountId,omitempty"`
	PublishedAt time.Time              `json:"publishedAt"`
}

func (e CreateEntityCommand) GetEventType() string { return CreateEntity }
func (e CreateEntityCommand) GetAggregateID() string {
	return aggregateID(e.EntityType, e.EntityID)
}
func (e CreateEntityCommand) GetTimestamp() time.Time { return e.PublishedAt }

// EntityCreatedEvent is published after an entity has been stored.
type EntityCreatedEvent struct {
	EntityType         string                 `json:"entityType" validate:"required"`
	EntityID           string                 `json:"entityId" validate:"required"`
	Data               map[string]interface{} `json:"data"`
	CreatedByAccountID string                 `json:"createdByAccountId,omitempty"`
	PublishedAt        time.Time              `json:"publishedAt"`
}

func (e EntityCreatedEvent) GetEventType() string { return EntityCreated }
func (e EntityCreatedEvent) GetAggregateID() string {
	return aggregateID(e.EntityType, e.EntityID)
}
func (e EntityCreatedEvent) GetTimestamp() time.Time { return e.PublishedAt }

// EntityUpdatedEvent is published after an entity has been updated or upserted.
type EntityUpdatedEvent struct {
	EntityType         string                 `json:"entityType" validate:"required"`
	EntityID           string                 `json:"entityId" validate:"required"`
	Data               map[string]interface{} `json:"data"`
	UpdatedByAccountID string                 `json:"updatedByAccountId,omitempty"`
	PublishedAt        time.Time              `json:"publishedAt"`
}

func (e EntityUpdatedEvent) GetEventType() string { return EntityUpdated }
func (e EntityUpdatedEvent) GetAggregateID() string {
	return aggregateID(e.EntityType, e.EntityID)
}
func (e EntityUpdatedEvent) GetTimestamp() time.Time { return e.PublishedAt }

// EntityDeletedEvent is published after an entity has been removed.
type EntityDeletedEvent struct {
	EntityType         string    `json:"entityType" validate:"required"`
	EntityID           string    `json:"entityId" validate:"required"`
	DeletedByAccountID string    `json:"deletedByAccountId,omitempty"`
	PublishedAt        time.Time `json:"publishedAt"`
}

func (e EntityDeletedEvent) GetEventType() string { return EntityDeleted }
func (e EntityDeletedEvent) GetAggregateID() string {
	return aggregateID(e.EntityType, e.EntityID)
}
func (e EntityDeletedEvent) GetTimestamp() time.Time { return e.PublishedAt }

// EntityMutualEvent carries the ordered id lists of the mutual fields of one entity.
// It is published as ENTITY_MUTUAL_TO_CREATE or ENTITY_MUTUAL_TO_UPDATE.
type EntityMutualEvent struct {
	EventType      string                 `json:"-"`
	Entity         EntityRef              `json:"entity" validate:"required"`
	MutualPayload  map[string][]string    `json:"mutualPayload" validate:"required"`
	PrejoinContext map[string]interface{} `json:"prejoinContext,omitempty"`
	PublishedAt    time.Time              `json:"publishedAt"`
}

func (e EntityMutualEvent) GetEventType() string {
	if e.EventType == "" {
		return EntityMutualToCreate
	}
	return e.EventType
}
func (e EntityMutualEvent) GetAggregateID() string {
	return aggregateID(e.Entity.EntityType, e.Entity.EntityID)
}
func (e EntityMutualEvent) GetTimestamp() time.Time { return e.PublishedAt }

// EntityMutualProcessedEvent is published once the mutuals of one field have been
// written. It triggers prejoin propagation.
type EntityMutualProcessedEvent struct {
	ByEntityType string    `json:"byEntityType" validate:"required"`
	ByEntityID   string    `json:"byEntityId" validate:"required"`
	EntityType   string    `json:"entityType" validate:"required"`
	Field        string    `json:"field,omitempty"`
	MutualIDs    []string  `json:"mutualIds"`
	// EntityIDs lists every related entity whose mutual was written or removed.
	EntityIDs   []string  `json:"entityIds,omitempty"`
	PublishedAt  time.Time `json:"publishedAt"`
}

func (e EntityMutualProcessedEvent) GetEventType() string { return EntityMutualProcessed }
func (e EntityMutualProcessedEvent) GetAggregateID() string {
	return aggregateID(e.ByEntityType, e.ByEntityID)
}
func (e EntityMutualProcessedEvent) GetTimestamp() time.Time { return e.PublishedAt }

// PrejoinRelationshipSyncEvent asks the tree processor to recompute the prejoins of
// one root entity. An empty MutualField recomputes all of them.
type PrejoinRelationshipSyncEvent struct {
	EntityType  string    `json:"entityType" validate:"required"`
	EntityID    string    `json:"entityId" validate:"required"`
	MutualField string    `json:"mutualField,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (e PrejoinRelationshipSyncEvent) GetEventType() string { return PrejoinRelationshipSync }
func (e PrejoinRelationshipSyncEvent) GetAggregateID() string {
	return aggregateID(e.EntityType, e.EntityID)
}
func (e PrejoinRelationshipSyncEvent) GetTimestamp() time.Time { return e.PublishedAt }
