package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/domain/registry"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// CreateOptions tunes EntityService.CreateEntity.
type CreateOptions struct {
	EntityID  string
	AccountID string
	CreatedAt *time.Time
	ExpiresIn time.Duration
	// Idempotent treats an existing entity with EntityID and the same data as
	// the result of an earlier attempt: its creation events are published again
	// instead of failing with ENTITY_EXISTS.
	Idempotent bool
}

// EntityService runs the entity lifecycle: type checks, payload validation,
// persistence and the events that drive the asynchronous processors.
type EntityService struct {
	registry  *registry.Registry
	entities  ports.EntityRepository
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewEntityService creates a new entity service
func NewEntityService(
	reg *registry.Registry,
	entities ports.EntityRepository,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) *EntityService {
	return &EntityService{
		registry:  reg,
		entities:  entities,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateEntity stores a new entity and publishes ENTITY_CREATED, plus
// ENTITY_MUTUAL_TO_CREATE when the payload carries mutual fields.
func (s *EntityService) CreateEntity(ctx context.Context, entityType string, payload map[string]interface{}, opts CreateOptions) (*entity.Entity, error) {
	cfg, err := s.config(entityType)
	if err != nil {
		return nil, err
	}

	data, mutuals, err := SplitPayload(cfg, payload)
	if err != nil {
		return nil, err
	}
	if cfg.Validate != nil {
		if err := cfg.Validate(data, false); err != nil {
			return nil, appErrors.NewValidationError(err.Error())
		}
	}

	created, err := s.entities.CreateEntity(ctx, entityType, data, ports.CreateEntityOptions{
		EntityID:  opts.EntityID,
		CreatedAt: opts.CreatedAt,
		ExpiresIn: opts.ExpiresIn,
	})
	if err != nil {
		if created, err = s.earlierAttempt(ctx, entityType, data, opts, err); err != nil {
			return nil, err
		}
	}

	toPublish := []events.DomainEvent{events.EntityCreatedEvent{
		EntityType:         created.EntityType,
		EntityID:           created.EntityID,
		Data:               created.Data,
		CreatedByAccountID: opts.AccountID,
		PublishedAt:        created.UpdatedAt,
	}}
	if len(mutuals) > 0 {
		toPublish = append(toPublish, mutualEvent(events.EntityMutualToCreate, created, mutuals))
	}
	if err := s.publish(ctx, toPublish); err != nil {
		return created, err
	}
	return created, nil
}

// earlierAttempt resolves an ENTITY_EXISTS conflict of an idempotent create. It
// returns the stored entity when it holds the requested data and conflict
// otherwise.
func (s *EntityService) earlierAttempt(ctx context.Context, entityType string, data map[string]interface{}, opts CreateOptions, conflict error) (*entity.Entity, error) {
	if !opts.Idempotent || opts.EntityID == "" || !appErrors.HasCode(conflict, appErrors.CodeEntityExists) {
		return nil, conflict
	}
	stored, err := s.entities.GetEntity(ctx, entityType, opts.EntityID)
	if err != nil {
		return nil, conflict
	}
	same, err := sameData(stored.Data, data)
	if err != nil || !same {
		return nil, conflict
	}

	s.logger.Info("Entity already stored by an earlier attempt, publishing its events again",
		zap.String("entityType", entityType),
		zap.String("entityID", opts.EntityID),
	)
	return stored, nil
}

func sameData(a, b map[string]interface{}) (bool, error) {
	left, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(left, right), nil
}

// UpdateEntity merges payload into an entity and publishes ENTITY_UPDATED, plus
// ENTITY_MUTUAL_TO_UPDATE when the payload carries mutual fields.
func (s *EntityService) UpdateEntity(ctx context.Context, entityType, entityID string, payload map[string]interface{}, accountID string) (*entity.Entity, error) {
	return s.update(ctx, entityType, entityID, payload, accountID, s.entities.UpdateEntity)
}

// UpsertEntity creates or merges an entity with a caller-chosen id.
func (s *EntityService) UpsertEntity(ctx context.Context, entityType, entityID string, payload map[string]interface{}, accountID string) (*entity.Entity, error) {
	return s.update(ctx, entityType, entityID, payload, accountID, s.entities.UpsertEntity)
}

type writeFunc func(ctx context.Context, entityType, entityID string, data map[string]interface{}) (*entity.Entity, error)

func (s *EntityService) update(ctx context.Context, entityType, entityID string, payload map[string]interface{}, accountID string, write writeFunc) (*entity.Entity, error) {
	cfg, err := s.config(entityType)
	if err != nil {
		return nil, err
	}

	data, mutuals, err := SplitPayload(cfg, payload)
	if err != nil {
		return nil, err
	}
	if cfg.Validate != nil {
		if err := cfg.Validate(data, true); err != nil {
			return nil, appErrors.NewValidationError(err.Error())
		}
	}

	updated, err := write(ctx, entityType, entityID, data)
	if err != nil {
		return nil, err
	}

	toPublish := []events.DomainEvent{events.EntityUpdatedEvent{
		EntityType:         updated.EntityType,
		EntityID:           updated.EntityID,
		Data:               updated.Data,
		UpdatedByAccountID: accountID,
		PublishedAt:        updated.UpdatedAt,
	}}
	if len(mutuals) > 0 {
		toPublish = append(toPublish, mutualEvent(events.EntityMutualToUpdate, updated, mutuals))
	}
	if err := s.publish(ctx, toPublish); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteEntity removes an entity and publishes ENTITY_DELETED.
func (s *EntityService) DeleteEntity(ctx context.Context, entityType, entityID, accountID string) error {
	if _, err := s.config(entityType); err != nil {
		return err
	}

	deleted, err := s.entities.DeleteEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}

	return s.publish(ctx, []events.DomainEvent{events.EntityDeletedEvent{
		EntityType:         deleted.EntityType,
		EntityID:           deleted.EntityID,
		DeletedByAccountID: accountID,
		PublishedAt:        time.Now().UTC(),
	}})
}

// GetEntity reads one entity of a configured type.
func (s *EntityService) GetEntity(ctx context.Context, entityType, entityID string) (*entity.Entity, error) {
	if _, err := s.config(entityType); err != nil {
		return nil, err
	}
	return s.entities.GetEntity(ctx, entityType, entityID)
}

// GetEntityByUniqueField resolves a unique value of a configured type.
func (s *EntityService) GetEntityByUniqueField(ctx context.Context, entityType, field, value string) (*entity.Entity, error) {
	if _, err := s.config(entityType); err != nil {
		return nil, err
	}
	return s.entities.GetEntityByUniqueField(ctx, entityType, field, value)
}

// ListEntities lists a configured type, or searches it when query is set.
func (s *EntityService) ListEntities(ctx context.Context, entityType string, opts ports.ListOptions) (*ports.EntityList, error) {
	if _, err := s.config(entityType); err != nil {
		return nil, err
	}
	return s.entities.ListEntities(ctx, entityType, opts)
}

// QueryEntities searches the searchable fields of a configured type.
func (s *EntityService) QueryEntities(ctx context.Context, entityType, query string) (*ports.EntityQueryResult, error) {
	if _, err := s.config(entityType); err != nil {
		return nil, err
	}
	return s.entities.QueryEntities(ctx, entityType, query)
}

// GetFieldAvailability checks whether a unique value is still free.
func (s *EntityService) GetFieldAvailability(ctx context.Context, entityType, field, value string) error {
	if _, err := s.config(entityType); err != nil {
		return err
	}
	return s.entities.GetFieldAvailability(ctx, entityType, field, value)
}

func (s *EntityService) config(entityType string) (*registry.EntityConfig, error) {
	cfg, ok := s.registry.Get(entityType)
	if !ok {
		return nil, unknownType(entityType)
	}
	return cfg, nil
}

func (s *EntityService) publish(ctx context.Context, toPublish []events.DomainEvent) error {
	if err := s.publisher.PublishBatch(ctx, toPublish); err != nil {
		s.logger.Error("Failed to publish entity events",
			zap.String("eventType", toPublish[0].GetEventType()),
			zap.String("aggregateID", toPublish[0].GetAggregateID()),
			zap.Error(err),
		)
		return appErrors.NewExternalError("event bus", err)
	}
	return nil
}

// SplitPayload separates the mutual fields of a payload from the entity data.
// Mutual fields must hold lists of entity ids.
func SplitPayload(cfg *registry.EntityConfig, payload map[string]interface{}) (map[string]interface{}, map[string][]string, error) {
	data := make(map[string]interface{}, len(payload))
	mutuals := map[string][]string{}

	for key, value := range payload {
		if !cfg.HasMutualField(key) {
			data[key] = value
			continue
		}
		ids, err := idList(value)
		if err != nil {
			return nil, nil, appErrors.NewValidationError(fmt.Sprintf("%s must be a list of entity ids", key))
		}
		mutuals[key] = ids
	}
	return data, mutuals, nil
}

func idList(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			id, ok := item.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("invalid id %v", item)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("unexpected %T", value)
}

func mutualEvent(eventType string, e *entity.Entity, mutuals map[string][]string) events.EntityMutualEvent {
	return events.EntityMutualEvent{
		EventType: eventType,
		Entity: events.EntityRef{
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Data:       e.Data,
		},
		MutualPayload: mutuals,
		PublishedAt:   e.UpdatedAt,
	}
}

func unknownType(entityType string) error {
	return appErrors.NewNotFoundError(fmt.Sprintf("entity type %q is not configured", entityType)).
		WithCode(appErrors.CodeNotFound)
}
