package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/events"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// MutualProcessor writes the mutuals listed in ENTITY_MUTUAL_TO_CREATE and
// ENTITY_MUTUAL_TO_UPDATE events and announces every processed field.
type MutualProcessor struct {
	sync      *services.MutualFieldSync
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewMutualProcessor creates a new mutual processor
func NewMutualProcessor(sync *services.MutualFieldSync, publisher ports.EventPublisher, logger *zap.Logger) *MutualProcessor {
	return &MutualProcessor{sync: sync, publisher: publisher, logger: logger}
}

// Handle implements Handler. On ENTITY_MUTUAL_TO_UPDATE the listed ids replace
// the field: mutuals that are no longer listed are deleted.
func (p *MutualProcessor) Handle(ctx context.Context, detailType string, detail json.RawMessage) error {
	event, err := events.Decode(detailType, detail)
	if err != nil {
		return err
	}
	mutualEvent, ok := event.(events.EntityMutualEvent)
	if !ok {
		return appErrors.NewValidationError(fmt.Sprintf("mutual processor cannot handle %s", detailType))
	}

	fields := make([]string, 0, len(mutualEvent.MutualPayload))
	for field := range mutualEvent.MutualPayload {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	processed := make([]events.DomainEvent, 0, len(fields))
	for _, field := range fields {
		result, err := p.sync.Sync(ctx, services.FieldSyncRequest{
			ByEntityType:   mutualEvent.Entity.EntityType,
			ByEntityID:     mutualEvent.Entity.EntityID,
			Field:          field,
			IDs:            mutualEvent.MutualPayload[field],
			PrejoinContext: mutualEvent.PrejoinContext,
			PublishedAt:    mutualEvent.PublishedAt,
			Replace:        detailType == events.EntityMutualToUpdate,
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		if result.Stale {
			continue
		}

		processed = append(processed, events.EntityMutualProcessedEvent{
			ByEntityType: mutualEvent.Entity.EntityType,
			ByEntityID:   mutualEvent.Entity.EntityID,
			EntityType:   result.EntityType,
			Field:        field,
			MutualIDs:    result.MutualIDs,
			EntityIDs:    result.EntityIDs,
			PublishedAt:  utils.Now(),
		})
	}

	if len(processed) == 0 {
		return nil
	}
	if err := p.publisher.PublishBatch(ctx, processed); err != nil {
		p.logger.Error("Failed to publish mutual processed events",
			zap.String("entityType", mutualEvent.Entity.EntityType),
			zap.String("entityID", mutualEvent.Entity.EntityID),
			zap.Error(err),
		)
		return appErrors.NewExternalError("event bus", err)
	}
	return nil
}
