package processors

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/events"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// CreateEntityProcessor creates entities requested through CREATE_ENTITY events.
type CreateEntityProcessor struct {
	entities *services.EntityService
	logger   *zap.Logger
}

// NewCreateEntityProcessor creates a new create-entity processor
func NewCreateEntityProcessor(entities *services.EntityService, logger *zap.Logger) *CreateEntityProcessor {
	return &CreateEntityProcessor{entities: entities, logger: logger}
}

// Handle implements Handler. Conflicts and validation failures are terminal.
// Commands without an entity id get one derived from the delivered event, so a
// redelivery after a failed publish finds the entity created by the first attempt
// and publishes its events again instead of creating a second one.
func (p *CreateEntityProcessor) Handle(ctx context.Context, detailType string, detail json.RawMessage) error {
	event, err := events.Decode(detailType, detail)
	if err != nil {
		return err
	}
	cmd, ok := event.(events.CreateEntityCommand)
	if !ok {
		return appErrors.NewValidationError(fmt.Sprintf("create-entity processor cannot handle %s", detailType))
	}

	entityID := cmd.EntityID
	if entityID == "" {
		entityID = entity.DeriveID(commandSeed(ctx, detailType, detail), cmd.PublishedAt)
	}

	created, err := p.entities.CreateEntity(ctx, cmd.EntityType, cmd.Payload, services.CreateOptions{
		EntityID:   entityID,
		AccountID:  cmd.AccountID,
		Idempotent: true,
	})
	if err != nil {
		return err
	}

	p.logger.Info("Entity created from event",
		zap.String("entityType", created.EntityType),
		zap.String("entityID", created.EntityID),
	)
	return nil
}

// commandSeed identifies a command across redeliveries: the event id when the
// runner provides one, the command body otherwise.
func commandSeed(ctx context.Context, detailType string, detail json.RawMessage) string {
	if id := EventID(ctx); id != "" {
		return id
	}
	return detailType + "|" + string(detail)
}
