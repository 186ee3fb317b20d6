package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/domain/registry"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// TagProcessor keeps the tag listings of an entity equal to what its tag
// processors compute from the current entity data.
type TagProcessor struct {
	registry *registry.Registry
	entities ports.EntityRepository
	tags     ports.TagRepository
	logger   *zap.Logger
}

// NewTagProcessor creates a new tag processor
func NewTagProcessor(reg *registry.Registry, entities ports.EntityRepository, tags ports.TagRepository, logger *zap.Logger) *TagProcessor {
	return &TagProcessor{registry: reg, entities: entities, tags: tags, logger: logger}
}

// Handle implements Handler for ENTITY_CREATED, ENTITY_UPDATED and ENTITY_DELETED.
func (p *TagProcessor) Handle(ctx context.Context, detailType string, detail json.RawMessage) error {
	event, err := events.Decode(detailType, detail)
	if err != nil {
		return err
	}

	var entityType, entityID string
	switch e := event.(type) {
	case events.EntityCreatedEvent:
		entityType, entityID = e.EntityType, e.EntityID
	case events.EntityUpdatedEvent:
		entityType, entityID = e.EntityType, e.EntityID
	case events.EntityDeletedEvent:
		return p.removeAll(ctx, e.EntityType, e.EntityID)
	default:
		return appErrors.NewValidationError(fmt.Sprintf("tag processor cannot handle %s", detailType))
	}

	cfg, ok := p.registry.Get(entityType)
	if !ok {
		return appErrors.NewNotFoundError(fmt.Sprintf("entity type %q is not configured", entityType)).
			WithCode(appErrors.CodeNotFound)
	}
	if len(cfg.Tags) == 0 {
		return nil
	}

	// Tags are computed from the stored entity so that a late event cannot
	// restore tags of older data.
	current, err := p.entities.GetEntity(ctx, entityType, entityID)
	if appErrors.IsNotFound(err) {
		p.logger.Debug("Entity gone before tagging", zap.String("entityType", entityType), zap.String("entityID", entityID))
		return nil
	}
	if err != nil {
		return err
	}

	for _, tag := range cfg.Tags {
		if err := p.reconcile(ctx, current, tag); err != nil {
			return fmt.Errorf("tag %s: %w", tag.Name, err)
		}
	}
	return nil
}

func (p *TagProcessor) reconcile(ctx context.Context, e *entity.Entity, cfg registry.TagConfig) error {
	computed, err := cfg.Processor(e)
	if err != nil {
		return appErrors.NewValidationError("tag processor failed").WithCause(err)
	}
	for _, tag := range computed {
		if strings.Contains(tag.Group, "#") {
			return appErrors.NewValidationError(fmt.Sprintf("tag %q: group %q must not contain '#'", cfg.Name, tag.Group))
		}
	}
	wanted := entity.NewTagSet(computed)

	markers, err := p.tags.ListEntityTags(ctx, e.EntityType, e.EntityID, cfg.Name)
	if err != nil {
		return err
	}

	removed := 0
	for _, marker := range markers {
		if wanted.Has(marker.Tag) {
			continue
		}
		if err := p.tags.DeleteTag(ctx, e.EntityType, e.EntityID, cfg.Name, marker.Tag); err != nil {
			return err
		}
		removed++
	}

	written := 0
	for tag := range wanted {
		err := p.tags.PutTag(ctx, e, cfg.Name, tag)
		switch {
		case err == nil:
			written++
		case errors.Is(err, ports.ErrStaleWrite):
		default:
			return err
		}
	}

	p.logger.Debug("Tags reconciled",
		zap.String("entityType", e.EntityType),
		zap.String("entityID", e.EntityID),
		zap.String("tag", cfg.Name),
		zap.Int("written", written),
		zap.Int("removed", removed),
	)
	return nil
}

func (p *TagProcessor) removeAll(ctx context.Context, entityType, entityID string) error {
	cfg, ok := p.registry.Get(entityType)
	if !ok {
		return nil
	}
	for _, tag := range cfg.Tags {
		markers, err := p.tags.ListEntityTags(ctx, entityType, entityID, tag.Name)
		if err != nil {
			return err
		}
		for _, marker := range markers {
			if err := p.tags.DeleteTag(ctx, entityType, entityID, tag.Name, marker.Tag); err != nil {
				return err
			}
		}
	}
	return nil
}
