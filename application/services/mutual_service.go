package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/domain/registry"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// MutualService exposes single mutual operations. Every write is announced as
// ENTITY_MUTUAL_PROCESSED so that prejoins depending on the pair are refreshed.
type MutualService struct {
	registry  *registry.Registry
	mutuals   ports.MutualRepository
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewMutualService creates a new mutual service
func NewMutualService(
	reg *registry.Registry,
	mutuals ports.MutualRepository,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) *MutualService {
	return &MutualService{
		registry:  reg,
		mutuals:   mutuals,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateMutual relates two entities.
func (s *MutualService) CreateMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}) (*entity.Mutual, error) {
	if err := s.checkTypes(byType, entityType); err != nil {
		return nil, err
	}

	m, err := s.mutuals.CreateMutual(ctx, byType, byID, entityType, entityID, mutualData, ports.MutualWriteOptions{})
	if err != nil {
		return nil, err
	}
	return m, s.announce(ctx, m)
}

// UpdateMutual merges mutualData into an existing mutual.
func (s *MutualService) UpdateMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}) (*entity.Mutual, error) {
	if err := s.checkTypes(byType, entityType); err != nil {
		return nil, err
	}

	m, err := s.mutuals.UpdateMutual(ctx, byType, byID, entityType, entityID, mutualData, ports.MutualWriteOptions{})
	if err != nil {
		return nil, err
	}
	return m, s.announce(ctx, m)
}

// DeleteMutual removes a mutual in both directions.
func (s *MutualService) DeleteMutual(ctx context.Context, byType, byID, entityType, entityID string) (*entity.Mutual, error) {
	if err := s.checkTypes(byType, entityType); err != nil {
		return nil, err
	}

	m, err := s.mutuals.DeleteMutual(ctx, byType, byID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return m, s.announce(ctx, m)
}

// GetMutual reads one direction of a mutual.
func (s *MutualService) GetMutual(ctx context.Context, byType, byID, entityType, entityID string) (*entity.Mutual, error) {
	if err := s.checkTypes(byType, entityType); err != nil {
		return nil, err
	}
	return s.mutuals.GetMutual(ctx, byType, byID, entityType, entityID)
}

// ListEntitiesByEntity lists the mutuals of an entity that point at entityType.
func (s *MutualService) ListEntitiesByEntity(ctx context.Context, byType, byID, entityType string, opts ports.MutualListOptions) (*ports.MutualList, error) {
	if err := s.checkTypes(byType, entityType); err != nil {
		return nil, err
	}
	if opts.ChainQuery != "" && !s.registry.Has(opts.ChainQuery) {
		return nil, unknownType(opts.ChainQuery)
	}
	return s.mutuals.ListEntitiesByEntity(ctx, byType, byID, entityType, opts)
}

func (s *MutualService) checkTypes(types ...string) error {
	for _, t := range types {
		if !s.registry.Has(t) {
			return unknownType(t)
		}
	}
	return nil
}

func (s *MutualService) announce(ctx context.Context, m *entity.Mutual) error {
	event := events.EntityMutualProcessedEvent{
		ByEntityType: m.ByEntityType,
		ByEntityID:   m.ByEntityID,
		EntityType:   m.EntityType,
		MutualIDs:    []string{m.MutualID},
		EntityIDs:    []string{m.EntityID},
		PublishedAt:  utils.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish mutual event",
			zap.String("mutualID", m.MutualID),
			zap.Error(err),
		)
		return appErrors.NewExternalError("event bus", fmt.Errorf("publish %s: %w", event.GetEventType(), err))
	}
	return nil
}
