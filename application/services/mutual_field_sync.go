package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/registry"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// FieldSyncRequest describes the desired content of one mutual field.
type FieldSyncRequest struct {
	ByEntityType string
	ByEntityID   string
	Field        string
	// IDs is the ordered list of related entity ids. Duplicates are ignored.
	IDs            []string
	PrejoinContext map[string]interface{}
	// PublishedAt orders concurrent syncs of the same field. Zero disables the
	// latest-wins check.
	PublishedAt time.Time
	// Replace deletes existing mutuals of the field's type that are not in IDs.
	Replace bool
}

// FieldSyncResult reports what a sync changed.
type FieldSyncResult struct {
	EntityType string
	MutualIDs  []string
	// EntityIDs lists the related entities whose mutual was written or deleted.
	EntityIDs  []string
	Created    int
	Updated    int
	Deleted    int
	Skipped    int
	// Stale is set when a newer sync of the field was already applied and this
	// one changed nothing.
	Stale bool
}

// MutualFieldSync writes the mutuals of one field from an ordered id list. The
// mutual processor and the prejoin processor both use it.
type MutualFieldSync struct {
	registry *registry.Registry
	mutuals  ports.MutualRepository
	logger   *zap.Logger
}

// NewMutualFieldSync creates a new mutual field sync
func NewMutualFieldSync(reg *registry.Registry, mutuals ports.MutualRepository, logger *zap.Logger) *MutualFieldSync {
	return &MutualFieldSync{registry: reg, mutuals: mutuals, logger: logger}
}

// Sync creates or updates one mutual per id with the field's data processor and,
// with Replace, deletes the mutuals that are no longer listed. Ids that point at
// missing entities are skipped. With PublishedAt set, the field version is claimed
// first and a sync older than the last applied one writes nothing.
func (s *MutualFieldSync) Sync(ctx context.Context, req FieldSyncRequest) (*FieldSyncResult, error) {
	cfg, ok := s.registry.Get(req.ByEntityType)
	if !ok {
		return nil, unknownType(req.ByEntityType)
	}
	field, ok := cfg.MutualFields[req.Field]
	if !ok {
		return nil, appErrors.NewValidationError(fmt.Sprintf("%s has no mutual field %q", req.ByEntityType, req.Field))
	}

	if !req.PublishedAt.IsZero() {
		err := s.mutuals.ClaimFieldVersion(ctx, req.ByEntityType, req.ByEntityID, req.Field, req.PublishedAt)
		switch {
		case errors.Is(err, ports.ErrStaleWrite):
			s.logger.Info("Skipping mutual field sync older than the applied one",
				zap.String("byEntityType", req.ByEntityType),
				zap.String("byEntityID", req.ByEntityID),
				zap.String("field", req.Field),
				zap.Time("publishedAt", req.PublishedAt),
			)
			return &FieldSyncResult{
				EntityType: field.EntityType,
				MutualIDs:  []string{},
				EntityIDs:  []string{},
				Skipped:    len(dedupe(req.IDs)),
				Stale:      true,
			}, nil
		case err != nil:
			return nil, err
		}
	}

	existing, err := s.mutuals.ListAllEntitiesByEntity(ctx, req.ByEntityType, req.ByEntityID, field.EntityType)
	if err != nil {
		return nil, err
	}
	current := make(map[string]*entity.Mutual, len(existing))
	for _, m := range existing {
		current[m.EntityID] = m
	}

	var opts ports.MutualWriteOptions
	if !req.PublishedAt.IsZero() {
		since := req.PublishedAt
		opts.Since = &since
	}

	ids := dedupe(req.IDs)
	result := &FieldSyncResult{EntityType: field.EntityType, MutualIDs: []string{}, EntityIDs: []string{}}
	for _, id := range ids {
		data := field.DataProcessor(ids, id, current[id], req.PrejoinContext)
		m, err := s.write(ctx, req, field.EntityType, id, current[id], data, opts, result)
		if err != nil {
			return nil, err
		}
		if m != nil {
			result.MutualIDs = append(result.MutualIDs, m.MutualID)
			result.EntityIDs = append(result.EntityIDs, id)
		}
	}

	if req.Replace {
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		for _, m := range existing {
			if wanted[m.EntityID] {
				continue
			}
			if opts.Since != nil && m.MutualUpdatedAt.After(*opts.Since) {
				result.Skipped++
				continue
			}
			_, err := s.mutuals.DeleteMutual(ctx, req.ByEntityType, req.ByEntityID, field.EntityType, m.EntityID)
			switch {
			case err == nil:
				result.Deleted++
				result.EntityIDs = append(result.EntityIDs, m.EntityID)
			case appErrors.IsNotFound(err):
			default:
				return nil, err
			}
		}
	}

	s.logger.Debug("Mutual field synced",
		zap.String("byEntityType", req.ByEntityType),
		zap.String("byEntityID", req.ByEntityID),
		zap.String("field", req.Field),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *MutualFieldSync) write(
	ctx context.Context,
	req FieldSyncRequest,
	entityType, entityID string,
	current *entity.Mutual,
	data map[string]interface{},
	opts ports.MutualWriteOptions,
	result *FieldSyncResult,
) (*entity.Mutual, error) {
	if current == nil {
		m, err := s.mutuals.CreateMutual(ctx, req.ByEntityType, req.ByEntityID, entityType, entityID, data, opts)
		switch {
		case err == nil:
			result.Created++
			return m, nil
		case appErrors.HasCode(err, appErrors.CodeEntityIsUndefined):
			s.logger.Warn("Skipping mutual to missing entity",
				zap.String("byEntityType", req.ByEntityType),
				zap.String("byEntityID", req.ByEntityID),
				zap.String("entityType", entityType),
				zap.String("entityID", entityID),
			)
			result.Skipped++
			return nil, nil
		case !appErrors.HasCode(err, appErrors.CodeMutualExists):
			return nil, err
		}
		// Created concurrently, fall through to the update.
	}

	m, err := s.mutuals.UpdateMutual(ctx, req.ByEntityType, req.ByEntityID, entityType, entityID, data, opts)
	switch {
	case err == nil:
		result.Updated++
		return m, nil
	case errors.Is(err, ports.ErrStaleWrite):
		result.Skipped++
		if current != nil {
			return current, nil
		}
		return nil, nil
	case appErrors.IsNotFound(err):
		result.Skipped++
		return nil, nil
	}
	return nil, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
