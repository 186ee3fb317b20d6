package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/domain/registry"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// PrejoinProcessor keeps prejoined mutual fields up to date. A change to one hop
// of a prejoin path is traced back to the root entities whose prejoin contains
// it, and each root's prejoin is recomputed from scratch.
type PrejoinProcessor struct {
	registry *registry.Registry
	mutuals  ports.MutualRepository
	sync     *services.MutualFieldSync
	cache    ports.PrejoinCache
	logger   *zap.Logger
	now      func() time.Time
}

// NewPrejoinProcessor creates a new prejoin processor. cache may be nil.
func NewPrejoinProcessor(
	reg *registry.Registry,
	mutuals ports.MutualRepository,
	sync *services.MutualFieldSync,
	cache ports.PrejoinCache,
	logger *zap.Logger,
) *PrejoinProcessor {
	return &PrejoinProcessor{
		registry: reg,
		mutuals:  mutuals,
		sync:     sync,
		cache:    cache,
		logger:   logger,
		now:      utils.Now,
	}
}

// Handle implements Handler for ENTITY_MUTUAL_PROCESSED and PREJOIN_RELATIONSHIP_SYNC.
func (p *PrejoinProcessor) Handle(ctx context.Context, detailType string, detail json.RawMessage) error {
	event, err := events.Decode(detailType, detail)
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case events.EntityMutualProcessedEvent:
		return p.propagate(ctx, e)
	case events.PrejoinRelationshipSyncEvent:
		return p.syncRoot(ctx, e)
	}
	return appErrors.NewValidationError(fmt.Sprintf("prejoin processor cannot handle %s", detailType))
}

func (p *PrejoinProcessor) propagate(ctx context.Context, e events.EntityMutualProcessedEvent) error {
	p.invalidate(ctx, e.ByEntityType, e.ByEntityID)
	for _, id := range e.EntityIDs {
		p.invalidate(ctx, e.EntityType, id)
	}

	for _, ref := range p.registry.PrejoinsAffectedBy(e.ByEntityType, e.EntityType) {
		at := ref.HopIndex
		if ref.Prejoin.Path[at].EntityType != e.ByEntityType {
			at++
		}

		roots, err := p.walkBack(ctx, ref.Prejoin.Path, at, e.ByEntityID)
		if err != nil {
			return err
		}
		for _, root := range roots {
			if err := p.rebuild(ctx, ref.RootType, root, ref.Prejoin); err != nil {
				return fmt.Errorf("prejoin %s of %s#%s: %w", ref.Prejoin.MutualField, ref.RootType, root, err)
			}
		}
	}
	return nil
}

func (p *PrejoinProcessor) syncRoot(ctx context.Context, e events.PrejoinRelationshipSyncEvent) error {
	cfg, ok := p.registry.Get(e.EntityType)
	if !ok {
		return appErrors.NewNotFoundError(fmt.Sprintf("entity type %q is not configured", e.EntityType)).
			WithCode(appErrors.CodeNotFound)
	}

	for _, prejoin := range cfg.Prejoins {
		if e.MutualField != "" && prejoin.MutualField != e.MutualField {
			continue
		}
		if err := p.rebuild(ctx, e.EntityType, e.EntityID, prejoin); err != nil {
			return fmt.Errorf("prejoin %s: %w", prejoin.MutualField, err)
		}
	}
	return nil
}

// walkBack returns the ids of the root entities reachable from the entity at
// position at of path by walking the path backwards.
func (p *PrejoinProcessor) walkBack(ctx context.Context, path []registry.Hop, at int, entityID string) ([]string, error) {
	ids := []string{entityID}
	for k := at; k > 0 && len(ids) > 0; k-- {
		var next []string
		seen := make(map[string]bool)
		for _, id := range ids {
			items, err := p.hop(ctx, path[k].EntityType, id, path[k-1].EntityType, path[k-1].SkipCache)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if !seen[item.EntityID] {
					seen[item.EntityID] = true
					next = append(next, item.EntityID)
				}
			}
		}
		ids = next
	}
	return ids, nil
}

// rebuild walks the prejoin path forwards from the root and replaces the root's
// mutual field with the ordered result. Missing links yield partial results.
func (p *PrejoinProcessor) rebuild(ctx context.Context, rootType, rootID string, prejoin registry.Prejoin) error {
	items := []registry.PrejoinItem{{EntityType: rootType, EntityID: rootID}}
	prejoinContext := map[string]interface{}{}

	for k := 1; k < len(prejoin.Path); k++ {
		hop := prejoin.Path[k]
		var next []registry.PrejoinItem
		seen := make(map[string]bool)
		for _, item := range items {
			reached, err := p.hop(ctx, item.EntityType, item.EntityID, hop.EntityType, hop.SkipCache)
			if err != nil {
				return err
			}
			for _, r := range reached {
				if !seen[r.EntityID] {
					seen[r.EntityID] = true
					next = append(next, r)
				}
			}
		}
		if hop.Processor != nil {
			next, prejoinContext = hop.Processor(next, prejoinContext)
		}
		items = next
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.EntityID)
	}

	result, err := p.sync.Sync(ctx, services.FieldSyncRequest{
		ByEntityType:   rootType,
		ByEntityID:     rootID,
		Field:          prejoin.MutualField,
		IDs:            ids,
		PrejoinContext: prejoinContext,
		PublishedAt:    p.now(),
		Replace:        true,
	})
	if err != nil {
		return err
	}

	p.logger.Info("Prejoin rebuilt",
		zap.String("rootType", rootType),
		zap.String("rootID", rootID),
		zap.String("field", prejoin.MutualField),
		zap.Int("entities", len(ids)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
	)
	return nil
}

// hop returns the entities of targetType related to one node, ordered by the
// index stored in their mutual data and then by id.
func (p *PrejoinProcessor) hop(ctx context.Context, entityType, entityID, targetType string, skipCache bool) ([]registry.PrejoinItem, error) {
	useCache := p.cache != nil && !skipCache
	if useCache {
		items, ok, err := p.cache.Get(ctx, entityType, entityID, targetType)
		if err != nil {
			p.logger.Warn("Prejoin cache read failed", zap.Error(err))
		} else if ok {
			return items, nil
		}
	}

	mutuals, err := p.mutuals.ListAllEntitiesByEntity(ctx, entityType, entityID, targetType)
	if err != nil {
		return nil, err
	}
	items := make([]registry.PrejoinItem, 0, len(mutuals))
	for _, m := range mutuals {
		items = append(items, registry.PrejoinItem{
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
			Data:       m.Data,
			MutualData: m.MutualData,
		})
	}
	sortByIndex(items)

	if useCache {
		if err := p.cache.Set(ctx, entityType, entityID, targetType, items); err != nil {
			p.logger.Warn("Prejoin cache write failed", zap.Error(err))
		}
	}
	return items, nil
}

func (p *PrejoinProcessor) invalidate(ctx context.Context, entityType, entityID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateNode(ctx, entityType, entityID); err != nil {
		p.logger.Warn("Prejoin cache invalidation failed",
			zap.String("entityType", entityType),
			zap.String("entityID", entityID),
			zap.Error(err),
		)
	}
}

func sortByIndex(items []registry.PrejoinItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := indexOf(items[i].MutualData)
		b, bok := indexOf(items[j].MutualData)
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		}
		return items[i].EntityID < items[j].EntityID
	})
}

func indexOf(data map[string]interface{}) (float64, bool) {
	switch v := data["index"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
