package dynamodb

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// MutualRepository implements ports.MutualRepository. Every mutual is stored as
// two mirrored items, one in each entity's partition, written in one transaction.
type MutualRepository struct {
	table    table.Table
	entities ports.EntityRepository
	registry *registry.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewMutualRepository creates a new mutual repository
func NewMutualRepository(t table.Table, entities ports.EntityRepository, reg *registry.Registry, logger *zap.Logger) *MutualRepository {
	return &MutualRepository{
		table:    t,
		entities: entities,
		registry: reg,
		logger:   logger,
		now:      utils.Now,
	}
}

// Compile-time interface check
var _ ports.MutualRepository = (*MutualRepository)(nil)

// CreateMutual relates two existing entities. Both items embed the data of the
// entity they point at.
func (r *MutualRepository) CreateMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}, opts ports.MutualWriteOptions) (*entity.Mutual, error) {
	if byType == entityType && byID == entityID {
		return nil, appErrors.NewValidationError("an entity cannot be related to itself")
	}

	by, err := r.entities.GetEntity(ctx, byType, byID)
	if err != nil {
		return nil, undefinedOnMissing(err)
	}
	target, err := r.entities.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, undefinedOnMissing(err)
	}

	mutualID, err := entity.NewID()
	if err != nil {
		return nil, appErrors.NewInternalError("failed to generate mutual id").WithCause(err)
	}

	now := r.now()
	m := &entity.Mutual{
		ByEntityType:    byType,
		ByEntityID:      byID,
		EntityType:      entityType,
		EntityID:        entityID,
		MutualID:        mutualID,
		Data:            target.Data,
		MutualData:      maps.Clone(nonNil(mutualData)),
		CreatedAt:       now,
		UpdatedAt:       now,
		MutualUpdatedAt: versionOf(opts, now),
	}

	forward, err := marshalItem(newMutualItem(m, target.UpdatedAt))
	if err != nil {
		return nil, appErrors.NewInternalError("failed to build mutual item").WithCause(err)
	}
	reverse, err := marshalItem(newMutualItem(m.Mirror(by.Data), by.UpdatedAt))
	if err != nil {
		return nil, appErrors.NewInternalError("failed to build mutual item").WithCause(err)
	}

	err = r.table.TransactWrite(ctx, []table.Op{
		table.PutOp(forward, table.IfNotExists()),
		table.PutOp(reverse, table.Condition{}),
		table.CheckOp(keys.Entity(byType, byID), table.IfExists()),
		table.CheckOp(keys.Entity(entityType, entityID), table.IfExists()),
	})
	if err != nil {
		failed := appErrors.FailedOperations(err)
		switch {
		case len(failed) == 0:
			return nil, err
		case failed[0] == 0:
			return nil, appErrors.NewAlreadyExistsError("Mutual already exists").WithCode(appErrors.CodeMutualExists)
		default:
			return nil, undefined()
		}
	}

	r.logger.Debug("Mutual created",
		zap.String("byEntity", keys.EntityPK(byType, byID)),
		zap.String("entity", keys.EntityPK(entityType, entityID)),
		zap.String("mutualID", mutualID),
	)
	return m, nil
}

// GetMutual reads the item stored under the by-entity.
func (r *MutualRepository) GetMutual(ctx context.Context, byType, byID, entityType, entityID string) (*entity.Mutual, error) {
	item, err := r.table.Get(ctx, keys.Mutual(byType, byID, entityType, entityID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, mutualNotFound()
	}
	return parseMutual(item)
}

// UpdateMutual merges mutualData into both mirrored items. With opts.Since the
// write only happens when it is newer than the stored mutualUpdatedAt; otherwise
// ports.ErrStaleWrite is returned. A missing reverse item is rebuilt.
func (r *MutualRepository) UpdateMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}, opts ports.MutualWriteOptions) (*entity.Mutual, error) {
	current, err := r.GetMutual(ctx, byType, byID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	updated := *current
	updated.MutualData = entity.MergeData(current.MutualData, mutualData)
	updated.UpdatedAt = now
	updated.MutualUpdatedAt = versionOf(opts, now)

	set, err := mutualAssignments(&updated)
	if err != nil {
		return nil, err
	}

	cond := table.IfExists()
	if opts.Since != nil {
		cond = table.IfStale(attrMutualUpdatedAt, utils.FormatTimestamp(updated.MutualUpdatedAt), true)
	}
	ops := []table.Op{table.UpdateOp(keys.Mutual(byType, byID, entityType, entityID), cond, set...)}

	reverseKey := keys.Mutual(entityType, entityID, byType, byID)
	reverse, err := r.table.Get(ctx, reverseKey, keys.AttrPK)
	if err != nil {
		return nil, err
	}
	if reverse != nil {
		ops = append(ops, table.UpdateOp(reverseKey, table.IfExists(), set...))
	} else if op, ok := r.rebuildReverse(ctx, &updated); ok {
		ops = append(ops, op)
	}

	if err := r.table.TransactWrite(ctx, ops); err != nil {
		failed := appErrors.FailedOperations(err)
		switch {
		case len(failed) == 0:
			return nil, err
		case failed[0] == 0 && opts.Since != nil:
			r.logger.Debug("Stale mutual update skipped",
				zap.String("mutualID", current.MutualID),
				zap.Time("since", *opts.Since),
			)
			return nil, ports.ErrStaleWrite
		case failed[0] == 0:
			return nil, mutualNotFound()
		default:
			return nil, appErrors.NewConflictError("mutual changed concurrently").WithCause(err)
		}
	}
	return &updated, nil
}

// EditMutual is UpdateMutual without a latest-wins timestamp.
func (r *MutualRepository) EditMutual(ctx context.Context, byType, byID, entityType, entityID string, mutualData map[string]interface{}) (*entity.Mutual, error) {
	return r.UpdateMutual(ctx, byType, byID, entityType, entityID, mutualData, ports.MutualWriteOptions{})
}

// DeleteMutual removes both mirrored items and returns the deleted direction.
func (r *MutualRepository) DeleteMutual(ctx context.Context, byType, byID, entityType, entityID string) (*entity.Mutual, error) {
	current, err := r.GetMutual(ctx, byType, byID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	err = r.table.TransactWrite(ctx, []table.Op{
		table.DeleteOp(keys.Mutual(byType, byID, entityType, entityID), table.IfExists()),
		table.DeleteOp(keys.Mutual(entityType, entityID, byType, byID), table.Condition{}),
	})
	if err != nil {
		if appErrors.IsConditionalCheckFailed(err) {
			return nil, mutualNotFound()
		}
		return nil, err
	}

	r.logger.Debug("Mutual deleted",
		zap.String("byEntity", keys.EntityPK(byType, byID)),
		zap.String("entity", keys.EntityPK(entityType, entityID)),
	)
	return current, nil
}

// ListEntitiesByEntity pages through the mutuals of the by-entity that point at
// entityType, in id order. With a chain query the second hop of every
// intermediate entity is returned instead.
func (r *MutualRepository) ListEntitiesByEntity(ctx context.Context, byType, byID, entityType string, opts ports.MutualListOptions) (*ports.MutualList, error) {
	if opts.ChainQuery != "" {
		return r.listChain(ctx, byType, byID, opts.ChainQuery, entityType, opts)
	}

	prefix := keys.MutualList(byType, byID, entityType)
	q := table.Query{
		PartitionAttr:  keys.AttrPK,
		PartitionValue: prefix.PK,
		SortAttr:       keys.AttrSK,
		BeginsWith:     prefix.SKPrefix,
		Limit:          opts.Limit,
	}
	if opts.LastKey != "" {
		start, err := table.DecodeCursor(opts.LastKey)
		if err != nil {
			return nil, err
		}
		q.StartKey = start
	}

	page, err := r.table.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &ports.MutualList{Items: make([]*entity.Mutual, 0, len(page.Items))}
	for _, item := range page.Items {
		m, err := parseMutual(item)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, projectMutual(m, opts.Projection))
	}
	if len(page.LastKey) > 0 {
		if result.LastKey, err = table.EncodeCursor(page.LastKey); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ListAllEntitiesByEntity follows every page of ListEntitiesByEntity.
func (r *MutualRepository) ListAllEntitiesByEntity(ctx context.Context, byType, byID, entityType string) ([]*entity.Mutual, error) {
	var all []*entity.Mutual
	opts := ports.MutualListOptions{}
	for {
		page, err := r.ListEntitiesByEntity(ctx, byType, byID, entityType, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.LastKey == "" {
			return all, nil
		}
		opts.LastKey = page.LastKey
	}
}

// FieldVersion reads the version recorded by the last ClaimFieldVersion.
func (r *MutualRepository) FieldVersion(ctx context.Context, byType, byID, field string) (time.Time, error) {
	item, err := r.table.Get(ctx, keys.FieldVersion(byType, byID, field), attrFieldVersion)
	if err != nil {
		return time.Time{}, err
	}
	raw := table.StringAttr(item, attrFieldVersion)
	if raw == "" {
		return time.Time{}, nil
	}
	version, err := utils.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, appErrors.NewInternalError(fmt.Sprintf("malformed field version %q", raw)).WithCause(err)
	}
	return version, nil
}

// ClaimFieldVersion stores version for the field unless a newer one is stored.
func (r *MutualRepository) ClaimFieldVersion(ctx context.Context, byType, byID, field string, version time.Time) error {
	stamp := utils.FormatTimestamp(version.Truncate(time.Millisecond))
	item := table.KeyItem(keys.FieldVersion(byType, byID, field))
	item[attrFieldVersion] = &types.AttributeValueMemberS{Value: stamp}

	err := r.table.Write(ctx, table.PutOp(item, table.IfNotNewer(attrFieldVersion, stamp)))
	if appErrors.IsConditionalCheckFailed(err) {
		r.logger.Debug("Field version is behind the stored one",
			zap.String("byEntityType", byType),
			zap.String("byEntityID", byID),
			zap.String("field", field),
			zap.String("version", stamp),
		)
		return ports.ErrStaleWrite
	}
	return err
}

func (r *MutualRepository) listChain(ctx context.Context, byType, byID, via, entityType string, opts ports.MutualListOptions) (*ports.MutualList, error) {
	if !r.registry.ChainAllowed(byType, via, entityType) {
		return nil, appErrors.NewValidationError(fmt.Sprintf("chain query %s -> %s -> %s is not configured", byType, via, entityType))
	}

	intermediates, err := r.ListAllEntitiesByEntity(ctx, byType, byID, via)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	result := &ports.MutualList{Items: []*entity.Mutual{}}
	for _, hop := range intermediates {
		reached, err := r.ListAllEntitiesByEntity(ctx, via, hop.EntityID, entityType)
		if err != nil {
			return nil, err
		}
		for _, m := range reached {
			if seen[m.EntityID] {
				continue
			}
			seen[m.EntityID] = true
			result.Items = append(result.Items, projectMutual(m, opts.Projection))
		}
	}

	if opts.Limit > 0 && len(result.Items) > int(opts.Limit) {
		result.Items = result.Items[:opts.Limit]
	}
	return result, nil
}

// rebuildReverse writes a fresh mirrored item when the reverse direction is
// missing. It gives up when the by-entity no longer exists.
func (r *MutualRepository) rebuildReverse(ctx context.Context, m *entity.Mutual) (table.Op, bool) {
	by, err := r.entities.GetEntity(ctx, m.ByEntityType, m.ByEntityID)
	if err != nil {
		r.logger.Warn("Cannot rebuild reverse mutual item",
			zap.String("mutualID", m.MutualID),
			zap.Error(err),
		)
		return table.Op{}, false
	}
	item, err := marshalItem(newMutualItem(m.Mirror(by.Data), by.UpdatedAt))
	if err != nil {
		return table.Op{}, false
	}
	return table.PutOp(item, table.Condition{}), true
}

func mutualAssignments(m *entity.Mutual) ([]table.Assignment, error) {
	values := []struct {
		attr  string
		value interface{}
	}{
		{attrMutualData, nonNil(m.MutualData)},
		{attrMutualUpdatedAt, utils.FormatTimestamp(m.MutualUpdatedAt)},
		{attrUpdatedAt, utils.FormatTimestamp(m.UpdatedAt)},
	}

	set := make([]table.Assignment, 0, len(values))
	for _, v := range values {
		a, err := table.Set(v.value, v.attr)
		if err != nil {
			return nil, appErrors.NewValidationError("invalid mutual data").WithCause(err)
		}
		set = append(set, a)
	}
	return set, nil
}

func parseMutual(item table.Item) (*entity.Mutual, error) {
	parsed, err := unmarshalItem[MutualItem](item)
	if err != nil {
		return nil, appErrors.NewInternalError("failed to parse mutual item").WithCause(err)
	}
	return parsed.toMutual(), nil
}

func projectMutual(m *entity.Mutual, fields []string) *entity.Mutual {
	if len(fields) == 0 {
		return m
	}
	m.Data = m.Target().Project(fields).Data
	return m
}

func versionOf(opts ports.MutualWriteOptions, now time.Time) time.Time {
	if opts.Since != nil {
		return opts.Since.UTC().Truncate(time.Millisecond)
	}
	return now
}

func undefined() error {
	return appErrors.NewValidationError("Entity is undefined").WithCode(appErrors.CodeEntityIsUndefined)
}

func undefinedOnMissing(err error) error {
	if appErrors.IsNotFound(err) {
		return undefined()
	}
	return err
}

func mutualNotFound() error {
	return appErrors.NewNotFoundError("Mutual not found").WithCode(appErrors.CodeMutualNotFound)
}
