package dynamodb

import (
	"context"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// ReplicaRepository implements ports.ReplicaRepository. Copies are found through
// the replication indexes and rewritten one by one with latest-wins conditions.
type ReplicaRepository struct {
	table   table.Table
	indexes Indexes
	logger  *zap.Logger
}

// NewReplicaRepository creates a new replica repository
func NewReplicaRepository(t table.Table, indexes Indexes, logger *zap.Logger) *ReplicaRepository {
	return &ReplicaRepository{table: t, indexes: indexes, logger: logger}
}

// Compile-time interface check
var _ ports.ReplicaRepository = (*ReplicaRepository)(nil)

// ReplicateEntity copies e.Data onto every mutual and tag item that embeds an
// older version of it.
func (r *ReplicaRepository) ReplicateEntity(ctx context.Context, e *entity.Entity) (int, error) {
	version := utils.FormatTimestamp(e.UpdatedAt)
	data, err := table.Set(nonNil(e.Data), attrData)
	if err != nil {
		return 0, appErrors.NewValidationError("invalid entity data").WithCause(err)
	}
	stamp, _ := table.Set(version, attrDataUpdatedAt)

	q := table.Query{
		Index:          r.indexes.EntityReplication,
		PartitionAttr:  keys.AttrR1PK,
		PartitionValue: keys.EntityPK(e.EntityType, e.EntityID),
		SortAttr:       keys.AttrR1SK,
	}
	return r.rewrite(ctx, q, func(key keys.Key) table.Op {
		return table.UpdateOp(key, table.IfStale(attrDataUpdatedAt, version, true), data, stamp)
	})
}

// ReplicateMutual copies the mutual data of m onto the mirrored item.
func (r *ReplicaRepository) ReplicateMutual(ctx context.Context, m *entity.Mutual) (int, error) {
	version := utils.FormatTimestamp(m.MutualUpdatedAt)
	data, err := table.Set(nonNil(m.MutualData), attrMutualData)
	if err != nil {
		return 0, appErrors.NewValidationError("invalid mutual data").WithCause(err)
	}
	stamp, _ := table.Set(version, attrMutualUpdatedAt)
	source := keys.Mutual(m.ByEntityType, m.ByEntityID, m.EntityType, m.EntityID)

	q := table.Query{
		Index:          r.indexes.MutualReplication,
		PartitionAttr:  keys.AttrR2PK,
		PartitionValue: keys.MutualReplication(m.MutualID, "").PK,
		SortAttr:       keys.AttrR2SK,
	}
	return r.rewrite(ctx, q, func(key keys.Key) table.Op {
		if key == source {
			return table.Op{}
		}
		return table.UpdateOp(key, table.IfStale(attrMutualUpdatedAt, version, true), data, stamp)
	})
}

// rewrite applies opFor to every item of the query. Items whose condition fails
// already hold newer data, or were deleted, and are skipped.
func (r *ReplicaRepository) rewrite(ctx context.Context, q table.Query, opFor func(keys.Key) table.Op) (int, error) {
	written := 0
	for {
		page, err := r.table.Query(ctx, q)
		if err != nil {
			return written, err
		}

		for _, item := range page.Items {
			key := table.KeyOf(item)
			op := opFor(key)
			if op.Update == nil {
				continue
			}
			err := r.table.Write(ctx, op)
			switch {
			case err == nil:
				written++
			case appErrors.IsConditionalCheckFailed(err):
				r.logger.Debug("Replica already current", zap.String("pk", key.PK), zap.String("sk", key.SK))
			default:
				return written, err
			}
		}

		if len(page.LastKey) == 0 {
			return written, nil
		}
		q.StartKey = page.LastKey
	}
}
