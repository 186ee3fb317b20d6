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

// TagRepository implements ports.TagRepository
type TagRepository struct {
	table  table.Table
	logger *zap.Logger
}

// NewTagRepository creates a new tag repository
func NewTagRepository(t table.Table, logger *zap.Logger) *TagRepository {
	return &TagRepository{table: t, logger: logger}
}

// Compile-time interface check
var _ ports.TagRepository = (*TagRepository)(nil)

// ListTaggedEntities pages through one tag partition in sort value order.
func (r *TagRepository) ListTaggedEntities(ctx context.Context, entityType, tagName string, opts ports.TagListOptions) (*ports.TaggedEntityList, error) {
	q := table.Query{
		PartitionAttr:  keys.AttrPK,
		PartitionValue: keys.TagList(entityType, tagName, opts.Group).PK,
		SortAttr:       keys.AttrSK,
		Limit:          opts.Limit,
	}
	if opts.Start != "" || opts.End != "" {
		end := maxSortKey
		if opts.End != "" {
			end = opts.End + "#" + maxSortKey
		}
		q.Between = &table.Range{Start: orDefault(opts.Start, minSortKey), End: end}
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

	result := &ports.TaggedEntityList{Items: make([]*entity.TaggedEntity, 0, len(page.Items))}
	for _, item := range page.Items {
		parsed, err := unmarshalItem[TagItem](item)
		if err != nil {
			return nil, appErrors.NewInternalError("failed to parse tag item").WithCause(err)
		}
		result.Items = append(result.Items, parsed.toTaggedEntity())
	}
	if len(page.LastKey) > 0 {
		if result.LastKey, err = table.EncodeCursor(page.LastKey); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ListEntityTags returns the stored tag values of an entity for one tag name.
func (r *TagRepository) ListEntityTags(ctx context.Context, entityType, entityID, tagName string) ([]ports.TagMarker, error) {
	prefix := keys.TagMarkers(entityType, entityID, tagName)
	q := table.Query{
		PartitionAttr:  keys.AttrPK,
		PartitionValue: prefix.PK,
		SortAttr:       keys.AttrSK,
		BeginsWith:     prefix.SKPrefix,
	}

	var markers []ports.TagMarker
	for {
		page, err := r.table.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			parsed, err := unmarshalItem[TagMarkerItem](item)
			if err != nil {
				return nil, appErrors.NewInternalError("failed to parse tag marker").WithCause(err)
			}
			markers = append(markers, ports.TagMarker{
				TagName: parsed.TagName,
				Tag:     entity.Tag{Group: parsed.Group, SortValue: parsed.SortValue},
			})
		}
		if len(page.LastKey) == 0 {
			return markers, nil
		}
		q.StartKey = page.LastKey
	}
}

// PutTag stores the list item and the marker of one tag value. A list item that
// already carries newer entity data is kept and ports.ErrStaleWrite is returned.
func (r *TagRepository) PutTag(ctx context.Context, e *entity.Entity, tagName string, tag entity.Tag) error {
	listItem, err := marshalItem(newTagItem(e, tagName, tag))
	if err != nil {
		return appErrors.NewInternalError("failed to build tag item").WithCause(err)
	}
	marker, err := marshalItem(newTagMarkerItem(e, tagName, tag))
	if err != nil {
		return appErrors.NewInternalError("failed to build tag marker").WithCause(err)
	}

	err = r.table.TransactWrite(ctx, []table.Op{
		table.PutOp(listItem, table.IfStale(attrDataUpdatedAt, utils.FormatTimestamp(e.UpdatedAt), false)),
		table.PutOp(marker, table.Condition{}),
	})
	if appErrors.IsConditionalCheckFailed(err) {
		return ports.ErrStaleWrite
	}
	return err
}

// DeleteTag removes the list item and the marker of one tag value.
func (r *TagRepository) DeleteTag(ctx context.Context, entityType, entityID, tagName string, tag entity.Tag) error {
	return r.table.TransactWrite(ctx, []table.Op{
		table.DeleteOp(keys.Tag(entityType, tagName, tag.Group, tag.SortValue, entityID), table.Condition{}),
		table.DeleteOp(keys.TagMarker(entityType, entityID, tagName, tag.Group, tag.SortValue), table.Condition{}),
	})
}
