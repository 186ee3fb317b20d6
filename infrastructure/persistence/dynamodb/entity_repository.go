package dynamodb

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// Sort key bounds used when only one side of a range is given.
const (
	minSortKey = "\u0001"
	maxSortKey = "\uffff"
)

// Indexes names the two global secondary indexes of the table.
type Indexes struct {
	// EntityReplication is keyed by R1PK/R1SK. It lists entities of a type and
	// finds every copy of an entity's data.
	EntityReplication string
	// MutualReplication is keyed by R2PK/R2SK. It pairs the two items of a mutual.
	MutualReplication string
}

// DefaultIndexes returns the index names used by the reference table definition.
func DefaultIndexes() Indexes {
	return Indexes{
		EntityReplication: "entity-replication",
		MutualReplication: "mutual-replication",
	}
}

// EntityRepository implements ports.EntityRepository on the single table
type EntityRepository struct {
	table    table.Table
	registry *registry.Registry
	indexes  Indexes
	logger   *zap.Logger
	now      func() time.Time
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(t table.Table, reg *registry.Registry, indexes Indexes, logger *zap.Logger) *EntityRepository {
	return &EntityRepository{
		table:    t,
		registry: reg,
		indexes:  indexes,
		logger:   logger,
		now:      utils.Now,
	}
}

// Compile-time interface check
var _ ports.EntityRepository = (*EntityRepository)(nil)

type uniqueValue struct {
	Field string
	Value string
}

// CreateEntity writes the metadata item and one uniqueness item per configured
// unique field in a single transaction.
func (r *EntityRepository) CreateEntity(ctx context.Context, entityType string, data map[string]interface{}, opts ports.CreateEntityOptions) (*entity.Entity, error) {
	id := opts.EntityID
	if id == "" {
		var err error
		if id, err = entity.NewID(); err != nil {
			return nil, appErrors.NewInternalError("failed to generate entity id").WithCause(err)
		}
	}

	now := r.now()
	if opts.CreatedAt != nil {
		now = opts.CreatedAt.UTC().Truncate(time.Millisecond)
	}

	e := &entity.Entity{
		EntityType: entityType,
		EntityID:   id,
		Data:       maps.Clone(nonNil(data)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	item := newEntityItem(e)
	if opts.ExpiresIn > 0 {
		item.ExpiresAt = now.Add(opts.ExpiresIn).Unix()
	}
	av, err := marshalItem(item)
	if err != nil {
		return nil, appErrors.NewInternalError("failed to build entity item").WithCause(err)
	}

	ops := []table.Op{table.PutOp(av, table.IfNotExists())}
	unique := r.uniqueValues(entityType, e.Data)
	uniqueAt := make(map[int]string, len(unique))
	for _, u := range unique {
		uav, err := marshalItem(newUniqueItem(u.Field, u.Value, e))
		if err != nil {
			return nil, appErrors.NewInternalError("failed to build unique item").WithCause(err)
		}
		uniqueAt[len(ops)] = u.Field
		ops = append(ops, table.PutOp(uav, table.IfNotExists()))
	}

	if err := r.table.TransactWrite(ctx, ops); err != nil {
		return nil, writeConflict(err, uniqueAt, func() error {
			return appErrors.NewAlreadyExistsError("Entity already exists").WithCode(appErrors.CodeEntityExists)
		})
	}

	r.logger.Debug("Entity created",
		zap.String("entityType", entityType),
		zap.String("entityID", id),
		zap.Int("uniqueItems", len(unique)),
	)
	return e, nil
}

// GetEntity reads the metadata item of an entity.
func (r *EntityRepository) GetEntity(ctx context.Context, entityType, entityID string) (*entity.Entity, error) {
	item, err := r.table.Get(ctx, keys.Entity(entityType, entityID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, appErrors.NewNotFoundError("Entity item empty").WithCode(appErrors.CodeEntityNotFound)
	}

	parsed, err := unmarshalItem[EntityItem](item)
	if err != nil {
		return nil, appErrors.NewInternalError("failed to parse entity item").WithCause(err)
	}
	return parsed.toEntity(), nil
}

// GetEntityByUniqueField resolves a unique value to its entity.
func (r *EntityRepository) GetEntityByUniqueField(ctx context.Context, entityType, field, value string) (*entity.Entity, error) {
	item, err := r.table.Get(ctx, keys.Unique(field, entityType, normalizeUnique(field, value)))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, appErrors.NewNotFoundError("Entity item empty").WithCode(appErrors.CodeEntityNotFound)
	}

	parsed, err := unmarshalItem[UniqueItem](item)
	if err != nil {
		return nil, appErrors.NewInternalError("failed to parse unique item").WithCause(err)
	}
	return r.GetEntity(ctx, entityType, parsed.EntityID)
}

// GetFieldAvailability fails when value is already reserved for field.
func (r *EntityRepository) GetFieldAvailability(ctx context.Context, entityType, field, value string) error {
	if !r.isUnique(entityType, field) {
		return appErrors.NewValidationError(fmt.Sprintf("%s is not a unique field of %s", field, entityType))
	}

	item, err := r.table.Get(ctx, keys.Unique(field, entityType, normalizeUnique(field, value)), keys.AttrPK)
	if err != nil {
		return err
	}
	if item != nil {
		return uniqueTaken(field)
	}
	return nil
}

// UpdateEntity merges data into the stored data at the top level. Keys absent
// from data keep their value. Changed unique values move their uniqueness items
// in the same transaction.
func (r *EntityRepository) UpdateEntity(ctx context.Context, entityType, entityID string, data map[string]interface{}) (*entity.Entity, error) {
	if err := validateFieldNames(data); err != nil {
		return nil, err
	}

	now := r.now()
	set := make([]table.Assignment, 0, len(data)+1)
	for _, name := range sortedKeys(data) {
		a, err := table.Set(data[name], attrData, name)
		if err != nil {
			return nil, appErrors.NewValidationError(fmt.Sprintf("invalid value for %s", name)).WithCause(err)
		}
		set = append(set, a)
	}
	stamp, _ := table.Set(utils.FormatTimestamp(now), attrUpdatedAt)
	set = append(set, stamp)

	key := keys.Entity(entityType, entityID)
	ops := []table.Op{table.UpdateOp(key, table.IfExists(), set...)}

	uniqueAt := map[int]string{}
	if r.touchesUnique(entityType, data) {
		current, err := r.GetEntity(ctx, entityType, entityID)
		if err != nil {
			return nil, notFoundOnUpdate(err)
		}
		moved := current.Clone()
		moved.Data = entity.MergeData(current.Data, data)
		moved.UpdatedAt = now

		before := indexUnique(r.uniqueValues(entityType, current.Data))
		after := indexUnique(r.uniqueValues(entityType, moved.Data))
		for _, field := range r.uniqueFields(entityType) {
			if before[field] == after[field] {
				continue
			}
			if old := before[field]; old != "" {
				ops = append(ops, table.DeleteOp(keys.Unique(field, entityType, old), table.Condition{}))
			}
			if next := after[field]; next != "" {
				uav, err := marshalItem(newUniqueItem(field, next, moved))
				if err != nil {
					return nil, appErrors.NewInternalError("failed to build unique item").WithCause(err)
				}
				uniqueAt[len(ops)] = field
				ops = append(ops, table.PutOp(uav, table.IfNotExists()))
			}
		}
	}

	if err := r.table.TransactWrite(ctx, ops); err != nil {
		return nil, writeConflict(err, uniqueAt, func() error {
			return appErrors.NewNotFoundError("Entity not found").WithCode(appErrors.CodeEntityNotFound)
		})
	}

	r.logger.Debug("Entity updated",
		zap.String("entityType", entityType),
		zap.String("entityID", entityID),
		zap.Int("fields", len(data)),
	)
	return r.GetEntity(ctx, entityType, entityID)
}

// UpsertEntity creates the entity with the given id or merges data into it.
func (r *EntityRepository) UpsertEntity(ctx context.Context, entityType, entityID string, data map[string]interface{}) (*entity.Entity, error) {
	_, err := r.GetEntity(ctx, entityType, entityID)
	switch {
	case appErrors.IsNotFound(err):
		created, err := r.CreateEntity(ctx, entityType, data, ports.CreateEntityOptions{EntityID: entityID})
		if err == nil || !appErrors.HasCode(err, appErrors.CodeEntityExists) {
			return created, err
		}
		// Lost a race with a concurrent create. Merge instead.
	case err != nil:
		return nil, err
	}
	return r.UpdateEntity(ctx, entityType, entityID, data)
}

// DeleteEntity removes the metadata item and the entity's uniqueness items and
// returns the entity as it was before deletion.
func (r *EntityRepository) DeleteEntity(ctx context.Context, entityType, entityID string) (*entity.Entity, error) {
	current, err := r.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, notFoundOnUpdate(err)
	}

	ops := []table.Op{table.DeleteOp(keys.Entity(entityType, entityID), table.IfExists())}
	for _, u := range r.uniqueValues(entityType, current.Data) {
		ops = append(ops, table.DeleteOp(keys.Unique(u.Field, entityType, u.Value), table.Condition{}))
	}

	if err := r.table.TransactWrite(ctx, ops); err != nil {
		return nil, writeConflict(err, nil, func() error {
			return appErrors.NewNotFoundError("Entity not found").WithCode(appErrors.CodeEntityNotFound)
		})
	}

	r.logger.Debug("Entity deleted",
		zap.String("entityType", entityType),
		zap.String("entityID", entityID),
	)
	return current, nil
}

// ListEntities pages through the list index of a type in id order.
func (r *EntityRepository) ListEntities(ctx context.Context, entityType string, opts ports.ListOptions) (*ports.EntityList, error) {
	if err := validateFieldNames(setOf(opts.Projection)); err != nil {
		return nil, err
	}

	q := table.Query{
		Index:          r.indexes.EntityReplication,
		PartitionAttr:  keys.AttrR1PK,
		PartitionValue: keys.List(entityType).PK,
		SortAttr:       keys.AttrR1SK,
		Limit:          opts.Limit,
	}
	if opts.Start != "" || opts.End != "" {
		q.Between = &table.Range{Start: orDefault(opts.Start, minSortKey), End: orDefault(opts.End, maxSortKey)}
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

	entities, err := r.fetchEntities(ctx, page.Items, opts.Projection)
	if err != nil {
		return nil, err
	}

	result := &ports.EntityList{Items: entities, TotalCount: len(entities)}
	if len(page.LastKey) > 0 {
		if result.LastKey, err = table.EncodeCursor(page.LastKey); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// QueryEntities reads every entity of the type and keeps those whose searchable
// fields match query as a case-insensitive regular expression. An invalid
// expression matches nothing and an empty one matches everything.
func (r *EntityRepository) QueryEntities(ctx context.Context, entityType, query string) (*ports.EntityQueryResult, error) {
	var all []*entity.Entity
	opts := ports.ListOptions{}
	for {
		page, err := r.ListEntities(ctx, entityType, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.LastKey == "" {
			break
		}
		opts.LastKey = page.LastKey
	}

	result := &ports.EntityQueryResult{TotalCount: len(all), Items: []*entity.Entity{}}
	pattern, err := regexp.Compile("(?i)" + query)
	if err != nil {
		r.logger.Debug("Invalid search pattern", zap.String("query", query), zap.Error(err))
		return result, nil
	}

	fields := r.searchableFields(entityType)
	for _, e := range all {
		if query == "" || matches(pattern, e.Data, fields) {
			result.Items = append(result.Items, e)
		}
	}
	result.FilteredCount = len(result.Items)
	return result, nil
}

func (r *EntityRepository) fetchEntities(ctx context.Context, listed []table.Item, projection []string) ([]*entity.Entity, error) {
	entities := make([]*entity.Entity, 0, len(listed))
	if len(listed) == 0 {
		return entities, nil
	}

	order := make(map[keys.Key]int, len(listed))
	ks := make([]keys.Key, len(listed))
	for i, item := range listed {
		ks[i] = table.KeyOf(item)
		order[ks[i]] = i
	}

	var attrs []string
	if len(projection) > 0 {
		attrs = []string{keys.AttrPK, keys.AttrSK, "entityType", "entityId", "createdAt", attrUpdatedAt}
		for _, field := range projection {
			attrs = append(attrs, attrData+"."+field)
		}
	}

	items, err := r.table.BatchGet(ctx, ks, attrs...)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return order[table.KeyOf(items[i])] < order[table.KeyOf(items[j])]
	})

	for _, item := range items {
		parsed, err := unmarshalItem[EntityItem](item)
		if err != nil {
			return nil, appErrors.NewInternalError("failed to parse entity item").WithCause(err)
		}
		entities = append(entities, parsed.toEntity())
	}
	return entities, nil
}

func (r *EntityRepository) uniqueFields(entityType string) []string {
	cfg, ok := r.registry.Get(entityType)
	if !ok {
		return nil
	}
	return cfg.UniqueFields
}

func (r *EntityRepository) isUnique(entityType, field string) bool {
	for _, f := range r.uniqueFields(entityType) {
		if f == field {
			return true
		}
	}
	return false
}

func (r *EntityRepository) touchesUnique(entityType string, data map[string]interface{}) bool {
	for _, f := range r.uniqueFields(entityType) {
		if _, ok := data[f]; ok {
			return true
		}
	}
	return false
}

// uniqueValues returns the non-empty string values of the unique fields in data.
func (r *EntityRepository) uniqueValues(entityType string, data map[string]interface{}) []uniqueValue {
	var out []uniqueValue
	for _, field := range r.uniqueFields(entityType) {
		s, ok := data[field].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, uniqueValue{Field: field, Value: normalizeUnique(field, s)})
	}
	return out
}

func (r *EntityRepository) searchableFields(entityType string) []string {
	if cfg, ok := r.registry.Get(entityType); ok {
		return cfg.SearchableFields
	}
	return nil
}

func indexUnique(values []uniqueValue) map[string]string {
	out := make(map[string]string, len(values))
	for _, u := range values {
		out[u.Field] = u.Value
	}
	return out
}

// normalizeUnique makes email uniqueness case-insensitive.
func normalizeUnique(field, value string) string {
	if field == "email" {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return value
}

// matches checks the searchable fields, or every scalar field when none are configured.
func matches(pattern *regexp.Regexp, data map[string]interface{}, fields []string) bool {
	if len(fields) == 0 {
		fields = sortedKeys(data)
	}
	for _, f := range fields {
		v, ok := data[f]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			continue
		}
		if pattern.MatchString(fmt.Sprint(v)) {
			return true
		}
	}
	return false
}

// writeConflict turns a conditional check failure into a domain error. The first
// failed operation decides: a uniqueness put maps to "<Field> already exists",
// anything else to primary().
func writeConflict(err error, uniqueAt map[int]string, primary func() error) error {
	failed := appErrors.FailedOperations(err)
	if len(failed) == 0 {
		return err
	}
	if field, ok := uniqueAt[failed[0]]; ok {
		return uniqueTaken(field)
	}
	return primary()
}

func uniqueTaken(field string) error {
	label := strings.ToUpper(field[:1]) + field[1:]
	return appErrors.NewAlreadyExistsError(label + " already exists").
		WithCode(strings.ToUpper(field) + "_EXISTS")
}

func notFoundOnUpdate(err error) error {
	if appErrors.IsNotFound(err) {
		return appErrors.NewNotFoundError("Entity not found").WithCode(appErrors.CodeEntityNotFound)
	}
	return err
}

// validateFieldNames restricts updates and projections to top-level data fields.
func validateFieldNames(data map[string]interface{}) error {
	for name := range data {
		if name == "" || strings.ContainsAny(name, ".[") {
			return appErrors.NewValidationError(fmt.Sprintf("invalid field name %q", name))
		}
	}
	return nil
}

func setOf(names []string) map[string]interface{} {
	out := make(map[string]interface{}, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
