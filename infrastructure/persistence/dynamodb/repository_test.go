package dynamodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/infrastructure/persistence/memory"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/tests/fixtures"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type repos struct {
	table    *memory.Table
	entities *EntityRepository
	mutuals  *MutualRepository
	tags     *TagRepository
	replicas *ReplicaRepository
	clock    *testClock
}

func newRepos(t *testing.T) *repos {
	t.Helper()
	logger := zap.NewNop()
	reg := fixtures.Registry()
	tbl := fixtures.NewTable()
	clock := &testClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

	entities := NewEntityRepository(tbl, reg, DefaultIndexes(), logger)
	entities.now = clock.now
	mutuals := NewMutualRepository(tbl, entities, reg, logger)
	mutuals.now = clock.now

	return &repos{
		table:    tbl,
		entities: entities,
		mutuals:  mutuals,
		tags:     NewTagRepository(tbl, logger),
		replicas: NewReplicaRepository(tbl, DefaultIndexes(), logger),
		clock:    clock,
	}
}

func (r *repos) create(t *testing.T, entityType, id string, data map[string]interface{}) *entity.Entity {
	t.Helper()
	e, err := r.entities.CreateEntity(context.Background(), entityType, data, ports.CreateEntityOptions{EntityID: id})
	require.NoError(t, err)
	return e
}

func TestCreateEntity_ThenGetReturnsSameData(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	data := map[string]interface{}{"title": "Go", "hours": float64(12), "tags": []interface{}{"a", "b"}}

	// Act
	created, err := r.entities.CreateEntity(ctx, "course", data, ports.CreateEntityOptions{})
	require.NoError(t, err)
	got, err := r.entities.GetEntity(ctx, "course", created.EntityID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	assert.NotEmpty(t, created.EntityID)
}

func TestCreateEntity_ExpiresInSetsTTL(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	created, err := r.entities.CreateEntity(ctx, "course", map[string]interface{}{}, ports.CreateEntityOptions{EntityID: "c1", ExpiresIn: time.Hour})
	require.NoError(t, err)

	item, err := r.table.Get(ctx, keys.Entity("course", "c1"), "expiresAt")
	require.NoError(t, err)
	parsed, err := unmarshalItem[EntityItem](item)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt.Add(time.Hour).Unix(), parsed.ExpiresAt)
}

func TestCreateEntity_DuplicateEmailIsRejectedAtomically(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "learner", "l1", map[string]interface{}{"email": "Ada@example.com"})
	itemsBefore := r.table.Len()

	// Act
	_, err := r.entities.CreateEntity(ctx, "learner", map[string]interface{}{"email": "ada@EXAMPLE.com "}, ports.CreateEntityOptions{})

	// Assert
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.CodeEmailExists))
	assert.Equal(t, "Email already exists", appErrors.GetAppError(err).Message)
	assert.Equal(t, itemsBefore, r.table.Len())
}

func TestCreateEntity_PinnedIDTwiceIsEntityExists(t *testing.T) {
	r := newRepos(t)
	r.create(t, "course", "c1", map[string]interface{}{"title": "a"})

	writesBefore := r.table.Writes()

	_, err := r.entities.CreateEntity(context.Background(), "course", map[string]interface{}{"title": "b"}, ports.CreateEntityOptions{EntityID: "c1"})

	assert.True(t, appErrors.HasCode(err, appErrors.CodeEntityExists))
	assert.Equal(t, writesBefore, r.table.Writes())
	stored, err := r.entities.GetEntity(context.Background(), "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "a"}, stored.Data)
}

func TestGetEntity_MissingIsEntityItemEmpty(t *testing.T) {
	r := newRepos(t)

	_, err := r.entities.GetEntity(context.Background(), "course", "nope")

	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
	assert.Equal(t, "Entity item empty", appErrors.GetAppError(err).Message)
}

func TestUniqueFieldLookups(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	require.NoError(t, r.entities.GetFieldAvailability(ctx, "learner", "email", "ada@example.com"))
	r.create(t, "learner", "l1", map[string]interface{}{"email": "ada@example.com", "name": "Ada"})

	err := r.entities.GetFieldAvailability(ctx, "learner", "email", "ADA@example.com")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeEmailExists))

	got, err := r.entities.GetEntityByUniqueField(ctx, "learner", "email", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "l1", got.EntityID)

	err = r.entities.GetFieldAvailability(ctx, "learner", "name", "Ada")
	assert.True(t, appErrors.IsValidation(err))
}

func TestUpdateEntity_MergesTopLevelFields(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	created := r.create(t, "course", "c1", map[string]interface{}{"title": "Go", "level": "basic"})

	// Act
	updated, err := r.entities.UpdateEntity(ctx, "course", "c1", map[string]interface{}{"level": "advanced", "hours": float64(3)})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "Go", "level": "advanced", "hours": float64(3)}, updated.Data)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
}

func TestUpdateEntity_MissingEntityCreatesNothing(t *testing.T) {
	r := newRepos(t)

	_, err := r.entities.UpdateEntity(context.Background(), "course", "ghost", map[string]interface{}{"title": "x"})

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.CodeEntityNotFound))
	assert.Equal(t, "Entity not found", appErrors.GetAppError(err).Message)
	assert.Equal(t, 0, r.table.Len())
}

func TestUpdateEntity_RejectsNestedFieldNames(t *testing.T) {
	r := newRepos(t)
	r.create(t, "course", "c1", nil)

	_, err := r.entities.UpdateEntity(context.Background(), "course", "c1", map[string]interface{}{"a.b": 1})

	assert.True(t, appErrors.IsValidation(err))
}

func TestUpdateEntity_MovesUniqueValue(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "learner", "l1", map[string]interface{}{"email": "old@example.com"})
	r.create(t, "learner", "l2", map[string]interface{}{"email": "taken@example.com"})

	// Act
	_, err := r.entities.UpdateEntity(ctx, "learner", "l1", map[string]interface{}{"email": "new@example.com"})
	require.NoError(t, err)
	_, conflict := r.entities.UpdateEntity(ctx, "learner", "l1", map[string]interface{}{"email": "taken@example.com"})

	// Assert
	assert.NoError(t, r.entities.GetFieldAvailability(ctx, "learner", "email", "old@example.com"))
	assert.Error(t, r.entities.GetFieldAvailability(ctx, "learner", "email", "new@example.com"))
	assert.True(t, appErrors.HasCode(conflict, appErrors.CodeEmailExists))
	got, err := r.entities.GetEntity(ctx, "learner", "l1")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Data["email"])
}

func TestUpsertEntity(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()

	created, err := r.entities.UpsertEntity(ctx, "course", "c1", map[string]interface{}{"title": "a"})
	require.NoError(t, err)
	assert.Equal(t, "c1", created.EntityID)

	merged, err := r.entities.UpsertEntity(ctx, "course", "c1", map[string]interface{}{"level": "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "a", "level": "b"}, merged.Data)
}

func TestDeleteEntity_RemovesUniqueItems(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "learner", "l1", map[string]interface{}{"email": "ada@example.com"})

	deleted, err := r.entities.DeleteEntity(ctx, "learner", "l1")

	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", deleted.Data["email"])
	assert.Equal(t, 0, r.table.Len())

	_, err = r.entities.DeleteEntity(ctx, "learner", "l1")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeEntityNotFound))
}

func TestListEntities_PagesInIDOrder(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	for i := 5; i >= 1; i-- {
		r.create(t, "course", fmt.Sprintf("c%d", i), map[string]interface{}{"title": fmt.Sprintf("t%d", i)})
	}
	r.create(t, "module", "m1", nil)

	// Act
	var ids []string
	opts := ports.ListOptions{Limit: 2}
	pages := 0
	for {
		page, err := r.entities.ListEntities(ctx, "course", opts)
		require.NoError(t, err)
		assert.Equal(t, len(page.Items), page.TotalCount)
		for _, e := range page.Items {
			ids = append(ids, e.EntityID)
		}
		pages++
		if page.LastKey == "" {
			break
		}
		opts.LastKey = page.LastKey
	}

	// Assert
	assert.Equal(t, []string{"c1", "c2", "c3", "c4", "c5"}, ids)
	assert.Equal(t, 3, pages)
}

func TestListEntities_BetweenIsInclusiveAndProjects(t *testing.T) {
	r := newRepos(t)
	for i := 1; i <= 4; i++ {
		r.create(t, "course", fmt.Sprintf("c%d", i), map[string]interface{}{"title": "t", "level": "x"})
	}

	page, err := r.entities.ListEntities(context.Background(), "course", ports.ListOptions{
		Start:      "c2",
		End:        "c3",
		Projection: []string{"title"},
	})

	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c2", page.Items[0].EntityID)
	assert.Equal(t, "c3", page.Items[1].EntityID)
	assert.Equal(t, map[string]interface{}{"title": "t"}, page.Items[0].Data)
	assert.Empty(t, page.LastKey)
}

func TestListEntities_InvalidCursor(t *testing.T) {
	r := newRepos(t)

	_, err := r.entities.ListEntities(context.Background(), "course", ports.ListOptions{LastKey: "%%%"})

	assert.True(t, appErrors.IsValidation(err))
}

func TestQueryEntities(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "learner", "l1", map[string]interface{}{"name": "Ada Lovelace", "email": "ada@example.com"})
	r.create(t, "learner", "l2", map[string]interface{}{"name": "Alan Turing", "email": "alan@example.com"})
	r.create(t, "learner", "l3", map[string]interface{}{"name": "Grace", "email": "grace@example.com", "note": "ada"})

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"case insensitive", "ADA", []string{"l1"}},
		{"regex", "^a", []string{"l1", "l2"}},
		{"empty matches all", "", []string{"l1", "l2", "l3"}},
		{"invalid regex matches nothing", "+", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.entities.QueryEntities(ctx, "learner", tt.query)
			require.NoError(t, err)

			var ids []string
			for _, e := range result.Items {
				ids = append(ids, e.EntityID)
			}
			assert.Equal(t, tt.expected, ids)
			assert.Equal(t, 3, result.TotalCount)
			assert.Equal(t, len(tt.expected), result.FilteredCount)
		})
	}
}

func TestCreateMutual_WritesMirroredItems(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", map[string]interface{}{"title": "Course"})
	r.create(t, "module", "m1", map[string]interface{}{"title": "Module"})

	// Act
	m, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(0)}, ports.MutualWriteOptions{})
	require.NoError(t, err)

	// Assert
	forward, err := r.mutuals.GetMutual(ctx, "course", "c1", "module", "m1")
	require.NoError(t, err)
	reverse, err := r.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)

	assert.Equal(t, m.MutualID, forward.MutualID)
	assert.Equal(t, forward.MutualID, reverse.MutualID)
	assert.Equal(t, map[string]interface{}{"title": "Module"}, forward.Data)
	assert.Equal(t, map[string]interface{}{"title": "Course"}, reverse.Data)
	assert.Equal(t, forward.MutualData, reverse.MutualData)
}

func TestCreateMutual_Failures(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	r.create(t, "module", "m1", nil)
	_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", nil, ports.MutualWriteOptions{})
	require.NoError(t, err)
	itemsBefore := r.table.Len()

	_, err = r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", nil, ports.MutualWriteOptions{})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeMutualExists))

	_, err = r.mutuals.CreateMutual(ctx, "course", "c1", "module", "ghost", nil, ports.MutualWriteOptions{})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeEntityIsUndefined))

	_, err = r.mutuals.CreateMutual(ctx, "course", "c1", "course", "c1", nil, ports.MutualWriteOptions{})
	assert.True(t, appErrors.IsValidation(err))

	assert.Equal(t, itemsBefore, r.table.Len())
}

func TestUpdateMutual_LatestWins(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	r.create(t, "module", "m1", nil)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(0)}, ports.MutualWriteOptions{Since: &base})
	require.NoError(t, err)

	newer := base.Add(time.Second)
	older := base.Add(-time.Second)

	// Act
	_, err = r.mutuals.UpdateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(2)}, ports.MutualWriteOptions{Since: &newer})
	require.NoError(t, err)
	_, staleErr := r.mutuals.UpdateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(9)}, ports.MutualWriteOptions{Since: &older})
	_, replayErr := r.mutuals.UpdateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(9)}, ports.MutualWriteOptions{Since: &newer})

	// Assert
	assert.ErrorIs(t, staleErr, ports.ErrStaleWrite)
	assert.ErrorIs(t, replayErr, ports.ErrStaleWrite)
	forward, err := r.mutuals.GetMutual(ctx, "course", "c1", "module", "m1")
	require.NoError(t, err)
	reverse, err := r.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), forward.MutualData["index"])
	assert.Equal(t, float64(2), reverse.MutualData["index"])
	assert.Equal(t, newer, forward.MutualUpdatedAt)
	assert.Equal(t, newer, reverse.MutualUpdatedAt)
}

func TestEditMutual_MergesIntoBothItems(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	r.create(t, "module", "m1", nil)
	_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(0)}, ports.MutualWriteOptions{})
	require.NoError(t, err)

	edited, err := r.mutuals.EditMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"note": "intro"})
	require.NoError(t, err)

	reverse, err := r.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	expected := map[string]interface{}{"index": float64(0), "note": "intro"}
	assert.Equal(t, expected, edited.MutualData)
	assert.Equal(t, expected, reverse.MutualData)
}

func TestUpdateMutual_RebuildsMissingReverse(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", map[string]interface{}{"title": "Course"})
	r.create(t, "module", "m1", nil)
	_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", nil, ports.MutualWriteOptions{})
	require.NoError(t, err)
	require.NoError(t, r.table.Write(ctx, table.DeleteOp(keys.Mutual("module", "m1", "course", "c1"), table.Condition{})))

	_, err = r.mutuals.UpdateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(1)}, ports.MutualWriteOptions{})
	require.NoError(t, err)

	reverse, err := r.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "Course"}, reverse.Data)
	assert.Equal(t, float64(1), reverse.MutualData["index"])
}

func TestDeleteMutual(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	r.create(t, "module", "m1", nil)
	_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", nil, ports.MutualWriteOptions{})
	require.NoError(t, err)

	_, err = r.mutuals.DeleteMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)

	assert.Equal(t, 2, r.table.Len())
	_, err = r.mutuals.GetMutual(ctx, "course", "c1", "module", "m1")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeMutualNotFound))
	_, err = r.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeMutualNotFound))

	writesBefore := r.table.Writes()
	_, err = r.mutuals.DeleteMutual(ctx, "course", "c1", "module", "m1")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeMutualNotFound))
	assert.Equal(t, writesBefore, r.table.Writes())
	assert.Equal(t, 2, r.table.Len())
}

func TestListEntitiesByEntity_PagesAndSkipsOtherTypes(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("m%d", i)
		r.create(t, "module", id, map[string]interface{}{"title": id})
		_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", id, nil, ports.MutualWriteOptions{})
		require.NoError(t, err)
	}
	r.create(t, "chapter", "x1", nil)
	_, err := r.mutuals.CreateMutual(ctx, "course", "c1", "chapter", "x1", nil, ports.MutualWriteOptions{})
	require.NoError(t, err)

	// Act
	first, err := r.mutuals.ListEntitiesByEntity(ctx, "course", "c1", "module", ports.MutualListOptions{Limit: 2})
	require.NoError(t, err)
	second, err := r.mutuals.ListEntitiesByEntity(ctx, "course", "c1", "module", ports.MutualListOptions{Limit: 2, LastKey: first.LastKey})
	require.NoError(t, err)

	// Assert
	require.Len(t, first.Items, 2)
	assert.Equal(t, "m1", first.Items[0].EntityID)
	assert.Equal(t, "m2", first.Items[1].EntityID)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "m3", second.Items[0].EntityID)
	assert.Empty(t, second.LastKey)
}

func TestListEntitiesByEntity_ChainQuery(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	r.create(t, "module", "m1", nil)
	r.create(t, "module", "m2", nil)
	r.create(t, "chapter", "x1", nil)
	r.create(t, "chapter", "x2", nil)
	for _, pair := range [][4]string{
		{"course", "c1", "module", "m1"},
		{"course", "c1", "module", "m2"},
		{"module", "m1", "chapter", "x1"},
		{"module", "m2", "chapter", "x1"},
		{"module", "m2", "chapter", "x2"},
	} {
		_, err := r.mutuals.CreateMutual(ctx, pair[0], pair[1], pair[2], pair[3], nil, ports.MutualWriteOptions{})
		require.NoError(t, err)
	}

	result, err := r.mutuals.ListEntitiesByEntity(ctx, "course", "c1", "chapter", ports.MutualListOptions{ChainQuery: "module"})
	require.NoError(t, err)

	var ids []string
	for _, m := range result.Items {
		ids = append(ids, m.EntityID)
	}
	assert.ElementsMatch(t, []string{"x1", "x2"}, ids)

	_, err = r.mutuals.ListEntitiesByEntity(ctx, "module", "m1", "video", ports.MutualListOptions{ChainQuery: "chapter"})
	assert.True(t, appErrors.IsValidation(err))
}

func TestReplicateEntity_RefreshesEmbeddedCopies(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "module", "m1", nil)
	r.create(t, "chapter", "x1", map[string]interface{}{"title": "old"})
	_, err := r.mutuals.CreateMutual(ctx, "module", "m1", "chapter", "x1", nil, ports.MutualWriteOptions{})
	require.NoError(t, err)
	updated, err := r.entities.UpdateEntity(ctx, "chapter", "x1", map[string]interface{}{"title": "new"})
	require.NoError(t, err)

	// Act
	written, err := r.replicas.ReplicateEntity(ctx, updated)
	require.NoError(t, err)
	replayed, err := r.replicas.ReplicateEntity(ctx, updated)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, written)
	assert.Equal(t, 0, replayed)
	m, err := r.mutuals.GetMutual(ctx, "module", "m1", "chapter", "x1")
	require.NoError(t, err)
	assert.Equal(t, "new", m.Data["title"])
}

func TestReplicateMutual_CopiesToMirror(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	r.create(t, "course", "c1", nil)
	r.create(t, "module", "m1", nil)
	m, err := r.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": float64(0)}, ports.MutualWriteOptions{})
	require.NoError(t, err)

	m.MutualData = map[string]interface{}{"index": float64(4)}
	m.MutualUpdatedAt = m.MutualUpdatedAt.Add(time.Second)
	written, err := r.replicas.ReplicateMutual(ctx, m)

	require.NoError(t, err)
	assert.Equal(t, 1, written)
	reverse, err := r.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(4), reverse.MutualData["index"])
}

func TestTags_PutListDelete(t *testing.T) {
	// Arrange
	r := newRepos(t)
	ctx := context.Background()
	videos := []*entity.Entity{
		r.create(t, "video", "v1", map[string]interface{}{"title": "one"}),
		r.create(t, "video", "v2", map[string]interface{}{"title": "two"}),
		r.create(t, "video", "v3", map[string]interface{}{"title": "three"}),
	}
	dates := []string{"2024-01-01", "2024-02-01", "2024-03-01"}

	// Act
	for i, v := range videos {
		require.NoError(t, r.tags.PutTag(ctx, v, "published", entity.Tag{Group: "go", SortValue: dates[i]}))
	}
	ranged, err := r.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "go", Start: "2024-01-15", End: "2024-02-01"})
	require.NoError(t, err)
	markers, err := r.tags.ListEntityTags(ctx, "video", "v2", "published")
	require.NoError(t, err)
	require.NoError(t, r.tags.DeleteTag(ctx, "video", "v2", "published", markers[0].Tag))
	all, err := r.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "go"})
	require.NoError(t, err)

	// Assert
	require.Len(t, ranged.Items, 1)
	assert.Equal(t, "v2", ranged.Items[0].EntityID)
	assert.Equal(t, "two", ranged.Items[0].Data["title"])
	assert.Equal(t, []ports.TagMarker{{TagName: "published", Tag: entity.Tag{Group: "go", SortValue: "2024-02-01"}}}, markers)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "v1", all.Items[0].EntityID)
	assert.Equal(t, "v3", all.Items[1].EntityID)
}

func TestPutTag_OlderEntityVersionIsStale(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	v := r.create(t, "video", "v1", map[string]interface{}{"title": "one"})
	tag := entity.Tag{SortValue: "2024"}
	require.NoError(t, r.tags.PutTag(ctx, v, "published", tag))

	older := v.Clone()
	older.UpdatedAt = v.UpdatedAt.Add(-time.Minute)
	err := r.tags.PutTag(ctx, older, "published", tag)

	assert.ErrorIs(t, err, ports.ErrStaleWrite)
}
