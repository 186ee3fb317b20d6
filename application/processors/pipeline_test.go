package processors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/infrastructure/cache"
	"github.com/monorist/monorise/infrastructure/messaging/memory"
	"github.com/monorist/monorise/infrastructure/persistence/dynamodb"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/tests/fixtures"
)

// pipeline wires every event processor to an in-memory bus over an in-memory table.
type pipeline struct {
	bus      *memory.Bus
	entities *services.EntityService
	mutuals  *dynamodb.MutualRepository
	tags     *dynamodb.TagRepository
	cache    *cache.MemoryCache
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := zap.NewNop()
	reg := fixtures.Registry()
	tbl := fixtures.NewTable()
	bus := memory.NewBus(logger)

	entityRepo := dynamodb.NewEntityRepository(tbl, reg, dynamodb.DefaultIndexes(), logger)
	mutualRepo := dynamodb.NewMutualRepository(tbl, entityRepo, reg, logger)
	tagRepo := dynamodb.NewTagRepository(tbl, logger)
	hopCache := cache.NewMemoryCache(time.Minute)

	entityService := services.NewEntityService(reg, entityRepo, bus, logger)
	fieldSync := services.NewMutualFieldSync(reg, mutualRepo, logger)

	createEntity := NewCreateEntityProcessor(entityService, logger)
	mutual := NewMutualProcessor(fieldSync, bus, logger)
	tag := NewTagProcessor(reg, entityRepo, tagRepo, logger)
	prejoin := NewPrejoinProcessor(reg, mutualRepo, fieldSync, hopCache, logger)

	bus.Subscribe(events.CreateEntity, createEntity.Handle)
	bus.Subscribe(events.EntityMutualToCreate, mutual.Handle)
	bus.Subscribe(events.EntityMutualToUpdate, mutual.Handle)
	for _, detailType := range []string{events.EntityCreated, events.EntityUpdated, events.EntityDeleted} {
		bus.Subscribe(detailType, tag.Handle)
	}
	bus.Subscribe(events.EntityMutualProcessed, prejoin.Handle)
	bus.Subscribe(events.PrejoinRelationshipSync, prejoin.Handle)

	return &pipeline{
		bus:      bus,
		entities: entityService,
		mutuals:  mutualRepo,
		tags:     tagRepo,
		cache:    hopCache,
	}
}

func (p *pipeline) create(t *testing.T, entityType, id string, payload map[string]interface{}) {
	t.Helper()
	_, err := p.entities.CreateEntity(context.Background(), entityType, payload, services.CreateOptions{EntityID: id})
	require.NoError(t, err)
}

func (p *pipeline) update(t *testing.T, entityType, id string, payload map[string]interface{}) {
	t.Helper()
	// Latest-wins compares millisecond timestamps.
	time.Sleep(2 * time.Millisecond)
	_, err := p.entities.UpdateEntity(context.Background(), entityType, id, payload, "")
	require.NoError(t, err)
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, p.bus.Drain(context.Background()))
}

func (p *pipeline) related(t *testing.T, byType, byID, entityType string) []*entity.Mutual {
	t.Helper()
	ms, err := p.mutuals.ListAllEntitiesByEntity(context.Background(), byType, byID, entityType)
	require.NoError(t, err)
	sortMutualsByIndex(ms)
	return ms
}

func sortMutualsByIndex(ms []*entity.Mutual) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0; j-- {
			a, _ := indexOf(ms[j-1].MutualData)
			b, _ := indexOf(ms[j].MutualData)
			if a <= b {
				break
			}
			ms[j-1], ms[j] = ms[j], ms[j-1]
		}
	}
}

func ids(ms []*entity.Mutual) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.EntityID)
	}
	return out
}

func TestPipeline_CourseChaptersFollowModules(t *testing.T) {
	// Arrange
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	for _, id := range []string{"m1", "m2"} {
		p.create(t, "module", id, map[string]interface{}{"title": id})
	}
	for _, id := range []string{"x1", "x2", "x3"} {
		p.create(t, "chapter", id, map[string]interface{}{"title": id})
	}
	p.drain(t)

	// Act
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x2", "x1"}})
	p.update(t, "module", "m2", map[string]interface{}{"chapters": []interface{}{"x3"}})
	p.update(t, "course", "c1", map[string]interface{}{"modules": []interface{}{"m2", "m1"}})
	p.drain(t)

	// Assert
	assert.Equal(t, []string{"m2", "m1"}, ids(p.related(t, "course", "c1", "module")))
	chapters := p.related(t, "course", "c1", "chapter")
	assert.Equal(t, []string{"x3", "x2", "x1"}, ids(chapters))
	for i, m := range chapters {
		assert.Equal(t, float64(i), m.MutualData["index"])
		assert.Equal(t, m.EntityID, m.Data["title"])
	}
	mirror := p.related(t, "chapter", "x3", "course")
	require.Len(t, mirror, 1)
	assert.Equal(t, "Go", mirror[0].Data["title"])
}

func TestPipeline_RemovingAChapterFromAModuleShrinksThePrejoin(t *testing.T) {
	// Arrange
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	p.create(t, "module", "m1", map[string]interface{}{"title": "m1"})
	p.create(t, "module", "m2", map[string]interface{}{"title": "m2"})
	for _, id := range []string{"x1", "x2", "x3"} {
		p.create(t, "chapter", id, map[string]interface{}{"title": id})
	}
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x2", "x1"}})
	p.update(t, "module", "m2", map[string]interface{}{"chapters": []interface{}{"x3"}})
	p.update(t, "course", "c1", map[string]interface{}{"modules": []interface{}{"m2", "m1"}})
	p.drain(t)

	// Act
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x1"}})
	p.drain(t)

	// Assert
	assert.Equal(t, []string{"x1"}, ids(p.related(t, "module", "m1", "chapter")))
	assert.Equal(t, []string{"x3", "x1"}, ids(p.related(t, "course", "c1", "chapter")))
	assert.Empty(t, p.related(t, "chapter", "x2", "course"))
}

func TestPipeline_ModuleWithoutChapters(t *testing.T) {
	// Arrange
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	p.create(t, "module", "m1", map[string]interface{}{"title": "m1"})
	p.create(t, "chapter", "x1", map[string]interface{}{"title": "x1"})
	p.drain(t)

	// Act
	p.update(t, "course", "c1", map[string]interface{}{"modules": []interface{}{"m1"}})
	p.drain(t)

	// Assert
	assert.Equal(t, []string{"m1"}, ids(p.related(t, "course", "c1", "module")))
	assert.Empty(t, p.related(t, "course", "c1", "chapter"))

	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x1"}})
	p.drain(t)
	assert.Equal(t, []string{"x1"}, ids(p.related(t, "course", "c1", "chapter")))

	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{}})
	p.drain(t)
	assert.Empty(t, p.related(t, "module", "m1", "chapter"))
	assert.Empty(t, p.related(t, "course", "c1", "chapter"))
	assert.Empty(t, p.related(t, "chapter", "x1", "course"))
}

func TestPipeline_OutOfOrderMutualUpdatesConvergeOnTheNewest(t *testing.T) {
	// Arrange
	ctx := context.Background()
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	p.create(t, "module", "m1", map[string]interface{}{"title": "m1"})
	p.create(t, "module", "m2", map[string]interface{}{"title": "m2"})
	p.drain(t)
	t2 := time.Now().UTC().Add(time.Hour)
	t1 := t2.Add(-time.Minute)
	course := events.EntityRef{EntityType: "course", EntityID: "c1"}

	// Act
	require.NoError(t, p.bus.Publish(ctx, events.EntityMutualEvent{
		EventType:     events.EntityMutualToUpdate,
		Entity:        course,
		MutualPayload: map[string][]string{"modules": {"m1"}},
		PublishedAt:   t2,
	}))
	p.drain(t)
	require.NoError(t, p.bus.Publish(ctx, events.EntityMutualEvent{
		EventType:     events.EntityMutualToUpdate,
		Entity:        course,
		MutualPayload: map[string][]string{"modules": {"m1", "m2"}},
		PublishedAt:   t1,
	}))
	p.drain(t)

	// Assert
	assert.Equal(t, []string{"m1"}, ids(p.related(t, "course", "c1", "module")))
	assert.Empty(t, p.related(t, "module", "m2", "course"))
	assert.Len(t, p.bus.PublishedOfType(events.EntityMutualProcessed), 1)
}

func TestPipeline_ModuleLinkedFromTheModuleSide(t *testing.T) {
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	p.create(t, "module", "m1", map[string]interface{}{"title": "m1"})
	p.create(t, "chapter", "x1", map[string]interface{}{"title": "x1"})
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x1"}})
	p.drain(t)

	p.update(t, "module", "m1", map[string]interface{}{"courses": []interface{}{"c1"}})
	p.drain(t)

	assert.Equal(t, []string{"x1"}, ids(p.related(t, "course", "c1", "chapter")))
}

func TestPipeline_RelationshipSyncRebuildsOnDemand(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	p.create(t, "module", "m1", map[string]interface{}{"title": "m1"})
	p.create(t, "chapter", "x1", map[string]interface{}{"title": "x1"})
	p.update(t, "course", "c1", map[string]interface{}{"modules": []interface{}{"m1"}})
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x1"}})
	p.drain(t)
	// Drop the prejoined mutual behind the processors' back.
	_, err := p.mutuals.DeleteMutual(ctx, "course", "c1", "chapter", "x1")
	require.NoError(t, err)

	require.NoError(t, p.bus.Publish(ctx, events.PrejoinRelationshipSyncEvent{
		EntityType:  "course",
		EntityID:    "c1",
		PublishedAt: time.Now(),
	}))
	p.drain(t)

	assert.Equal(t, []string{"x1"}, ids(p.related(t, "course", "c1", "chapter")))
}

func TestPipeline_CreateEntityCommand(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.create(t, "organization", "o1", map[string]interface{}{"name": "Acme"})

	require.NoError(t, p.bus.Publish(ctx, events.CreateEntityCommand{
		EntityType: "learner",
		EntityID:   "l1",
		Payload: map[string]interface{}{
			"name":          "Ada",
			"email":         "ada@example.com",
			"organizations": []interface{}{"o1"},
		},
	}))
	p.drain(t)

	got, err := p.entities.GetEntity(ctx, "learner", "l1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Data["name"])
	assert.NotContains(t, got.Data, "organizations")
	assert.Equal(t, []string{"o1"}, ids(p.related(t, "learner", "l1", "organization")))
	assert.Equal(t, []string{"l1"}, ids(p.related(t, "organization", "o1", "learner")))
	assert.Len(t, p.bus.PublishedOfType(events.EntityMutualProcessed), 1)
}

func TestPipeline_CreateEntityCommandConflictIsTerminal(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.create(t, "learner", "l1", map[string]interface{}{"email": "ada@example.com"})
	p.drain(t)

	require.NoError(t, p.bus.Publish(ctx, events.CreateEntityCommand{
		EntityType: "learner",
		Payload:    map[string]interface{}{"email": "ADA@example.com"},
	}))
	err := p.bus.Drain(ctx)

	require.Error(t, err)
	assert.True(t, appErrors.IsTerminal(err))
	assert.True(t, appErrors.HasCode(err, appErrors.CodeEmailExists))
}

func TestPipeline_TagsFollowEntityData(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	p.create(t, "video", "v1", map[string]interface{}{"status": "published", "category": "intro", "publishedAt": "2024-01-02"})
	p.create(t, "video", "v2", map[string]interface{}{"status": "draft"})
	p.drain(t)

	list, err := p.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "intro"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "v1", list.Items[0].EntityID)
	assert.Equal(t, "2024-01-02", list.Items[0].SortValue)

	// Regrouping moves the listing.
	p.update(t, "video", "v1", map[string]interface{}{"category": "advanced"})
	p.drain(t)
	list, err = p.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "intro"})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	list, err = p.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "advanced"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "advanced", list.Items[0].Data["category"])

	// Deleting the entity removes its tags.
	require.NoError(t, p.entities.DeleteEntity(ctx, "video", "v1", ""))
	p.drain(t)
	markers, err := p.tags.ListEntityTags(ctx, "video", "v1", "published")
	require.NoError(t, err)
	assert.Empty(t, markers)
	list, err = p.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "advanced"})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestPipeline_TagGroupWithSeparatorIsRejected(t *testing.T) {
	// Arrange
	ctx := context.Background()
	p := newPipeline(t)
	p.create(t, "video", "v1", map[string]interface{}{"status": "published", "category": "intro#x", "publishedAt": "2024-01-02"})

	// Act
	err := p.bus.Drain(ctx)

	// Assert
	require.Error(t, err)
	assert.True(t, appErrors.IsTerminal(err))
	assert.Contains(t, err.Error(), "must not contain '#'")
	markers, err := p.tags.ListEntityTags(ctx, "video", "v1", "published")
	require.NoError(t, err)
	assert.Empty(t, markers)
	list, err := p.tags.ListTaggedEntities(ctx, "video", "published", ports.TagListOptions{Group: "intro"})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestPrejoinProcessor_UsesAndInvalidatesHopCache(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.create(t, "course", "c1", map[string]interface{}{"title": "Go"})
	p.create(t, "module", "m1", map[string]interface{}{"title": "m1"})
	p.create(t, "chapter", "x1", map[string]interface{}{"title": "x1"})
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x1"}})
	p.update(t, "course", "c1", map[string]interface{}{"modules": []interface{}{"m1"}})
	p.drain(t)

	cached, ok, err := p.cache.Get(ctx, "module", "m1", "chapter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x1", cached[0].EntityID)

	p.create(t, "chapter", "x2", map[string]interface{}{"title": "x2"})
	p.update(t, "module", "m1", map[string]interface{}{"chapters": []interface{}{"x2", "x1"}})
	p.drain(t)

	assert.Equal(t, []string{"x2", "x1"}, ids(p.related(t, "course", "c1", "chapter")))
}
