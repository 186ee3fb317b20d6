package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monorist/monorise/domain/events"
)

func TestDrain_DeliversCascadingEventsInOrder(t *testing.T) {
	// Arrange
	ctx := context.Background()
	bus := NewBus(zap.NewNop())
	var seen []string
	bus.Subscribe(events.EntityCreated, func(ctx context.Context, detailType string, detail json.RawMessage) error {
		var e events.EntityCreatedEvent
		require.NoError(t, json.Unmarshal(detail, &e))
		seen = append(seen, detailType+":"+e.EntityID)
		return bus.Publish(ctx, events.EntityDeletedEvent{EntityType: e.EntityType, EntityID: e.EntityID})
	})
	bus.Subscribe(events.EntityDeleted, func(_ context.Context, detailType string, _ json.RawMessage) error {
		seen = append(seen, detailType)
		return nil
	})

	// Act
	require.NoError(t, bus.PublishBatch(ctx, []events.DomainEvent{
		events.EntityCreatedEvent{EntityType: "course", EntityID: "c1", PublishedAt: time.Now()},
		events.EntityCreatedEvent{EntityType: "course", EntityID: "c2", PublishedAt: time.Now()},
	}))
	err := bus.Drain(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"ENTITY_CREATED:c1", "ENTITY_CREATED:c2", "ENTITY_DELETED", "ENTITY_DELETED"}, seen)
	assert.Len(t, bus.Published(), 4)
	assert.Len(t, bus.PublishedOfType(events.EntityDeleted), 2)
}

func TestDrain_ReturnsFirstHandlerError(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(zap.NewNop())
	calls := 0
	bus.Subscribe(events.EntityUpdated, func(context.Context, string, json.RawMessage) error {
		calls++
		return errors.New("boom")
	})
	require.NoError(t, bus.Publish(ctx, events.EntityUpdatedEvent{EntityType: "course", EntityID: "c1"}))
	require.NoError(t, bus.Publish(ctx, events.EntityUpdatedEvent{EntityType: "course", EntityID: "c2"}))

	err := bus.Drain(ctx)

	assert.EqualError(t, err, "boom")
	assert.Equal(t, 2, calls)
}
