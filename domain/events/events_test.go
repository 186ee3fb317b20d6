package events

import (
	"encoding/json"
	"testing"
	"time"

	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_MutualEventKeepsDetailType(t *testing.T) {
	detail := []byte(`{"entity":{"entityType":"course","entityId":"c1"},"mutualPayload":{"modules":["m1","m2"]}}`)

	event, err := Decode(EntityMutualToUpdate, detail)

	require.NoError(t, err)
	mutual, ok := event.(EntityMutualEvent)
	require.True(t, ok)
	assert.Equal(t, EntityMutualToUpdate, mutual.GetEventType())
	assert.Equal(t, []string{"m1", "m2"}, mutual.MutualPayload["modules"])
	assert.Equal(t, "course#c1", mutual.GetAggregateID())
}

func TestDecode_RoundTripsEntityCreated(t *testing.T) {
	published := EntityCreatedEvent{
		EntityType:         "course",
		EntityID:           "c1",
		Data:               map[string]interface{}{"title": "Go"},
		CreatedByAccountID: "acc",
		PublishedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	detail, err := json.Marshal(published)
	require.NoError(t, err)

	event, err := Decode(published.GetEventType(), detail)

	require.NoError(t, err)
	assert.Equal(t, published, event)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("SOMETHING_ELSE", []byte(`{}`))
	assert.True(t, appErrors.IsValidation(err))

	_, err = Decode(EntityCreated, []byte(`{not json`))
	assert.True(t, appErrors.IsValidation(err))

	_, err = Decode(EntityCreated, []byte(`{"entityId":"c1"}`))
	assert.True(t, appErrors.IsValidation(err))
}
