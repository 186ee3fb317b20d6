package dynamodb

import (
	"testing"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monorist/monorise/application/ports"
)

func TestDecodeStreamRecord_EntityMetadata(t *testing.T) {
	// Arrange
	changedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := awsevents.DynamoDBEventRecord{
		EventID:   "1",
		EventName: ports.StreamModify,
		Change: awsevents.DynamoDBStreamRecord{
			ApproximateCreationDateTime: awsevents.SecondsEpochTime{Time: changedAt},
			Keys: map[string]awsevents.DynamoDBAttributeValue{
				"PK": awsevents.NewStringAttribute("course#c1"),
				"SK": awsevents.NewStringAttribute("#METADATA#"),
			},
			NewImage: map[string]awsevents.DynamoDBAttributeValue{
				"PK":         awsevents.NewStringAttribute("course#c1"),
				"SK":         awsevents.NewStringAttribute("#METADATA#"),
				"entityType": awsevents.NewStringAttribute("course"),
				"entityId":   awsevents.NewStringAttribute("c1"),
				"data": awsevents.NewMapAttribute(map[string]awsevents.DynamoDBAttributeValue{
					"title":  awsevents.NewStringAttribute("Go"),
					"hours":  awsevents.NewNumberAttribute("12"),
					"active": awsevents.NewBooleanAttribute(true),
					"tags": awsevents.NewListAttribute([]awsevents.DynamoDBAttributeValue{
						awsevents.NewStringAttribute("a"),
					}),
				}),
				"createdAt": awsevents.NewStringAttribute("2024-05-01T09:00:00.000Z"),
				"updatedAt": awsevents.NewStringAttribute("2024-05-01T10:00:00.000Z"),
			},
		},
	}

	// Act
	got, err := DecodeStreamRecord(rec)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "course#c1", got.PK)
	assert.Equal(t, "#METADATA#", got.SK)
	assert.Equal(t, changedAt, got.ChangedAt)
	require.NotNil(t, got.Entity)
	assert.Nil(t, got.Mutual)
	assert.Equal(t, "c1", got.Entity.EntityID)
	assert.Equal(t, map[string]interface{}{
		"title": "Go", "hours": float64(12), "active": true, "tags": []interface{}{"a"},
	}, got.Entity.Data)
	assert.Equal(t, "course", got.NewImage["entityType"])
	assert.Nil(t, got.OldImage)
}

func TestDecodeStreamRecord_MutualItem(t *testing.T) {
	rec := awsevents.DynamoDBEventRecord{
		EventName: ports.StreamModify,
		Change: awsevents.DynamoDBStreamRecord{
			Keys: map[string]awsevents.DynamoDBAttributeValue{
				"PK": awsevents.NewStringAttribute("course#c1"),
				"SK": awsevents.NewStringAttribute("module#m1"),
			},
			NewImage: map[string]awsevents.DynamoDBAttributeValue{
				"PK":              awsevents.NewStringAttribute("course#c1"),
				"SK":              awsevents.NewStringAttribute("module#m1"),
				"R2PK":            awsevents.NewStringAttribute("MUTUAL#x"),
				"byEntityType":    awsevents.NewStringAttribute("course"),
				"byEntityId":      awsevents.NewStringAttribute("c1"),
				"entityType":      awsevents.NewStringAttribute("module"),
				"entityId":        awsevents.NewStringAttribute("m1"),
				"mutualId":        awsevents.NewStringAttribute("x"),
				"mutualData":      awsevents.NewMapAttribute(map[string]awsevents.DynamoDBAttributeValue{"index": awsevents.NewNumberAttribute("2")}),
				"mutualUpdatedAt": awsevents.NewStringAttribute("2024-05-01T10:00:00.000Z"),
			},
		},
	}

	got, err := DecodeStreamRecord(rec)

	require.NoError(t, err)
	assert.Nil(t, got.Entity)
	require.NotNil(t, got.Mutual)
	assert.Equal(t, "x", got.Mutual.MutualID)
	assert.Equal(t, float64(2), got.Mutual.MutualData["index"])
}

func TestDecodeStreamRecord_RemoveHasNoDecodedItem(t *testing.T) {
	rec := awsevents.DynamoDBEventRecord{
		EventName: ports.StreamRemove,
		Change: awsevents.DynamoDBStreamRecord{
			Keys: map[string]awsevents.DynamoDBAttributeValue{
				"PK": awsevents.NewStringAttribute("course#c1"),
				"SK": awsevents.NewStringAttribute("#METADATA#"),
			},
			OldImage: map[string]awsevents.DynamoDBAttributeValue{
				"entityType": awsevents.NewStringAttribute("course"),
				"gone":       awsevents.NewNullAttribute(),
			},
		},
	}

	got, err := DecodeStreamRecord(rec)

	require.NoError(t, err)
	assert.Nil(t, got.Entity)
	assert.Nil(t, got.NewImage)
	assert.Equal(t, "course", got.OldImage["entityType"])
}
