package dynamodb

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	"github.com/monorist/monorise/pkg/utils"
)

// Attribute names shared by expressions and projections.
const (
	attrData            = "data"
	attrMutualData      = "mutualData"
	attrUpdatedAt       = "updatedAt"
	attrMutualUpdatedAt = "mutualUpdatedAt"
	attrDataUpdatedAt   = "dataUpdatedAt"
	attrFieldVersion    = "fieldVersion"
)

// EntityItem is the metadata item of an entity.
type EntityItem struct {
	PK         string                 `dynamodbav:"PK"`
	SK         string                 `dynamodbav:"SK"`
	R1PK       string                 `dynamodbav:"R1PK"`
	R1SK       string                 `dynamodbav:"R1SK"`
	EntityType string                 `dynamodbav:"entityType"`
	EntityID   string                 `dynamodbav:"entityId"`
	Data       map[string]interface{} `dynamodbav:"data"`
	CreatedAt  string                 `dynamodbav:"createdAt"`
	UpdatedAt  string                 `dynamodbav:"updatedAt"`
	ExpiresAt  int64                  `dynamodbav:"expiresAt,omitempty"`
}

func newEntityItem(e *entity.Entity) EntityItem {
	key := keys.Entity(e.EntityType, e.EntityID)
	return EntityItem{
		PK:         key.PK,
		SK:         key.SK,
		R1PK:       keys.List(e.EntityType).PK,
		R1SK:       keys.ListSK(e.EntityID),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Data:       nonNil(e.Data),
		CreatedAt:  utils.FormatTimestamp(e.CreatedAt),
		UpdatedAt:  utils.FormatTimestamp(e.UpdatedAt),
	}
}

func (i EntityItem) toEntity() *entity.Entity {
	return &entity.Entity{
		EntityType: i.EntityType,
		EntityID:   i.EntityID,
		Data:       nonNil(i.Data),
		CreatedAt:  parseTime(i.CreatedAt),
		UpdatedAt:  parseTime(i.UpdatedAt),
	}
}

// UniqueItem reserves one value of a unique field for one entity.
type UniqueItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Field      string `dynamodbav:"field"`
	Value      string `dynamodbav:"value"`
	EntityType string `dynamodbav:"entityType"`
	EntityID   string `dynamodbav:"entityId"`
	Target     string `dynamodbav:"target"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

func newUniqueItem(field, value string, e *entity.Entity) UniqueItem {
	key := keys.Unique(field, e.EntityType, value)
	return UniqueItem{
		PK:         key.PK,
		SK:         key.SK,
		Field:      field,
		Value:      value,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Target:     keys.UniqueTarget(e.EntityType, e.EntityID),
		CreatedAt:  utils.FormatTimestamp(e.UpdatedAt),
	}
}

// MutualItem is one direction of a mutual. Data is a copy of the target entity's
// data as of DataUpdatedAt.
type MutualItem struct {
	PK              string                 `dynamodbav:"PK"`
	SK              string                 `dynamodbav:"SK"`
	R1PK            string                 `dynamodbav:"R1PK"`
	R1SK            string                 `dynamodbav:"R1SK"`
	R2PK            string                 `dynamodbav:"R2PK"`
	R2SK            string                 `dynamodbav:"R2SK"`
	ByEntityType    string                 `dynamodbav:"byEntityType"`
	ByEntityID      string                 `dynamodbav:"byEntityId"`
	EntityType      string                 `dynamodbav:"entityType"`
	EntityID        string                 `dynamodbav:"entityId"`
	MutualID        string                 `dynamodbav:"mutualId"`
	Data            map[string]interface{} `dynamodbav:"data"`
	MutualData      map[string]interface{} `dynamodbav:"mutualData"`
	CreatedAt       string                 `dynamodbav:"createdAt"`
	UpdatedAt       string                 `dynamodbav:"updatedAt"`
	MutualUpdatedAt string                 `dynamodbav:"mutualUpdatedAt"`
	DataUpdatedAt   string                 `dynamodbav:"dataUpdatedAt"`
}

// newMutualItem builds the item of m. dataUpdatedAt is the updatedAt of the
// embedded target entity.
func newMutualItem(m *entity.Mutual, dataUpdatedAt time.Time) MutualItem {
	key := keys.Mutual(m.ByEntityType, m.ByEntityID, m.EntityType, m.EntityID)
	replica := keys.EntityReplication(m.EntityType, m.EntityID, key.PK)
	mirror := keys.MutualReplication(m.MutualID, key.PK)
	return MutualItem{
		PK:              key.PK,
		SK:              key.SK,
		R1PK:            replica.PK,
		R1SK:            replica.SK,
		R2PK:            mirror.PK,
		R2SK:            mirror.SK,
		ByEntityType:    m.ByEntityType,
		ByEntityID:      m.ByEntityID,
		EntityType:      m.EntityType,
		EntityID:        m.EntityID,
		MutualID:        m.MutualID,
		Data:            nonNil(m.Data),
		MutualData:      nonNil(m.MutualData),
		CreatedAt:       utils.FormatTimestamp(m.CreatedAt),
		UpdatedAt:       utils.FormatTimestamp(m.UpdatedAt),
		MutualUpdatedAt: utils.FormatTimestamp(m.MutualUpdatedAt),
		DataUpdatedAt:   utils.FormatTimestamp(dataUpdatedAt),
	}
}

func (i MutualItem) toMutual() *entity.Mutual {
	return &entity.Mutual{
		ByEntityType:    i.ByEntityType,
		ByEntityID:      i.ByEntityID,
		EntityType:      i.EntityType,
		EntityID:        i.EntityID,
		MutualID:        i.MutualID,
		Data:            nonNil(i.Data),
		MutualData:      nonNil(i.MutualData),
		CreatedAt:       parseTime(i.CreatedAt),
		UpdatedAt:       parseTime(i.UpdatedAt),
		MutualUpdatedAt: parseTime(i.MutualUpdatedAt),
	}
}

// TagItem lists one tagged entity under its tag partition.
type TagItem struct {
	PK            string                 `dynamodbav:"PK"`
	SK            string                 `dynamodbav:"SK"`
	R1PK          string                 `dynamodbav:"R1PK"`
	R1SK          string                 `dynamodbav:"R1SK"`
	EntityType    string                 `dynamodbav:"entityType"`
	EntityID      string                 `dynamodbav:"entityId"`
	TagName       string                 `dynamodbav:"tagName"`
	Group         string                 `dynamodbav:"group,omitempty"`
	SortValue     string                 `dynamodbav:"sortValue,omitempty"`
	Data          map[string]interface{} `dynamodbav:"data"`
	CreatedAt     string                 `dynamodbav:"createdAt"`
	UpdatedAt     string                 `dynamodbav:"updatedAt"`
	DataUpdatedAt string                 `dynamodbav:"dataUpdatedAt"`
}

func newTagItem(e *entity.Entity, tagName string, tag entity.Tag) TagItem {
	key := keys.Tag(e.EntityType, tagName, tag.Group, tag.SortValue, e.EntityID)
	replica := keys.EntityReplication(e.EntityType, e.EntityID, key.PK+"#"+key.SK)
	return TagItem{
		PK:            key.PK,
		SK:            key.SK,
		R1PK:          replica.PK,
		R1SK:          replica.SK,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		TagName:       tagName,
		Group:         tag.Group,
		SortValue:     tag.SortValue,
		Data:          nonNil(e.Data),
		CreatedAt:     utils.FormatTimestamp(e.CreatedAt),
		UpdatedAt:     utils.FormatTimestamp(e.UpdatedAt),
		DataUpdatedAt: utils.FormatTimestamp(e.UpdatedAt),
	}
}

func (i TagItem) toTaggedEntity() *entity.TaggedEntity {
	return &entity.TaggedEntity{
		Entity: entity.Entity{
			EntityType: i.EntityType,
			EntityID:   i.EntityID,
			Data:       nonNil(i.Data),
			CreatedAt:  parseTime(i.CreatedAt),
			UpdatedAt:  parseTime(i.UpdatedAt),
		},
		TagName:   i.TagName,
		Group:     i.Group,
		SortValue: i.SortValue,
	}
}

// TagMarkerItem is stored in the entity partition for every tag value the entity has.
type TagMarkerItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"entityType"`
	EntityID   string `dynamodbav:"entityId"`
	TagName    string `dynamodbav:"tagName"`
	Group      string `dynamodbav:"group"`
	SortValue  string `dynamodbav:"sortValue"`
	UpdatedAt  string `dynamodbav:"updatedAt"`
}

func newTagMarkerItem(e *entity.Entity, tagName string, tag entity.Tag) TagMarkerItem {
	key := keys.TagMarker(e.EntityType, e.EntityID, tagName, tag.Group, tag.SortValue)
	return TagMarkerItem{
		PK:         key.PK,
		SK:         key.SK,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		TagName:    tagName,
		Group:      tag.Group,
		SortValue:  tag.SortValue,
		UpdatedAt:  utils.FormatTimestamp(e.UpdatedAt),
	}
}

func marshalItem(v interface{}) (table.Item, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	return item, nil
}

func unmarshalItem[T any](item table.Item) (T, error) {
	var out T
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return out, nil
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func parseTime(s string) time.Time {
	t, err := utils.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
