package ports

import (
	"context"
	"time"

	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/domain/registry"
)

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// DeadLetterSender parks a record that cannot be processed.
type DeadLetterSender interface {
	Send(ctx context.Context, body string, attributes map[string]string) error
}

// PrejoinCache stores the entities of targetType reached from one node in one hop
// of a prejoin walk.
type PrejoinCache interface {
	Get(ctx context.Context, entityType, entityID, targetType string) ([]registry.PrejoinItem, bool, error)
	Set(ctx context.Context, entityType, entityID, targetType string, items []registry.PrejoinItem) error
	// InvalidateNode drops every entry of the node.
	InvalidateNode(ctx context.Context, entityType, entityID string) error
}

// ReplicationRecord is one change of the table as seen by the stream.
type ReplicationRecord struct {
	EventID   string                 `json:"eventId"`
	EventName string                 `json:"eventName"`
	PK        string                 `json:"pk"`
	SK        string                 `json:"sk"`
	NewImage  map[string]interface{} `json:"newImage,omitempty"`
	OldImage  map[string]interface{} `json:"oldImage,omitempty"`
	ChangedAt time.Time              `json:"changedAt"`
	// Entity is set when the new image is an entity metadata item.
	Entity *entity.Entity `json:"-"`
	// Mutual is set when the new image is a mutual item.
	Mutual *entity.Mutual `json:"-"`
}

// Stream event names.
const (
	StreamInsert = "INSERT"
	StreamModify = "MODIFY"
	StreamRemove = "REMOVE"
)

// ReplicationSink receives every change of the table for an external copy.
type ReplicationSink interface {
	Replicate(ctx context.Context, record ReplicationRecord) error
}
