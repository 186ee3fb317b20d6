package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/events"
	"github.com/monorist/monorise/pkg/retry"
)

// maxEntriesPerCall is the PutEvents limit.
const maxEntriesPerCall = 10

// EventBridgeAPI is the subset of the EventBridge client used by the publisher.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher implements ports.EventPublisher using AWS EventBridge
type Publisher struct {
	client       EventBridgeAPI
	eventBusName string
	source       string
	retry        retry.Config
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client EventBridgeAPI, eventBusName, source string, logger *zap.Logger) *Publisher {
	if source == "" {
		source = events.SourceCore
	}
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		retry:        retry.DefaultConfig(),
		logger:       logger,
	}
}

// Compile-time interface check
var _ ports.EventPublisher = (*Publisher)(nil)

// Publish sends a single event to EventBridge
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends multiple events to EventBridge
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for i := 0; i < len(domainEvents); i += maxEntriesPerCall {
		end := min(i+maxEntriesPerCall, len(domainEvents))
		if err := p.publishBatch(ctx, domainEvents[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// publishBatch publishes at most ten events. Entries rejected by EventBridge are
// retried with backoff.
func (p *Publisher) publishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(domainEvents))
	for _, event := range domainEvents {
		detail, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", event.GetEventType(), err)
		}

		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(event.GetEventType()),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.GetTimestamp()),
		})
	}

	pending := entries
	err := retry.Do(ctx, p.retry, retry.IsTransient, func(ctx context.Context) error {
		result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: pending})
		if err != nil {
			return fmt.Errorf("failed to publish events to EventBridge: %w", err)
		}
		if result.FailedEntryCount == 0 {
			return nil
		}

		var failed []types.PutEventsRequestEntry
		for i, entry := range result.Entries {
			if entry.ErrorCode == nil {
				continue
			}
			p.logger.Warn("Failed to publish event",
				zap.String("eventType", aws.ToString(pending[i].DetailType)),
				zap.String("errorCode", aws.ToString(entry.ErrorCode)),
				zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
			)
			failed = append(failed, pending[i])
		}
		pending = failed
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	})
	if err != nil {
		p.logger.Error("Events not published", zap.Int("count", len(pending)), zap.Error(err))
		return err
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
