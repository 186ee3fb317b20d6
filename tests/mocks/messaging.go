package mocks

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/mock"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/events"
)

// MockEventBridgeAPI is a mock implementation of the EventBridge client
type MockEventBridgeAPI struct {
	mock.Mock
}

func (m *MockEventBridgeAPI) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventbridge.PutEventsOutput), args.Error(1)
}

// MockSQSAPI is a mock implementation of the SQS client
type MockSQSAPI struct {
	mock.Mock
}

func (m *MockSQSAPI) SendMessage(ctx context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.SendMessageOutput), args.Error(1)
}

// MockEventPublisher is a mock implementation of ports.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	args := m.Called(ctx, domainEvents)
	return args.Error(0)
}

// MockDeadLetterSender is a mock implementation of ports.DeadLetterSender
type MockDeadLetterSender struct {
	mock.Mock
}

func (m *MockDeadLetterSender) Send(ctx context.Context, body string, attributes map[string]string) error {
	args := m.Called(ctx, body, attributes)
	return args.Error(0)
}

// MockReplicationSink is a mock implementation of ports.ReplicationSink
type MockReplicationSink struct {
	mock.Mock
}

func (m *MockReplicationSink) Replicate(ctx context.Context, record ports.ReplicationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// MockProcessorMetrics is a mock implementation of ports.ProcessorMetrics
type MockProcessorMetrics struct {
	mock.Mock
}

func (m *MockProcessorMetrics) RecordProcessed(ctx context.Context, processor, outcome string, duration time.Duration) {
	m.Called(ctx, processor, outcome, duration)
}
