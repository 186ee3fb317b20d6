package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
)

// SQSAPI is the subset of the SQS client used by the dead-letter sender.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetterQueue implements ports.DeadLetterSender on an SQS queue
type DeadLetterQueue struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
}

// NewDeadLetterQueue creates a new dead-letter sender
func NewDeadLetterQueue(client SQSAPI, queueURL string, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{client: client, queueURL: queueURL, logger: logger}
}

// Compile-time interface check
var _ ports.DeadLetterSender = (*DeadLetterQueue)(nil)

// Send enqueues body with string message attributes
func (q *DeadLetterQueue) Send(ctx context.Context, body string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	}
	if len(attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attributes))
		for name, value := range attributes {
			input.MessageAttributes[name] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(value),
			}
		}
	}

	output, err := q.client.SendMessage(ctx, input)
	if err != nil {
		q.logger.Error("Failed to dead-letter record", zap.String("queueURL", q.queueURL), zap.Error(err))
		return fmt.Errorf("failed to send to dead-letter queue: %w", err)
	}

	q.logger.Warn("Record dead-lettered",
		zap.String("messageID", aws.ToString(output.MessageId)),
		zap.String("reason", attributes["reason"]),
	)
	return nil
}
