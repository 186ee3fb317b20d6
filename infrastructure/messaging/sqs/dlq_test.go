package sqs

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/monorist/monorise/tests/mocks"
)

func TestSend_PassesBodyAndAttributes(t *testing.T) {
	// Arrange
	client := new(mocks.MockSQSAPI)
	dlq := NewDeadLetterQueue(client, "https://sqs.local/dlq", zap.NewNop())
	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		attr, ok := in.MessageAttributes["reason"]
		return aws.ToString(in.QueueUrl) == "https://sqs.local/dlq" &&
			aws.ToString(in.MessageBody) == `{"a":1}` &&
			ok && aws.ToString(attr.StringValue) == "terminal"
	})).Return(&sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil)

	// Act
	err := dlq.Send(context.Background(), `{"a":1}`, map[string]string{"reason": "terminal"})

	// Assert
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSend_WrapsClientError(t *testing.T) {
	client := new(mocks.MockSQSAPI)
	dlq := NewDeadLetterQueue(client, "q", zap.NewNop())
	cause := errors.New("denied")
	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, cause)

	err := dlq.Send(context.Background(), "body", nil)

	assert.ErrorIs(t, err, cause)
}
