// Package processors holds the asynchronous consumers of the event bus and the
// table stream. Each processor handles one record at a time; BatchRunner adapts
// them to SQS batches with partial batch failure reporting.
package processors

import (
	"context"
	"encoding/json"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// Handler consumes one EventBridge detail.
type Handler func(ctx context.Context, detailType string, detail json.RawMessage) error

type eventIDKey struct{}

// WithEventID attaches the id of the delivered event to ctx. Redeliveries of an
// event carry the same id.
func WithEventID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, eventIDKey{}, id)
}

// EventID returns the id attached by WithEventID, or "".
func EventID(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey{}).(string)
	return id
}

// BatchRunner runs a Handler over the messages of an SQS batch. Message bodies
// are EventBridge envelopes.
type BatchRunner struct {
	name    string
	handle  Handler
	dlq     ports.DeadLetterSender
	metrics ports.ProcessorMetrics
	logger  *zap.Logger
}

// NewBatchRunner creates a runner. dlq may be nil, in which case terminal
// failures are reported like transient ones and reach the queue's redrive policy.
func NewBatchRunner(name string, handle Handler, dlq ports.DeadLetterSender, metrics ports.ProcessorMetrics, logger *zap.Logger) *BatchRunner {
	if metrics == nil {
		metrics = ports.NopProcessorMetrics{}
	}
	return &BatchRunner{
		name:    name,
		handle:  handle,
		dlq:     dlq,
		metrics: metrics,
		logger:  logger.With(zap.String("processor", name)),
	}
}

// Run processes every message and returns the ids of those to redeliver.
func (r *BatchRunner) Run(ctx context.Context, batch awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
	resp := awsevents.SQSEventResponse{BatchItemFailures: []awsevents.SQSBatchItemFailure{}}

	for _, msg := range batch.Records {
		start := time.Now()
		outcome := r.runOne(ctx, msg)
		r.metrics.RecordProcessed(ctx, r.name, outcome, time.Since(start))

		if outcome == ports.OutcomeFailed {
			resp.BatchItemFailures = append(resp.BatchItemFailures, awsevents.SQSBatchItemFailure{
				ItemIdentifier: msg.MessageId,
			})
		}
	}

	if n := len(resp.BatchItemFailures); n > 0 {
		r.logger.Warn("Batch finished with failures",
			zap.Int("records", len(batch.Records)),
			zap.Int("failures", n),
		)
	}
	return resp, nil
}

func (r *BatchRunner) runOne(ctx context.Context, msg awsevents.SQSMessage) string {
	var envelope awsevents.CloudWatchEvent
	err := json.Unmarshal([]byte(msg.Body), &envelope)
	if err != nil {
		err = appErrors.NewValidationError("message body is not an event envelope").WithCause(err)
	} else {
		err = r.handle(WithEventID(ctx, envelope.ID), envelope.DetailType, envelope.Detail)
	}
	if err == nil {
		return ports.OutcomeProcessed
	}

	logger := r.logger.With(
		zap.String("messageID", msg.MessageId),
		zap.String("detailType", envelope.DetailType),
		zap.Error(err),
	)
	if !appErrors.IsTerminal(err) || r.dlq == nil {
		logger.Error("Record failed, will be redelivered")
		return ports.OutcomeFailed
	}

	attrs := map[string]string{
		"processor":  r.name,
		"detailType": envelope.DetailType,
		"error":      err.Error(),
	}
	if dlqErr := r.dlq.Send(ctx, msg.Body, attrs); dlqErr != nil {
		logger.Error("Failed to dead-letter record", zap.NamedError("dlqError", dlqErr))
		return ports.OutcomeFailed
	}
	logger.Warn("Record dead-lettered")
	return ports.OutcomeDeadLettered
}
