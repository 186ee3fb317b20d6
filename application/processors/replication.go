package processors

import (
	"context"
	"encoding/json"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/keys"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/retry"
)

// StreamDecoder turns a raw stream record into a replication record.
type StreamDecoder func(rec awsevents.DynamoDBEventRecord) (ports.ReplicationRecord, error)

const replicationProcessorName = "replication"

// ReplicationProcessor consumes the table stream. Entity changes are copied onto
// every item embedding the entity, mutual data changes onto the mirrored item,
// and every record is forwarded to the external sink when one is configured.
type ReplicationProcessor struct {
	replicas ports.ReplicaRepository
	sink     ports.ReplicationSink
	decode   StreamDecoder
	dlq      ports.DeadLetterSender
	retry    retry.Config
	metrics  ports.ProcessorMetrics
	logger   *zap.Logger
}

// NewReplicationProcessor creates a new replication processor. sink, dlq and
// metrics may be nil.
func NewReplicationProcessor(
	replicas ports.ReplicaRepository,
	sink ports.ReplicationSink,
	decode StreamDecoder,
	dlq ports.DeadLetterSender,
	metrics ports.ProcessorMetrics,
	logger *zap.Logger,
) *ReplicationProcessor {
	if metrics == nil {
		metrics = ports.NopProcessorMetrics{}
	}
	return &ReplicationProcessor{
		replicas: replicas,
		sink:     sink,
		decode:   decode,
		dlq:      dlq,
		retry:    retry.DefaultConfig(),
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleStream processes a stream batch. Each record gets a bounded number of
// attempts and is then dead-lettered; records that cannot be dead-lettered are
// reported as batch item failures.
func (p *ReplicationProcessor) HandleStream(ctx context.Context, batch awsevents.DynamoDBEvent) (awsevents.DynamoDBEventResponse, error) {
	resp := awsevents.DynamoDBEventResponse{BatchItemFailures: []awsevents.DynamoDBBatchItemFailure{}}

	for _, raw := range batch.Records {
		start := time.Now()
		outcome := p.handleOne(ctx, raw)
		p.metrics.RecordProcessed(ctx, replicationProcessorName, outcome, time.Since(start))

		if outcome == ports.OutcomeFailed {
			resp.BatchItemFailures = append(resp.BatchItemFailures, awsevents.DynamoDBBatchItemFailure{
				ItemIdentifier: raw.Change.SequenceNumber,
			})
		}
	}
	return resp, nil
}

func (p *ReplicationProcessor) handleOne(ctx context.Context, raw awsevents.DynamoDBEventRecord) string {
	rec, err := p.decode(raw)
	if err != nil {
		err = appErrors.NewValidationError("undecodable stream record").WithCause(err)
	} else {
		err = retry.Do(ctx, p.retry, retry.IsTransient, func(ctx context.Context) error {
			return p.Process(ctx, rec)
		})
	}
	if err == nil {
		return ports.OutcomeProcessed
	}

	logger := p.logger.With(
		zap.String("eventID", raw.EventID),
		zap.String("sequenceNumber", raw.Change.SequenceNumber),
		zap.Error(err),
	)
	if p.dlq == nil {
		logger.Error("Replication failed")
		return ports.OutcomeFailed
	}

	body, mErr := json.Marshal(raw)
	if mErr != nil {
		logger.Error("Failed to encode record for the dead-letter queue", zap.NamedError("encodeError", mErr))
		return ports.OutcomeFailed
	}
	attrs := map[string]string{
		"processor": replicationProcessorName,
		"eventName": raw.EventName,
		"error":     err.Error(),
	}
	if dlqErr := p.dlq.Send(ctx, string(body), attrs); dlqErr != nil {
		logger.Error("Failed to dead-letter replication record", zap.NamedError("dlqError", dlqErr))
		return ports.OutcomeFailed
	}
	logger.Warn("Replication record dead-lettered")
	return ports.OutcomeDeadLettered
}

// Process applies one decoded record.
func (p *ReplicationProcessor) Process(ctx context.Context, rec ports.ReplicationRecord) error {
	switch {
	case rec.EventName == ports.StreamModify && rec.Entity != nil && changed(rec, "updatedAt"):
		n, err := p.replicas.ReplicateEntity(ctx, rec.Entity)
		if err != nil {
			return err
		}
		p.logger.Debug("Entity replicated",
			zap.String("entity", keys.EntityPK(rec.Entity.EntityType, rec.Entity.EntityID)),
			zap.Int("items", n),
		)
	case rec.EventName == ports.StreamModify && rec.Mutual != nil && changed(rec, "mutualUpdatedAt"):
		n, err := p.replicas.ReplicateMutual(ctx, rec.Mutual)
		if err != nil {
			return err
		}
		p.logger.Debug("Mutual replicated",
			zap.String("mutualID", rec.Mutual.MutualID),
			zap.Int("items", n),
		)
	case rec.EventName == ports.StreamRemove && rec.SK == keys.MetadataSK:
		p.logger.Info("Entity removed, embedded copies are left in place", zap.String("pk", rec.PK))
	}

	if p.sink == nil {
		return nil
	}
	return p.sink.Replicate(ctx, rec)
}

func changed(rec ports.ReplicationRecord, attr string) bool {
	if rec.OldImage == nil {
		return true
	}
	before, _ := rec.OldImage[attr].(string)
	after, _ := rec.NewImage[attr].(string)
	return before != after
}
