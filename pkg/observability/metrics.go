package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
)

// CloudWatchAPI is the subset of the CloudWatch client used for metrics
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics publishes processor metrics to CloudWatch
type Metrics struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger
	now       func() time.Time
}

var _ ports.ProcessorMetrics = (*Metrics)(nil)

// NewMetrics creates a new metrics instance
func NewMetrics(namespace string, client CloudWatchAPI, logger *zap.Logger) *Metrics {
	return &Metrics{
		namespace: namespace,
		client:    client,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordProcessed records the outcome and latency of one record
func (m *Metrics) RecordProcessed(ctx context.Context, processor, outcome string, duration time.Duration) {
	if m.client == nil {
		return
	}

	now := aws.Time(m.now())
	processorDim := types.Dimension{Name: aws.String("Processor"), Value: aws.String(processor)}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String("RecordsProcessed"),
				Dimensions: []types.Dimension{
					processorDim,
					{Name: aws.String("Outcome"), Value: aws.String(outcome)},
				},
				Value:     aws.Float64(1),
				Unit:      types.StandardUnitCount,
				Timestamp: now,
			},
			{
				MetricName: aws.String("ProcessingLatency"),
				Dimensions: []types.Dimension{processorDim},
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       types.StandardUnitMilliseconds,
				Timestamp:  now,
			},
		},
	}

	// Metrics never fail the record
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Warn("Failed to send metrics",
			zap.String("processor", processor),
			zap.Error(err),
		)
	}
}
