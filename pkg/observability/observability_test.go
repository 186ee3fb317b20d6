package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/tests/mocks"
)

func TestMetrics_RecordProcessed(t *testing.T) {
	// Arrange
	client := new(mocks.MockCloudWatchAPI)
	var input *cloudwatch.PutMetricDataInput
	client.On("PutMetricData", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { input = args.Get(1).(*cloudwatch.PutMetricDataInput) }).
		Return(&cloudwatch.PutMetricDataOutput{}, nil)
	metrics := NewMetrics("Monorise/test", client, zap.NewNop())

	// Act
	metrics.RecordProcessed(context.Background(), "tag-processor", ports.OutcomeDeadLettered, 250*time.Millisecond)

	// Assert
	require.NotNil(t, input)
	assert.Equal(t, "Monorise/test", *input.Namespace)
	require.Len(t, input.MetricData, 2)
	assert.Equal(t, "RecordsProcessed", *input.MetricData[0].MetricName)
	assert.Equal(t, "dead_lettered", *input.MetricData[0].Dimensions[1].Value)
	assert.Equal(t, types.StandardUnitMilliseconds, input.MetricData[1].Unit)
	assert.Equal(t, float64(250), *input.MetricData[1].Value)
}

func TestMetrics_FailureIsSwallowed(t *testing.T) {
	client := new(mocks.MockCloudWatchAPI)
	client.On("PutMetricData", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	metrics := NewMetrics("Monorise/test", client, zap.NewNop())

	assert.NotPanics(t, func() {
		metrics.RecordProcessed(context.Background(), "mutual-processor", ports.OutcomeProcessed, time.Millisecond)
	})
	client.AssertExpectations(t)
}

func TestCollector(t *testing.T) {
	c := NewCollector("monorise")

	c.RecordProcessed(context.Background(), "tree-processor", ports.OutcomeProcessed, time.Millisecond)
	c.RecordProcessed(context.Background(), "tree-processor", ports.OutcomeProcessed, time.Millisecond)
	c.ObserveHTTP("GET", "/core/entity/{entityType}", 200, time.Millisecond)
	c.ObserveTableOperation("query", time.Millisecond, nil)
	c.ObserveTableOperation("query", time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(c.Records.WithLabelValues("tree-processor", "processed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/core/entity/{entityType}", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.TableOperations.WithLabelValues("query", "error")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestTracer_WithoutSegmentRunsFunction(t *testing.T) {
	tracer := NewTracer("monorise")
	called := false

	err := tracer.TraceFunction(context.Background(), "record", func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}
