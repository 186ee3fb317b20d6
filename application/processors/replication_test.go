package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/entity"
	"github.com/monorist/monorise/infrastructure/persistence/dynamodb"
	"github.com/monorist/monorise/pkg/retry"
	"github.com/monorist/monorise/pkg/utils"
	"github.com/monorist/monorise/tests/fixtures"
	"github.com/monorist/monorise/tests/mocks"
)

type replicationFixture struct {
	entities  *dynamodb.EntityRepository
	mutuals   *dynamodb.MutualRepository
	processor *ReplicationProcessor
}

func newReplicationFixture(t *testing.T, sink ports.ReplicationSink, decode StreamDecoder, dlq ports.DeadLetterSender) *replicationFixture {
	t.Helper()
	logger := zap.NewNop()
	reg := fixtures.Registry()
	tbl := fixtures.NewTable()
	entities := dynamodb.NewEntityRepository(tbl, reg, dynamodb.DefaultIndexes(), logger)
	mutuals := dynamodb.NewMutualRepository(tbl, entities, reg, logger)
	replicas := dynamodb.NewReplicaRepository(tbl, dynamodb.DefaultIndexes(), logger)

	p := NewReplicationProcessor(replicas, sink, decode, dlq, nil, logger)
	p.retry = retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffFactor: 1}
	return &replicationFixture{entities: entities, mutuals: mutuals, processor: p}
}

func modifyRecord(before, after *entity.Entity) ports.ReplicationRecord {
	return ports.ReplicationRecord{
		EventName: ports.StreamModify,
		PK:        after.EntityType + "#" + after.EntityID,
		SK:        "#METADATA#",
		OldImage:  map[string]interface{}{"updatedAt": utils.FormatTimestamp(before.UpdatedAt)},
		NewImage:  map[string]interface{}{"updatedAt": utils.FormatTimestamp(after.UpdatedAt)},
		Entity:    after,
	}
}

func TestReplicationProcessor_CopiesEntityDataIntoMutuals(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newReplicationFixture(t, nil, nil, nil)
	course, err := f.entities.CreateEntity(ctx, "course", map[string]interface{}{"title": "Go"}, ports.CreateEntityOptions{EntityID: "c1"})
	require.NoError(t, err)
	_, err = f.entities.CreateEntity(ctx, "module", map[string]interface{}{"title": "m1"}, ports.CreateEntityOptions{EntityID: "m1"})
	require.NoError(t, err)
	_, err = f.mutuals.CreateMutual(ctx, "module", "m1", "course", "c1", nil, ports.MutualWriteOptions{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	updated, err := f.entities.UpdateEntity(ctx, "course", "c1", map[string]interface{}{"title": "Go 2"})
	require.NoError(t, err)

	// Act
	err = f.processor.Process(ctx, modifyRecord(course, updated))

	// Assert
	require.NoError(t, err)
	m, err := f.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Go 2", m.Data["title"])

	// A redelivered older version does not overwrite the newer copy.
	require.NoError(t, f.processor.Process(ctx, modifyRecord(course, course)))
	m, err = f.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Go 2", m.Data["title"])
}

func TestReplicationProcessor_CopiesMutualDataToMirror(t *testing.T) {
	ctx := context.Background()
	f := newReplicationFixture(t, nil, nil, nil)
	for _, id := range []string{"c1", "m1"} {
		entityType := map[string]string{"c1": "course", "m1": "module"}[id]
		_, err := f.entities.CreateEntity(ctx, entityType, map[string]interface{}{}, ports.CreateEntityOptions{EntityID: id})
		require.NoError(t, err)
	}
	m, err := f.mutuals.CreateMutual(ctx, "course", "c1", "module", "m1", map[string]interface{}{"index": 0}, ports.MutualWriteOptions{})
	require.NoError(t, err)

	changed := *m
	changed.MutualData = map[string]interface{}{"index": float64(4)}
	changed.MutualUpdatedAt = m.MutualUpdatedAt.Add(time.Second)
	err = f.processor.Process(ctx, ports.ReplicationRecord{
		EventName: ports.StreamModify,
		OldImage:  map[string]interface{}{"mutualUpdatedAt": utils.FormatTimestamp(m.MutualUpdatedAt)},
		NewImage:  map[string]interface{}{"mutualUpdatedAt": utils.FormatTimestamp(changed.MutualUpdatedAt)},
		Mutual:    &changed,
	})

	require.NoError(t, err)
	mirror, err := f.mutuals.GetMutual(ctx, "module", "m1", "course", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(4), mirror.MutualData["index"])
}

func TestReplicationProcessor_HandleStream(t *testing.T) {
	ctx := context.Background()
	records := map[string]ports.ReplicationRecord{
		"ok":     {EventID: "ok", EventName: ports.StreamInsert},
		"parked": {EventID: "parked", EventName: ports.StreamInsert},
		"lost":   {EventID: "lost", EventName: ports.StreamInsert},
	}
	decode := func(raw awsevents.DynamoDBEventRecord) (ports.ReplicationRecord, error) {
		return records[raw.EventID], nil
	}

	sink := new(mocks.MockReplicationSink)
	sink.On("Replicate", mock.Anything, records["ok"]).Return(nil)
	sink.On("Replicate", mock.Anything, records["parked"]).Return(errors.New("sink down"))
	sink.On("Replicate", mock.Anything, records["lost"]).Return(errors.New("sink down"))

	dlq := new(mocks.MockDeadLetterSender)
	dlq.On("Send", ctx, mock.Anything, mock.MatchedBy(func(a map[string]string) bool { return a["eventName"] == "INSERT" && a["processor"] == "replication" })).Return(nil).Once()
	dlq.On("Send", ctx, mock.Anything, mock.Anything).Return(errors.New("sqs down"))

	f := newReplicationFixture(t, sink, decode, dlq)
	raw := func(id string) awsevents.DynamoDBEventRecord {
		return awsevents.DynamoDBEventRecord{
			EventID:   id,
			EventName: ports.StreamInsert,
			Change:    awsevents.DynamoDBStreamRecord{SequenceNumber: "seq-" + id},
		}
	}

	resp, err := f.processor.HandleStream(ctx, awsevents.DynamoDBEvent{Records: []awsevents.DynamoDBEventRecord{
		raw("ok"), raw("parked"), raw("lost"),
	}})

	require.NoError(t, err)
	assert.Equal(t, []awsevents.DynamoDBBatchItemFailure{{ItemIdentifier: "seq-lost"}}, resp.BatchItemFailures)
	sink.AssertNumberOfCalls(t, "Replicate", 5)
}
