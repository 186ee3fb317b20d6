package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/retry"
)

// BatchGet reads items in chunks of 100 keys, re-requesting unprocessed keys
// with backoff.
func (t *Table) BatchGet(ctx context.Context, ks []keys.Key, projection ...string) ([]table.Item, error) {
	if len(ks) == 0 {
		return nil, nil
	}

	var (
		projExpr *string
		names    map[string]string
	)
	if len(projection) > 0 {
		expr, err := expression.NewBuilder().WithProjection(projectionOf(projection)).Build()
		if err != nil {
			return nil, appErrors.NewDatabaseError("batch get", err)
		}
		projExpr, names = expr.Projection(), expr.Names()
	}

	out := make([]table.Item, 0, len(ks))
	for start := 0; start < len(ks); start += table.MaxBatchGetItems {
		end := min(start+table.MaxBatchGetItems, len(ks))

		request := types.KeysAndAttributes{
			Keys:                     make([]map[string]types.AttributeValue, 0, end-start),
			ProjectionExpression:     projExpr,
			ExpressionAttributeNames: names,
			ConsistentRead:           aws.Bool(true),
		}
		for _, key := range ks[start:end] {
			request.Keys = append(request.Keys, table.KeyItem(key))
		}

		pending := map[string]types.KeysAndAttributes{t.tableName: request}
		err := retry.Do(ctx, t.retry, isUnprocessed, func(ctx context.Context) error {
			output, err := t.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				if retry.IsThrottlingError(err) {
					return unprocessedError{cause: err}
				}
				return err
			}
			out = append(out, output.Responses[t.tableName]...)
			if len(output.UnprocessedKeys) == 0 {
				return nil
			}
			pending = output.UnprocessedKeys
			return unprocessedError{count: len(output.UnprocessedKeys[t.tableName].Keys)}
		})
		if err != nil {
			t.logger.Error("Batch get failed", zap.Int("keys", end-start), zap.Error(err))
			return nil, appErrors.NewDatabaseError("batch get", err)
		}
	}
	return out, nil
}

type unprocessedError struct {
	count int
	cause error
}

func (e unprocessedError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return fmt.Sprintf("%d keys unprocessed", e.count)
}

func (e unprocessedError) Unwrap() error { return e.cause }

func isUnprocessed(err error) bool {
	_, ok := err.(unprocessedError)
	return ok
}

