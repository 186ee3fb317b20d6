package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/retry"
)

const conditionalCheckFailed = "ConditionalCheckFailed"

// TransactWrite executes all operations atomically with TransactWriteItems.
// A cancelled transaction whose reasons include a failed condition is reported as
// CONDITIONAL_CHECK_FAILED, anything else as TRANSACTION_FAILED.
func (t *Table) TransactWrite(ctx context.Context, ops []table.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > table.MaxTransactItems {
		return appErrors.NewTransactionError(
			fmt.Errorf("transaction exceeds limit of %d items: %d items", table.MaxTransactItems, len(ops)),
			len(ops),
		)
	}

	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		item, err := t.transactItem(op)
		if err != nil {
			return appErrors.NewTransactionError(err, op.Key())
		}
		items = append(items, item)
	}

	input := &dynamodb.TransactWriteItemsInput{TransactItems: items}
	err := retry.Do(ctx, t.retry, retry.IsThrottlingError, func(ctx context.Context) error {
		_, err := t.client.TransactWriteItems(ctx, input)
		return err
	})
	if err == nil {
		t.logger.Debug("Transaction committed", zap.Int("items", len(items)))
		return nil
	}

	return t.classify(err, input)
}

func (t *Table) classify(err error, input *dynamodb.TransactWriteItemsInput) error {
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		var failed []int
		for i, reason := range cancelled.CancellationReasons {
			if aws.ToString(reason.Code) == conditionalCheckFailed {
				failed = append(failed, i)
			}
		}
		if len(failed) > 0 {
			t.logger.Debug("Transaction condition failed", zap.Ints("operations", failed))
			return appErrors.NewConditionalCheckError(err, failed)
		}
	}

	t.logger.Error("Transaction failed",
		zap.Int("items", len(input.TransactItems)),
		zap.Error(err),
	)
	return appErrors.NewTransactionError(err, input)
}

func (t *Table) transactItem(op table.Op) (types.TransactWriteItem, error) {
	cond, names, values, update, err := buildExpressions(op)
	if err != nil {
		return types.TransactWriteItem{}, err
	}

	switch {
	case op.Put != nil:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(t.tableName),
			Item:                      op.Put,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}}, nil
	case op.Update != nil:
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 aws.String(t.tableName),
			Key:                       table.KeyItem(op.Update.Key),
			UpdateExpression:          update,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}}, nil
	case op.Delete != nil:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(t.tableName),
			Key:                       table.KeyItem(*op.Delete),
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}}, nil
	case op.Check != nil:
		if cond == nil {
			return types.TransactWriteItem{}, fmt.Errorf("condition check without condition")
		}
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(t.tableName),
			Key:                       table.KeyItem(*op.Check),
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("empty operation")
}
