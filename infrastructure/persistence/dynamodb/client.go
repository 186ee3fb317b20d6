package dynamodb

import (
	"context"
	"errors"
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

// DynamoDBAPI is the subset of the DynamoDB client used by the table adapter.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Table implements table.Table on top of DynamoDB
type Table struct {
	client    DynamoDBAPI
	tableName string
	retry     retry.Config
	logger    *zap.Logger
}

// NewTable creates a new DynamoDB table adapter
func NewTable(client DynamoDBAPI, tableName string, logger *zap.Logger) *Table {
	return &Table{
		client:    client,
		tableName: tableName,
		retry:     retry.DefaultConfig(),
		logger:    logger,
	}
}

var _ table.Table = (*Table)(nil)

// WithRetry overrides the throttling retry policy
func (t *Table) WithRetry(cfg retry.Config) *Table {
	t.retry = cfg
	return t
}

// Get performs a strongly consistent point read
func (t *Table) Get(ctx context.Context, key keys.Key, projection ...string) (table.Item, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(t.tableName),
		Key:            table.KeyItem(key),
		ConsistentRead: aws.Bool(true),
	}

	if len(projection) > 0 {
		expr, err := expression.NewBuilder().WithProjection(projectionOf(projection)).Build()
		if err != nil {
			return nil, appErrors.NewDatabaseError("get", err)
		}
		input.ProjectionExpression = expr.Projection()
		input.ExpressionAttributeNames = expr.Names()
	}

	var output *dynamodb.GetItemOutput
	err := retry.Do(ctx, t.retry, retry.IsThrottlingError, func(ctx context.Context) error {
		var err error
		output, err = t.client.GetItem(ctx, input)
		return err
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError("get", err)
	}
	if len(output.Item) == 0 {
		return nil, nil
	}
	return output.Item, nil
}

// Query reads one partition of the table or of an index
func (t *Table) Query(ctx context.Context, q table.Query) (*table.Page, error) {
	keyCond := expression.Key(q.PartitionAttr).Equal(expression.Value(q.PartitionValue))
	switch {
	case q.Between != nil:
		keyCond = keyCond.And(expression.Key(q.SortAttr).Between(expression.Value(q.Between.Start), expression.Value(q.Between.End)))
	case q.BeginsWith != "":
		keyCond = keyCond.And(expression.Key(q.SortAttr).BeginsWith(q.BeginsWith))
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if len(q.Projection) > 0 {
		builder = builder.WithProjection(projectionOf(q.Projection))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, appErrors.NewDatabaseError("query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         q.StartKey,
		ScanIndexForward:          aws.Bool(!q.Descending),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}

	var output *dynamodb.QueryOutput
	err = retry.Do(ctx, t.retry, retry.IsThrottlingError, func(ctx context.Context) error {
		var err error
		output, err = t.client.Query(ctx, input)
		return err
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError("query", err)
	}

	page := &table.Page{Items: output.Items}
	if len(output.LastEvaluatedKey) > 0 {
		page.LastKey = output.LastEvaluatedKey
	}
	return page, nil
}

// Write applies a single operation without a transaction
func (t *Table) Write(ctx context.Context, op table.Op) error {
	if op.Check != nil {
		return t.TransactWrite(ctx, []table.Op{op})
	}

	cond, names, values, update, err := buildExpressions(op)
	if err != nil {
		return appErrors.NewTransactionError(err, op.Key())
	}

	err = retry.Do(ctx, t.retry, retry.IsThrottlingError, func(ctx context.Context) error {
		var err error
		switch {
		case op.Put != nil:
			_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                 aws.String(t.tableName),
				Item:                      op.Put,
				ConditionExpression:       cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			})
		case op.Update != nil:
			_, err = t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 aws.String(t.tableName),
				Key:                       table.KeyItem(op.Update.Key),
				UpdateExpression:          update,
				ConditionExpression:       cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			})
		case op.Delete != nil:
			_, err = t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(t.tableName),
				Key:                       table.KeyItem(*op.Delete),
				ConditionExpression:       cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			})
		default:
			err = fmt.Errorf("empty operation")
		}
		return err
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return appErrors.NewConditionalCheckError(err, []int{0})
	}

	t.logger.Error("Write failed",
		zap.String("pk", op.Key().PK),
		zap.String("sk", op.Key().SK),
		zap.Error(err),
	)
	return appErrors.NewTransactionError(err, op.Key())
}

// rawValue passes an already marshalled attribute value through the expression builder.
type rawValue struct {
	av types.AttributeValue
}

func (r rawValue) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return r.av, nil
}

func projectionOf(names []string) expression.ProjectionBuilder {
	builders := make([]expression.NameBuilder, len(names))
	for i, n := range names {
		builders[i] = expression.Name(n)
	}
	return expression.NamesList(builders[0], builders[1:]...)
}

func conditionOf(c table.Condition) (expression.ConditionBuilder, bool) {
	exists := expression.AttributeExists(expression.Name(keys.AttrPK))

	switch c.Kind {
	case table.Exists:
		return exists, true
	case table.NotExists:
		return expression.AttributeNotExists(expression.Name(keys.AttrPK)), true
	case table.Stale:
		stale := expression.Or(
			expression.AttributeNotExists(expression.Name(c.Attr)),
			expression.Name(c.Attr).LessThan(expression.Value(c.Value)),
		)
		if c.RequireExists {
			return expression.And(exists, stale), true
		}
		return stale, true
	case table.NotNewer:
		return expression.Or(
			expression.AttributeNotExists(expression.Name(c.Attr)),
			expression.Name(c.Attr).LessThanEqual(expression.Value(c.Value)),
		), true
	}
	return expression.ConditionBuilder{}, false
}

func updateOf(u *table.Update) (expression.UpdateBuilder, bool) {
	if len(u.Set) == 0 {
		return expression.UpdateBuilder{}, false
	}
	var update expression.UpdateBuilder
	for i, a := range u.Set {
		name := expression.Name(joinPath(a.Path))
		if i == 0 {
			update = expression.Set(name, expression.Value(rawValue{a.Value}))
			continue
		}
		update = update.Set(name, expression.Value(rawValue{a.Value}))
	}
	return update, true
}

func joinPath(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}

// buildExpressions renders the condition and update of op. Nil strings mean the
// corresponding expression is absent.
func buildExpressions(op table.Op) (cond *string, names map[string]string, values map[string]types.AttributeValue, update *string, err error) {
	builder := expression.NewBuilder()
	hasExpr := false

	if c, ok := conditionOf(op.Condition); ok {
		builder = builder.WithCondition(c)
		hasExpr = true
	}
	if op.Update != nil {
		if u, ok := updateOf(op.Update); ok {
			builder = builder.WithUpdate(u)
			hasExpr = true
		}
	}
	if !hasExpr {
		return nil, nil, nil, nil, nil
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return expr.Condition(), expr.Names(), expr.Values(), expr.Update(), nil
}
