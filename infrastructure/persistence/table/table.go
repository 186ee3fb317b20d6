// Package table is the storage port of the single-table layout. Repositories talk
// to it instead of the DynamoDB client so they can run against any implementation
// with the same conditional and transactional semantics.
package table

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/monorist/monorise/domain/keys"
)

// Item is one stored record.
type Item = map[string]types.AttributeValue

const (
	// MaxTransactItems is the largest number of operations one transactional write
	// may carry.
	MaxTransactItems = 100
	// MaxBatchGetItems is the largest number of keys one batch read may carry.
	MaxBatchGetItems = 100
)

// Table is implemented by the DynamoDB adapter and the in-memory adapter.
type Table interface {
	// Get returns the item stored under key, or nil when there is none.
	Get(ctx context.Context, key keys.Key, projection ...string) (Item, error)
	// BatchGet reads several items. Missing items are skipped; the order of the
	// result is unspecified.
	BatchGet(ctx context.Context, keys []keys.Key, projection ...string) ([]Item, error)
	// Query reads one partition of the table or of an index.
	Query(ctx context.Context, q Query) (*Page, error)
	// Write applies a single operation.
	Write(ctx context.Context, op Op) error
	// TransactWrite applies all operations or none of them.
	TransactWrite(ctx context.Context, ops []Op) error
}

// Query describes a partition read. Between and BeginsWith are mutually exclusive.
type Query struct {
	// Index is empty for the base table.
	Index          string
	PartitionAttr  string
	PartitionValue string
	SortAttr       string
	Between        *Range
	BeginsWith     string
	Limit          int32
	StartKey       Item
	Projection     []string
	Descending     bool
}

// Range bounds a sort key inclusively on both ends.
type Range struct {
	Start string
	End   string
}

// Page is the result of one Query call.
type Page struct {
	Items []Item
	// LastKey is nil when the partition has been read to the end.
	LastKey Item
}

// Op is one write. Exactly one of Put, Update, Delete or Check is set.
type Op struct {
	Put       Item
	Update    *Update
	Delete    *keys.Key
	Check     *keys.Key
	Condition Condition
}

// Key returns the primary key the operation addresses.
func (o Op) Key() keys.Key {
	switch {
	case o.Put != nil:
		return KeyOf(o.Put)
	case o.Update != nil:
		return o.Update.Key
	case o.Delete != nil:
		return *o.Delete
	case o.Check != nil:
		return *o.Check
	}
	return keys.Key{}
}

// Update sets attribute paths of an existing or new item.
type Update struct {
	Key keys.Key
	Set []Assignment
}

// Assignment sets the value at Path. A path of two elements addresses a key of a
// map attribute.
type Assignment struct {
	Path  []string
	Value types.AttributeValue
}

// ConditionKind selects the guard of a write.
type ConditionKind int

const (
	// Unconditional writes always apply.
	Unconditional ConditionKind = iota
	// Exists requires the item to exist.
	Exists
	// NotExists requires the item to be absent.
	NotExists
	// Stale requires Attr to be absent or lexically lower than Value. With
	// RequireExists the item itself must exist too.
	Stale
	// NotNewer requires Attr to be absent or lexically lower than or equal to
	// Value. Replays of the same version pass.
	NotNewer
)

// Condition guards a write.
type Condition struct {
	Kind          ConditionKind
	Attr          string
	Value         string
	RequireExists bool
}

// IfExists guards a write on the item existing.
func IfExists() Condition { return Condition{Kind: Exists} }

// IfNotExists guards a write on the item being absent.
func IfNotExists() Condition { return Condition{Kind: NotExists} }

// IfStale guards a write on attr being older than value.
func IfStale(attr, value string, requireExists bool) Condition {
	return Condition{Kind: Stale, Attr: attr, Value: value, RequireExists: requireExists}
}

// IfNotNewer guards a write on attr not being newer than value.
func IfNotNewer(attr, value string) Condition {
	return Condition{Kind: NotNewer, Attr: attr, Value: value}
}

// PutOp builds a put operation.
func PutOp(item Item, cond Condition) Op { return Op{Put: item, Condition: cond} }

// DeleteOp builds a delete operation.
func DeleteOp(key keys.Key, cond Condition) Op { return Op{Delete: &key, Condition: cond} }

// CheckOp builds a condition check that writes nothing.
func CheckOp(key keys.Key, cond Condition) Op { return Op{Check: &key, Condition: cond} }

// UpdateOp builds an update operation.
func UpdateOp(key keys.Key, cond Condition, set ...Assignment) Op {
	return Op{Update: &Update{Key: key, Set: set}, Condition: cond}
}

// Set marshals value into an assignment for path.
func Set(value interface{}, path ...string) (Assignment, error) {
	av, err := attributevalue.Marshal(value)
	if err != nil {
		return Assignment{}, fmt.Errorf("marshal %v: %w", path, err)
	}
	return Assignment{Path: path, Value: av}, nil
}

// KeyOf reads the primary key of an item.
func KeyOf(item Item) keys.Key {
	return keys.Key{PK: StringAttr(item, keys.AttrPK), SK: StringAttr(item, keys.AttrSK)}
}

// StringAttr reads a string attribute, returning "" when it is absent or not a string.
func StringAttr(item Item, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// KeyItem renders a key as an item.
func KeyItem(key keys.Key) Item {
	return Item{
		keys.AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		keys.AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}
