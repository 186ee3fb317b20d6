// Package memory is an in-process implementation of the table port with the same
// key, index, condition and transaction semantics as the DynamoDB adapter.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

var errConditionFailed = errors.New("ConditionalCheckFailed")

// IndexSpec names the key attributes of a secondary index.
type IndexSpec struct {
	PartitionAttr string
	SortAttr      string
}

// Table keeps items in memory. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	items   map[string]map[string]table.Item
	indexes map[string]IndexSpec
	writes  int
}

// NewTable creates an empty table with the given secondary indexes.
func NewTable(indexes map[string]IndexSpec) *Table {
	return &Table{
		items:   make(map[string]map[string]table.Item),
		indexes: indexes,
	}
}

var _ table.Table = (*Table)(nil)

// Get returns a copy of the item stored under key.
func (t *Table) Get(_ context.Context, key keys.Key, projection ...string) (table.Item, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	item := t.lookup(key)
	if item == nil {
		return nil, nil
	}
	return project(cloneItem(item), projection), nil
}

// BatchGet returns copies of the items stored under the given keys.
func (t *Table) BatchGet(_ context.Context, ks []keys.Key, projection ...string) ([]table.Item, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]table.Item, 0, len(ks))
	for _, key := range ks {
		if item := t.lookup(key); item != nil {
			out = append(out, project(cloneItem(item), projection))
		}
	}
	return out, nil
}

// Query reads one partition of the base table or of a secondary index.
func (t *Table) Query(_ context.Context, q table.Query) (*table.Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	partitionAttr, sortAttr := keys.AttrPK, keys.AttrSK
	if q.Index != "" {
		spec, ok := t.indexes[q.Index]
		if !ok {
			return nil, appErrors.NewDatabaseError("query", fmt.Errorf("unknown index %q", q.Index))
		}
		partitionAttr, sortAttr = spec.PartitionAttr, spec.SortAttr
	}

	var matched []table.Item
	for _, partition := range t.items {
		for _, item := range partition {
			if table.StringAttr(item, partitionAttr) != q.PartitionValue {
				continue
			}
			sortValue, ok := item[sortAttr].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if q.Between != nil && (sortValue.Value < q.Between.Start || sortValue.Value > q.Between.End) {
				continue
			}
			if q.BeginsWith != "" && !strings.HasPrefix(sortValue.Value, q.BeginsWith) {
				continue
			}
			matched = append(matched, item)
		}
	}

	less := func(a, b table.Item) bool {
		return position(a, sortAttr) < position(b, sortAttr)
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.Descending {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	start := 0
	if len(q.StartKey) > 0 {
		after := position(q.StartKey, sortAttr)
		start = sort.Search(len(matched), func(i int) bool {
			p := position(matched[i], sortAttr)
			if q.Descending {
				return p < after
			}
			return p > after
		})
	}
	matched = matched[start:]

	page := &table.Page{}
	if q.Limit > 0 && int(q.Limit) < len(matched) {
		last := matched[q.Limit-1]
		page.LastKey = keyAttributes(last, partitionAttr, sortAttr)
		matched = matched[:q.Limit]
	}
	for _, item := range matched {
		page.Items = append(page.Items, project(cloneItem(item), q.Projection))
	}
	return page, nil
}

// Write applies a single operation.
func (t *Table) Write(_ context.Context, op table.Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.holds(op) {
		return appErrors.NewConditionalCheckError(errConditionFailed, []int{0})
	}
	if err := t.apply(op); err != nil {
		return appErrors.NewTransactionError(err, op.Key())
	}
	return nil
}

// TransactWrite applies every operation or none of them.
func (t *Table) TransactWrite(_ context.Context, ops []table.Op) error {
	if len(ops) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(ops) > table.MaxTransactItems {
		return appErrors.NewTransactionError(fmt.Errorf("too many operations: %d", len(ops)), len(ops))
	}

	seen := make(map[keys.Key]bool, len(ops))
	var failed []int
	for i, op := range ops {
		key := op.Key()
		if seen[key] {
			return appErrors.NewTransactionError(fmt.Errorf("multiple operations on one item: %v", key), keyList(ops))
		}
		seen[key] = true
		if !t.holds(op) {
			failed = append(failed, i)
		}
	}
	if len(failed) > 0 {
		return appErrors.NewConditionalCheckError(errConditionFailed, failed)
	}

	// Validate every update before mutating anything.
	for _, op := range ops {
		if op.Update != nil {
			if err := t.checkUpdatePaths(op.Update); err != nil {
				return appErrors.NewTransactionError(err, keyList(ops))
			}
		}
	}
	for _, op := range ops {
		if err := t.apply(op); err != nil {
			return appErrors.NewTransactionError(err, keyList(ops))
		}
	}
	return nil
}

// Len returns the number of stored items.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, partition := range t.items {
		n += len(partition)
	}
	return n
}

// Writes returns the number of applied write operations.
func (t *Table) Writes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.writes
}

func (t *Table) lookup(key keys.Key) table.Item {
	if partition, ok := t.items[key.PK]; ok {
		return partition[key.SK]
	}
	return nil
}

func (t *Table) holds(op table.Op) bool {
	item := t.lookup(op.Key())
	cond := op.Condition

	switch cond.Kind {
	case table.Exists:
		return item != nil
	case table.NotExists:
		return item == nil
	case table.Stale:
		if item == nil {
			return !cond.RequireExists
		}
		current, ok := item[cond.Attr].(*types.AttributeValueMemberS)
		return !ok || current.Value < cond.Value
	case table.NotNewer:
		if item == nil {
			return true
		}
		current, ok := item[cond.Attr].(*types.AttributeValueMemberS)
		return !ok || current.Value <= cond.Value
	}
	return true
}

func (t *Table) apply(op table.Op) error {
	key := op.Key()

	switch {
	case op.Put != nil:
		t.store(key, cloneItem(op.Put))
	case op.Delete != nil:
		if partition, ok := t.items[key.PK]; ok {
			delete(partition, key.SK)
			if len(partition) == 0 {
				delete(t.items, key.PK)
			}
		}
	case op.Update != nil:
		if err := t.checkUpdatePaths(op.Update); err != nil {
			return err
		}
		item := t.lookup(key)
		if item == nil {
			item = table.KeyItem(key)
		} else {
			item = cloneItem(item)
		}
		for _, a := range op.Update.Set {
			setPath(item, a.Path, a.Value)
		}
		t.store(key, item)
	case op.Check != nil:
		return nil
	}
	t.writes++
	return nil
}

func (t *Table) checkUpdatePaths(u *table.Update) error {
	item := t.lookup(u.Key)
	for _, a := range u.Set {
		switch len(a.Path) {
		case 1:
		case 2:
			var parent types.AttributeValue
			if item != nil {
				parent = item[a.Path[0]]
			}
			if _, ok := parent.(*types.AttributeValueMemberM); !ok && !setsParent(u.Set, a.Path[0]) {
				return fmt.Errorf("the document path %s is invalid for update", strings.Join(a.Path, "."))
			}
		default:
			return fmt.Errorf("unsupported path depth %d", len(a.Path))
		}
	}
	return nil
}

func setsParent(set []table.Assignment, name string) bool {
	for _, a := range set {
		if len(a.Path) == 1 && a.Path[0] == name {
			return true
		}
	}
	return false
}

func (t *Table) store(key keys.Key, item table.Item) {
	partition, ok := t.items[key.PK]
	if !ok {
		partition = make(map[string]table.Item)
		t.items[key.PK] = partition
	}
	partition[key.SK] = item
}

func setPath(item table.Item, path []string, value types.AttributeValue) {
	if len(path) == 1 {
		item[path[0]] = value
		return
	}
	parent, ok := item[path[0]].(*types.AttributeValueMemberM)
	if !ok {
		return
	}
	parent.Value[path[1]] = value
}

func position(item table.Item, sortAttr string) string {
	return table.StringAttr(item, sortAttr) + "\x00" + table.StringAttr(item, keys.AttrPK) + "\x00" + table.StringAttr(item, keys.AttrSK)
}

func keyAttributes(item table.Item, partitionAttr, sortAttr string) table.Item {
	out := table.Item{}
	for _, name := range []string{keys.AttrPK, keys.AttrSK, partitionAttr, sortAttr} {
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

func keyList(ops []table.Op) []keys.Key {
	out := make([]keys.Key, len(ops))
	for i, op := range ops {
		out[i] = op.Key()
	}
	return out
}

func project(item table.Item, projection []string) table.Item {
	if len(projection) == 0 {
		return item
	}
	out := make(table.Item, len(projection))
	for _, name := range projection {
		parent, child, nested := strings.Cut(name, ".")
		if !nested {
			if v, ok := item[name]; ok {
				out[name] = v
			}
			continue
		}
		m, ok := item[parent].(*types.AttributeValueMemberM)
		if !ok {
			continue
		}
		v, ok := m.Value[child]
		if !ok {
			continue
		}
		target, ok := out[parent].(*types.AttributeValueMemberM)
		if !ok {
			target = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}
			out[parent] = target
		}
		target.Value[child] = v
	}
	return out
}

func cloneItem(item table.Item) table.Item {
	out := make(table.Item, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(tv.Value)}
	case *types.AttributeValueMemberL:
		list := make([]types.AttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			list[i] = cloneValue(e)
		}
		return &types.AttributeValueMemberL{Value: list}
	}
	return v
}
