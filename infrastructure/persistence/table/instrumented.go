package table

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/monorist/monorise/domain/keys"
)

// OperationObserver receives the latency and result of every table call
type OperationObserver func(operation string, duration time.Duration, err error)

// Instrumented wraps a Table with one span and one observation per call
type Instrumented struct {
	next    Table
	tracer  trace.Tracer
	observe OperationObserver
}

var _ Table = (*Instrumented)(nil)

// Instrument decorates next. observe may be nil.
func Instrument(next Table, tracer trace.Tracer, observe OperationObserver) *Instrumented {
	if observe == nil {
		observe = func(string, time.Duration, error) {}
	}
	return &Instrumented{next: next, tracer: tracer, observe: observe}
}

func (t *Instrumented) run(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, "table."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	t.observe(operation, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *Instrumented) Get(ctx context.Context, key keys.Key, projection ...string) (Item, error) {
	var item Item
	err := t.run(ctx, "get", []attribute.KeyValue{attribute.String("db.pk", key.PK), attribute.String("db.sk", key.SK)}, func(ctx context.Context) error {
		var err error
		item, err = t.next.Get(ctx, key, projection...)
		return err
	})
	return item, err
}

func (t *Instrumented) BatchGet(ctx context.Context, ks []keys.Key, projection ...string) ([]Item, error) {
	var items []Item
	err := t.run(ctx, "batch_get", []attribute.KeyValue{attribute.Int("db.keys", len(ks))}, func(ctx context.Context) error {
		var err error
		items, err = t.next.BatchGet(ctx, ks, projection...)
		return err
	})
	return items, err
}

func (t *Instrumented) Query(ctx context.Context, q Query) (*Page, error) {
	var page *Page
	attrs := []attribute.KeyValue{
		attribute.String("db.index", q.Index),
		attribute.String("db.partition", q.PartitionValue),
	}
	err := t.run(ctx, "query", attrs, func(ctx context.Context) error {
		var err error
		page, err = t.next.Query(ctx, q)
		return err
	})
	return page, err
}

func (t *Instrumented) Write(ctx context.Context, op Op) error {
	return t.run(ctx, "write", nil, func(ctx context.Context) error {
		return t.next.Write(ctx, op)
	})
}

func (t *Instrumented) TransactWrite(ctx context.Context, ops []Op) error {
	return t.run(ctx, "transact_write", []attribute.KeyValue{attribute.Int("db.operations", len(ops))}, func(ctx context.Context) error {
		return t.next.TransactWrite(ctx, ops)
	})
}
