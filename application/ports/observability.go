package ports

import (
	"context"
	"time"
)

// Record outcomes reported to ProcessorMetrics.
const (
	OutcomeProcessed    = "processed"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeFailed       = "failed"
)

// ProcessorMetrics records the outcome of every record handled by a processor.
type ProcessorMetrics interface {
	RecordProcessed(ctx context.Context, processor, outcome string, duration time.Duration)
}

// NopProcessorMetrics discards every measurement.
type NopProcessorMetrics struct{}

func (NopProcessorMetrics) RecordProcessed(context.Context, string, string, time.Duration) {}
