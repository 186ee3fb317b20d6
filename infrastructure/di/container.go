// Package di wires the application from configuration. Every entrypoint builds
// one Container and picks the parts it serves.
package di

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/processors"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/infrastructure/config"
	"github.com/monorist/monorise/interfaces/http/rest"
	"github.com/monorist/monorise/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Registry  *registry.Registry
	Entities  ports.EntityRepository
	Mutuals   ports.MutualRepository
	Tags      ports.TagRepository
	Publisher ports.EventPublisher
	DLQ       ports.DeadLetterSender
	Metrics   ports.ProcessorMetrics
	Collector *observability.Collector
	Tracer    *observability.Tracer

	EntityService *services.EntityService
	MutualService *services.MutualService

	CreateEntityProcessor *processors.CreateEntityProcessor
	MutualProcessor       *processors.MutualProcessor
	TagProcessor          *processors.TagProcessor
	PrejoinProcessor      *processors.PrejoinProcessor
	ReplicationProcessor  *processors.ReplicationProcessor

	Router *rest.Router
}

// SQSRunner adapts a processor to SQS batches. Inside Lambda each record runs
// in its own X-Ray subsegment annotated with the detail type.
func (c *Container) SQSRunner(name string, handle processors.Handler) *processors.BatchRunner {
	traced := handle
	if c.Config.IsLambda && c.Config.EnableTracing {
		traced = func(ctx context.Context, detailType string, detail json.RawMessage) error {
			return c.Tracer.TraceFunction(ctx, name, func(ctx context.Context) error {
				c.Tracer.AddAnnotation(ctx, "detailType", detailType)
				return handle(ctx, detailType, detail)
			})
		}
	}
	return processors.NewBatchRunner(name, traced, c.DLQ, c.Metrics, c.Logger)
}

// Close flushes the logger
func (c *Container) Close() {
	_ = c.Logger.Sync()
}

// Bootstrap loads the configuration from the environment and wires a container
func Bootstrap(ctx context.Context) (*Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return InitializeContainer(ctx, cfg)
}
