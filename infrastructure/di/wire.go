//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/monorist/monorise/application/processors"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/infrastructure/config"
)

// AWSSet provides the AWS clients
var AWSSet = wire.NewSet(
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideSQSClient,
	ProvideS3Client,
	ProvideSecretsManagerClient,
	ProvideCloudWatchClient,
)

// StorageSet provides the table and the repositories
var StorageSet = wire.NewSet(
	ProvideRegistry,
	ProvideTable,
	ProvideIndexes,
	ProvideEntityRepository,
	ProvideMutualRepository,
	ProvideTagRepository,
	ProvideReplicaRepository,
	ProvidePrejoinCache,
	ProvideReplicationSink,
	ProvideStreamDecoder,
)

// ApplicationSet provides the services and processors
var ApplicationSet = wire.NewSet(
	services.NewEntityService,
	services.NewMutualService,
	services.NewMutualFieldSync,
	processors.NewCreateEntityProcessor,
	processors.NewMutualProcessor,
	processors.NewTagProcessor,
	processors.NewPrejoinProcessor,
	processors.NewReplicationProcessor,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideCollector,
	ProvideTracer,
	ProvideEventPublisher,
	ProvideDeadLetterSender,
	ProvideProcessorMetrics,
	ProvideRouter,
	AWSSet,
	StorageSet,
	ApplicationSet,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil
}
