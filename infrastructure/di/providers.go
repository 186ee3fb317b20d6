package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssecretsmanager "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/processors"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/infrastructure/cache"
	"github.com/monorist/monorise/infrastructure/config"
	"github.com/monorist/monorise/infrastructure/messaging/eventbridge"
	"github.com/monorist/monorise/infrastructure/messaging/sqs"
	"github.com/monorist/monorise/infrastructure/persistence/dynamodb"
	"github.com/monorist/monorise/infrastructure/persistence/table"
	"github.com/monorist/monorise/infrastructure/replication"
	"github.com/monorist/monorise/interfaces/http/rest"
	"github.com/monorist/monorise/pkg/observability"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() || cfg.IsLambda {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level

	return zapCfg.Build(zap.Fields(zap.String("environment", cfg.Environment)))
}

// ProvideAWSConfig creates AWS configuration. Inside Lambda every AWS call is
// recorded as an X-Ray subsegment.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, err
	}
	if cfg.IsLambda && cfg.EnableTracing {
		awsv2.AWSV2Instrumentor(&awsCfg.APIOptions)
	}
	return awsCfg, nil
}

// ProvideDynamoDBClient creates a DynamoDB client, pointed at DYNAMODB_ENDPOINT when set
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideSQSClient creates an SQS client
func ProvideSQSClient(awsCfg aws.Config) *awssqs.Client {
	return awssqs.NewFromConfig(awsCfg)
}

// ProvideS3Client creates an S3 client
func ProvideS3Client(awsCfg aws.Config) *awss3.Client {
	return awss3.NewFromConfig(awsCfg)
}

// ProvideSecretsManagerClient creates a Secrets Manager client
func ProvideSecretsManagerClient(awsCfg aws.Config) *awssecretsmanager.Client {
	return awssecretsmanager.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// DefaultProcessors are the Go processors entity definition files may name
func DefaultProcessors() config.Processors {
	return config.Processors{
		Mutual: map[string]registry.MutualDataProcessor{
			"index": registry.IndexProcessor,
		},
	}
}

// ProvideRegistry loads the entity definitions
func ProvideRegistry(cfg *config.Config) (*registry.Registry, error) {
	return config.LoadRegistry(cfg.EntityConfigPath, DefaultProcessors())
}

// ProvideCollector creates the Prometheus collector
func ProvideCollector() *observability.Collector {
	return observability.NewCollector("monorise")
}

// ProvideTracer creates the X-Ray tracer used by the Lambda entrypoints
func ProvideTracer() *observability.Tracer {
	return observability.NewTracer("monorise")
}

// ProvideTable creates the table adapter, decorated with spans and table metrics
func ProvideTable(client *awsdynamodb.Client, cfg *config.Config, collector *observability.Collector, logger *zap.Logger) table.Table {
	base := dynamodb.NewTable(client, cfg.TableName, logger)
	return table.Instrument(base, otel.Tracer("monorise/table"), collector.ObserveTableOperation)
}

// ProvideIndexes returns the configured index names
func ProvideIndexes(cfg *config.Config) dynamodb.Indexes {
	return dynamodb.Indexes{
		EntityReplication: cfg.EntityReplicationIndex,
		MutualReplication: cfg.MutualReplicationIndex,
	}
}

// ProvideEntityRepository creates an entity repository
func ProvideEntityRepository(t table.Table, reg *registry.Registry, indexes dynamodb.Indexes, logger *zap.Logger) ports.EntityRepository {
	return dynamodb.NewEntityRepository(t, reg, indexes, logger)
}

// ProvideMutualRepository creates a mutual repository
func ProvideMutualRepository(t table.Table, entities ports.EntityRepository, reg *registry.Registry, logger *zap.Logger) ports.MutualRepository {
	return dynamodb.NewMutualRepository(t, entities, reg, logger)
}

// ProvideTagRepository creates a tag repository
func ProvideTagRepository(t table.Table, logger *zap.Logger) ports.TagRepository {
	return dynamodb.NewTagRepository(t, logger)
}

// ProvideReplicaRepository creates a replica repository
func ProvideReplicaRepository(t table.Table, indexes dynamodb.Indexes, logger *zap.Logger) ports.ReplicaRepository {
	return dynamodb.NewReplicaRepository(t, indexes, logger)
}

// ProvideEventPublisher creates the EventBridge publisher
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	return eventbridge.NewPublisher(client, cfg.EventBusName, cfg.EventSource, logger)
}

// ProvideDeadLetterSender creates the DLQ sender, or nil without DLQ_URL
func ProvideDeadLetterSender(client *awssqs.Client, cfg *config.Config, logger *zap.Logger) ports.DeadLetterSender {
	if cfg.DLQURL == "" {
		return nil
	}
	return sqs.NewDeadLetterQueue(client, cfg.DLQURL, logger)
}

// ProvidePrejoinCache selects Redis when REDIS_ADDR is set and the in-process
// cache otherwise
func ProvidePrejoinCache(cfg *config.Config, logger *zap.Logger) ports.PrejoinCache {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(cfg.PrejoinCacheTTL)
	}
	return cache.NewRedisCache(cache.NewRedisClient(cfg.RedisAddr), cfg.PrejoinCacheTTL, logger)
}

// ProvideProcessorMetrics sends processor metrics to CloudWatch when enabled
func ProvideProcessorMetrics(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) ports.ProcessorMetrics {
	if !cfg.EnableMetrics {
		return ports.NopProcessorMetrics{}
	}
	return observability.NewMetrics(fmt.Sprintf("%s/%s", cfg.MetricsPrefix, cfg.Environment), client, logger)
}

// ProvideReplicationSink builds the configured sink behind a circuit breaker.
// It returns nil for REPLICATION_SINK=none.
func ProvideReplicationSink(
	ctx context.Context,
	cfg *config.Config,
	s3Client *awss3.Client,
	secrets *awssecretsmanager.Client,
	logger *zap.Logger,
) (ports.ReplicationSink, error) {
	var sink ports.ReplicationSink
	switch cfg.ReplicationSink {
	case config.SinkS3:
		sink = replication.NewS3Sink(s3Client, cfg.ReplicationBucket, cfg.ReplicationPrefix, logger)
	case config.SinkPostgres:
		dsn, err := replication.LoadDSN(ctx, secrets, cfg.ReplicationDSNSecret)
		if err != nil {
			return nil, err
		}
		db, err := replication.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		pg := replication.NewPostgresSink(db, cfg.ReplicationTable, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sink = pg
	default:
		return nil, nil
	}

	return replication.NewBreakerSink(sink, replication.DefaultBreakerConfig(cfg.ReplicationSink), logger), nil
}

// ProvideStreamDecoder returns the DynamoDB stream decoder
func ProvideStreamDecoder() processors.StreamDecoder {
	return dynamodb.DecodeStreamRecord
}

// ProvideRouter creates the REST router
func ProvideRouter(
	reg *registry.Registry,
	entities *services.EntityService,
	mutuals *services.MutualService,
	tags ports.TagRepository,
	collector *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *rest.Router {
	opts := rest.Options{Debug: cfg.IsDevelopment()}
	if cfg.EnableMetrics {
		opts.Metrics = collector
		opts.MetricsHandler = promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})
	}
	if cfg.EnableTracing {
		opts.TracingService = "monorise-api"
	}
	return rest.NewRouter(reg, entities, mutuals, tags, opts, logger)
}
