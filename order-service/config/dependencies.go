package config

import (
	"context"
	"fmt"

	"github.com/draftea/order-system/order-service/application"
	"github.com/draftea/order-system/order-service/domain"
	"github.com/draftea/order-system/order-service/handlers"
	"github.com/draftea/order-system/order-service/infrastructure"
	"github.com/draftea/order-system/shared/events"
	sharedinfra "github.com/draftea/order-system/shared/infrastructure"
	"github.com/draftea/order-system/shared/logging"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/draftea/order-system/shared/saga"
	"github.com/draftea/order-system/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const deliveryCachePrefix = "order-saga:delivery"

// sagaRepository is what the orchestrator and the saga query need from storage
type sagaRepository interface {
	saga.Store
	application.SagaReader
}

type Dependencies struct {
	Logger *zap.Logger

	// Database
	DB *sqlx.DB

	// Repositories
	SagaRepository   sagaRepository
	OutboxRepository outbox.Repository

	// Saga
	DeliveryCache saga.DeliveryCache
	Orchestrator  *saga.Orchestrator

	// Use Cases
	ProcessOrderEvent *application.ProcessOrderEvent
	GetOrderSaga      *application.GetOrderSaga
	GetOutboxStats    *application.GetOutboxStats

	// HTTP Handlers
	OrderSagaHandlers *handlers.OrderSagaHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Infrastructure
	Redis           *redis.Client
	EventPublisher  events.Publisher
	Dispatcher      *outbox.Dispatcher
	EventSubscriber *sharedinfra.SQSEventSubscriber

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()

	closers []func() error
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	logger, err := logging.New(config.LogLevel, config.Env)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Logger: logger}
	if err := deps.build(ctx, config); err != nil {
		if closeErr := deps.Close(); closeErr != nil {
			logger.Warn("failed to release partial dependencies", zap.Error(closeErr))
		}
		return nil, err
	}

	return deps, nil
}

func (d *Dependencies) build(ctx context.Context, config *Config) error {
	// Initialize telemetry first
	telConfig := telemetry.OrderServiceConfig.
		WithServiceName(config.ServiceName).
		WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
	if config.Telemetry.Enabled {
		tel, shutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			// Continue without exporters rather than failing
			d.Logger.Warn("failed to initialize telemetry", zap.Error(err))
			tel = telemetry.NewTelemetry(telConfig)
		} else {
			d.TelemetryShutdown = shutdown
		}
		d.Telemetry = tel
	} else {
		d.Telemetry = telemetry.NewTelemetry(telConfig)
	}

	if err := d.buildStorage(ctx, config); err != nil {
		return err
	}

	// Delivery cache
	if config.Saga.RedisAddr != "" {
		d.Redis = sharedinfra.NewRedisClient(config.Saga.RedisAddr, config.Saga.RedisPassword, config.Saga.RedisDB)
		d.closers = append(d.closers, d.Redis.Close)
		d.DeliveryCache = sharedinfra.NewRedisDeliveryCache(d.Redis, deliveryCachePrefix, config.Saga.DedupTTL)
	} else {
		d.DeliveryCache = saga.NewMemoryDeliveryCache(config.Saga.DedupCacheSize)
	}

	d.Orchestrator = saga.NewOrchestrator(d.SagaRepository, domain.NewOrderStateMachine(),
		saga.WithDeliveryCache(d.DeliveryCache),
		saga.WithLogger(d.Logger.Named("saga")),
	)

	awsSettings := sharedinfra.AWSSettings{
		Region:          config.AWS.Region,
		AccessKeyID:     config.AWS.AccessKeyID,
		SecretAccessKey: config.AWS.SecretAccessKey,
	}
	awsConfig, err := sharedinfra.LoadAWSConfig(ctx, awsSettings)
	if err != nil {
		return err
	}

	// Outbound transport
	switch config.Outbox.Transport {
	case TransportRabbitMQ:
		publisher, err := sharedinfra.DialRabbitMQ(config.RabbitMQ.URL, config.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, publisher.Close)
		d.EventPublisher = publisher
	default:
		snsSettings := awsSettings
		snsSettings.Endpoint = config.AWS.EndpointSNS
		d.EventPublisher = sharedinfra.NewSNSEventPublisher(
			sharedinfra.NewSNSClient(awsConfig, snsSettings),
			config.AWS.SNSTopicArn,
			config.Outbox.Routes,
		)
	}

	dispatcher, err := outbox.NewDispatcher(d.OutboxRepository, d.EventPublisher,
		outbox.WithDispatchInterval(config.Outbox.Interval),
		outbox.WithBatchSize(config.Outbox.BatchSize),
		outbox.WithPublishTimeout(config.Outbox.PublishTimeout),
		outbox.WithLogger(d.Logger.Named("outbox")),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create outbox dispatcher")
	}
	d.Dispatcher = dispatcher

	// Initialize use cases
	d.ProcessOrderEvent = application.NewProcessOrderEvent(d.Orchestrator)
	d.GetOrderSaga = application.NewGetOrderSaga(d.SagaRepository)
	d.GetOutboxStats = application.NewGetOutboxStats(d.OutboxRepository)

	// Initialize handlers
	d.OrderSagaHandlers = handlers.NewOrderSagaHandlers(d.GetOrderSaga, d.GetOutboxStats)
	d.OrderEventHandlers = handlers.NewOrderEventHandlers(d.ProcessOrderEvent, d.Logger.Named("events"))

	// Inbound transport
	sqsSettings := awsSettings
	sqsSettings.Endpoint = config.AWS.EndpointSQS
	d.EventSubscriber = sharedinfra.NewSQSEventSubscriber(
		sharedinfra.NewSQSClient(awsConfig, sqsSettings),
		config.AWS.SQSQueueURL,
		d.OrderEventHandlers,
		sharedinfra.WithWorkers(config.AWS.Workers),
		sharedinfra.WithVisibilityTimeout(config.AWS.VisibilityTimeout),
		sharedinfra.WithSubscriberName(config.ServiceName),
		sharedinfra.WithSubscriberLogger(d.Logger.Named("sqs")),
	)

	return nil
}

func (d *Dependencies) buildStorage(ctx context.Context, config *Config) error {
	if config.Database.Driver == DriverMemory {
		repository := infrastructure.NewMemorySagaRepository(
			infrastructure.WithMemoryLockTimeout(config.Saga.LockTimeout),
		)
		d.SagaRepository = repository
		d.OutboxRepository = repository
		return nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", config.GetDatabaseURL())
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	d.DB = db
	db.SetMaxOpenConns(config.Database.MaxOpenConns)
	db.SetMaxIdleConns(config.Database.MaxIdleConns)

	if config.Database.AutoMigrate {
		if err := infrastructure.Migrate(ctx, db); err != nil {
			return err
		}
	}

	d.SagaRepository = infrastructure.NewPostgresSagaRepository(db, config.Saga.LockTimeout)
	d.OutboxRepository = infrastructure.NewPostgresOutboxRepository(db, config.Outbox.ClaimLease)
	return nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close database"))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
