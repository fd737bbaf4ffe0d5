package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	colorDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/color/domain"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/config"
	esApp "github.com/bennyboer/kicherkrabbe-sub008/internal/es/application"
	esDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	esMongo "github.com/bennyboer/kicherkrabbe-sub008/internal/es/infra/outbound/db/mongodb"
	esPostgres "github.com/bennyboer/kicherkrabbe-sub008/internal/es/infra/outbound/db/postgres"
	inquiryDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/inquiry/domain"
	outboxApp "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/application"
	outboxDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
	amqpBroker "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/infra/outbound/broker/amqp"
	kafkaBroker "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/infra/outbound/broker/kafka"
	outboxMongo "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/infra/outbound/db/mongodb"
	outboxPostgres "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/infra/outbound/db/postgres"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/infra/relayer"
	sharedMongo "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/mongodb"
	sharedPostgres "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/postgres"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/utils"
	"github.com/bennyboer/kicherkrabbe-sub008/internal/shared/platform/persistence"
	"github.com/bennyboer/kicherkrabbe-sub008/pkg/logger"
)

// Stores and the broker may come up later than this process, e.g. during
// a compose start. Connection attempts are retried before giving up.
const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Stores ----------------
	var (
		eventStore  esDomain.EventStore
		outboxStore outboxDomain.Store
		txManager   persistence.TransactionManager
		changeFeed  func(ctx context.Context, outbox *outboxApp.Outbox)
	)

	switch cfg.StoreDriver {
	case "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Disconnect(context.Background())
		if err := utils.Retry(ctx, connectAttempts, connectRetryDelay, func() error {
			return client.Ping(ctx, nil)
		}); err != nil {
			log.Fatal("failed to reach MongoDB", zap.Error(err))
		}

		mongoEventStore := esMongo.NewEventStore(client, cfg.MongoDatabase)
		if err := mongoEventStore.EnsureIndexes(ctx); err != nil {
			log.Fatal("failed to ensure event store indexes", zap.Error(err))
		}
		mongoOutboxStore := outboxMongo.NewStore(client, cfg.MongoDatabase)
		if err := mongoOutboxStore.EnsureIndexes(ctx); err != nil {
			log.Fatal("failed to ensure outbox indexes", zap.Error(err))
		}

		eventStore = mongoEventStore
		outboxStore = mongoOutboxStore
		txManager = sharedMongo.NewTransactionManager(client)
		changeFeed = func(ctx context.Context, outbox *outboxApp.Outbox) {
			outboxMongo.NewInsertWatcher(mongoOutboxStore.Collection(), outbox, log).Run(ctx)
		}
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal("failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := utils.Retry(ctx, connectAttempts, connectRetryDelay, func() error {
			return pool.Ping(ctx)
		}); err != nil {
			log.Fatal("failed to reach Postgres", zap.Error(err))
		}

		pgEventStore := esPostgres.NewEventStore(pool)
		if err := pgEventStore.InitSchema(ctx); err != nil {
			log.Fatal("failed to initialize events schema", zap.Error(err))
		}
		pgOutboxStore := outboxPostgres.NewStore(pool)
		if err := pgOutboxStore.InitSchema(ctx); err != nil {
			log.Fatal("failed to initialize outbox schema", zap.Error(err))
		}

		eventStore = pgEventStore
		outboxStore = pgOutboxStore
		txManager = sharedPostgres.NewTransactionManager(pool)
		changeFeed = func(ctx context.Context, outbox *outboxApp.Outbox) {
			outboxPostgres.NewInsertListener(pool, outbox, log).Run(ctx)
		}
	default:
		log.Fatal("unsupported store driver", zap.String("driver", cfg.StoreDriver))
	}

	// ---------------- Broker ----------------
	var brokerPublisher outboxDomain.BrokerPublisher

	switch cfg.BrokerDriver {
	case "amqp":
		var conn *amqp.Connection
		if err := utils.Retry(ctx, connectAttempts, connectRetryDelay, func() error {
			var err error
			conn, err = amqp.Dial(cfg.AMQPURL)
			return err
		}); err != nil {
			log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()

		brokerPublisher, err = amqpBroker.NewPublisher(conn, cfg.AMQPConfirmTimeout, log)
		if err != nil {
			log.Fatal("failed to open RabbitMQ channel", zap.Error(err))
		}
	case "kafka":
		brokerPublisher = kafkaBroker.NewPublisher(cfg.KafkaBrokers, log)
	default:
		log.Fatal("unsupported broker driver", zap.String("driver", cfg.BrokerDriver))
	}
	defer brokerPublisher.Close()

	// ---------------- Outbox ----------------
	outbox := outboxApp.New(outboxStore, brokerPublisher, cfg.OutboxBatchSize, log)
	eventPublisher := outboxApp.NewEventPublisher(outbox)

	// ---------------- Engines ----------------
	colorEngine := esApp.NewEngine(
		colorDomain.AggregateType,
		colorDomain.NewColor,
		colorDomain.NewEventRegistry(),
		eventStore, eventPublisher, txManager, log)
	inquiryEngine := esApp.NewEngine(
		inquiryDomain.AggregateType,
		inquiryDomain.NewInquiry,
		inquiryDomain.NewEventRegistry(),
		eventStore, eventPublisher, txManager, log)

	if cfg.SeedDemoData {
		seedDemoData(ctx, colorEngine, inquiryEngine, log)
	}

	// ---------------- Relaying ----------------
	go changeFeed(ctx, outbox)

	scheduler := relayer.NewScheduler(outbox,
		cfg.DrainInterval, cfg.StaleFailureInterval, cfg.StaleLockInterval, cfg.CleanupInterval, log)

	log.Info("kicherkrabbe event backbone running",
		zap.String("storeDriver", cfg.StoreDriver),
		zap.String("brokerDriver", cfg.BrokerDriver))
	scheduler.Run(ctx)
}

// seedDemoData runs the whole pipeline once against real infrastructure:
// create and mutate a color, then send, delete and collapse an inquiry.
func seedDemoData(
	ctx context.Context,
	colors *esApp.Engine[*colorDomain.Color],
	inquiries *esApp.Engine[*inquiryDomain.Inquiry],
	log *zap.Logger,
) {
	agent := esDomain.SystemAgent()

	colorID := esDomain.AggregateID(uuid.NewString())
	version, err := colors.DispatchCommandToLatest(ctx, colorID, agent,
		colorDomain.CreateCmd{Name: "Crab Red", Red: 220, Green: 40, Blue: 30})
	if err != nil {
		log.Error("seeding demo color failed", zap.Error(err))
		return
	}
	if _, err := colors.DispatchCommand(ctx, colorID, version, agent,
		colorDomain.UpdateCmd{Name: "Crab Crimson", Red: 200, Green: 30, Blue: 40}); err != nil {
		log.Error("updating demo color failed", zap.Error(err))
		return
	}

	inquiryID := esDomain.AggregateID(uuid.NewString())
	version, err = inquiries.DispatchCommandToLatest(ctx, inquiryID, agent,
		inquiryDomain.SendCmd{
			Mail:    "demo@example.com",
			Subject: "Demo inquiry",
			Message: "Seeded on startup to exercise the pipeline.",
		})
	if err != nil {
		log.Error("seeding demo inquiry failed", zap.Error(err))
		return
	}
	version, err = inquiries.DispatchCommandToLatest(ctx, inquiryID, agent, inquiryDomain.DeleteCmd{})
	if err != nil {
		log.Error("deleting demo inquiry failed", zap.Error(err))
		return
	}
	if _, err := inquiries.CollapseEvents(ctx, inquiryID, version, agent); err != nil {
		log.Error("collapsing demo inquiry failed", zap.Error(err))
		return
	}

	log.Info("seeded demo data",
		zap.String("colorId", string(colorID)),
		zap.String("inquiryId", string(inquiryID)))
}
