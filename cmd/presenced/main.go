package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	presence "github.com/Mayor78/mtbm-attendance-sub000"
	"github.com/Mayor78/mtbm-attendance-sub000/common"
	"github.com/Mayor78/mtbm-attendance-sub000/common/aws/config"
	"github.com/Mayor78/mtbm-attendance-sub000/common/conn"
	"github.com/Mayor78/mtbm-attendance-sub000/common/db"
	"github.com/Mayor78/mtbm-attendance-sub000/common/feed"
	"github.com/Mayor78/mtbm-attendance-sub000/common/loggers"
	"github.com/Mayor78/mtbm-attendance-sub000/common/metrics"
	"github.com/Mayor78/mtbm-attendance-sub000/common/notifs"
	"github.com/Mayor78/mtbm-attendance-sub000/common/server"
	"github.com/Mayor78/mtbm-attendance-sub000/common/storage"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
	"github.com/Mayor78/mtbm-attendance-sub000/services"
)

func main() {
	var args struct {
		EnvFile  string   `arg:"-e,--env-file" help:"path to a .env file to load"`
		Store    string   `arg:"env:QUEUE_STORE" default:"redis" help:"queue store backend (redis or dynamo)"`
		Sessions []string `arg:"-s,--session,separate" help:"session ids to observe on startup"`
	}
	arg.MustParse(&args)

	if len(args.EnvFile) > 0 {
		if err := godotenv.Load(args.EnvFile); err != nil {
			log.Fatalf("Error loading %s: %v", args.EnvFile, err)
		}
	}

	logger := loggers.NewLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricService, err := metrics.NewMetricService(ctx, logger)
	if err != nil {
		logger.Fatalf("error creating metric service: %v", err)
	}
	defer metricService.Shutdown(context.Background())

	notifier, err := notifs.NewDiscordHandler(logger)
	if err != nil {
		logger.Fatalf("error creating discord handler: %v", err)
	}

	store, err := newQueueStore(ctx, args.Store, logger)
	if err != nil {
		logger.Fatalf("error creating %s queue store: %v", args.Store, err)
	}

	serverUrl := os.Getenv(presence.Env_ServerUrl)
	submissionClient := server.NewClient(serverUrl, logger)

	monitor := conn.NewMonitor(conn.HttpProbe(serverUrl), logger)
	go monitor.Run(ctx)

	// Flow:
	// ====
	// 1. Submission service:
	//	- Persist check-ins to the queue store
	//  - Drain the backlog to the server whenever connectivity returns
	// 2. Subscription service:
	//	- Hold one feed subscription for the observed sessions
	//  - Hand insert notifications to the aggregation service
	// 3. Aggregation service:
	//	- Debounce feed bursts into batches
	//  - Merge batches into per-session aggregates and the activity log

	submitter := services.NewSubmissionService(store, submissionClient, monitor, notifier, metricService, logger)
	if err = submitter.Start(ctx); err != nil {
		logger.Fatalf("error loading queued submissions: %v", err)
	}
	if err = metricService.Gauge(ctx, models.MetricName_QueueLength, submitter); err != nil {
		logger.Fatalf("error registering queue length gauge: %v", err)
	}
	go submitter.Run(ctx)

	profileDb := db.NewProfileDb(db.ProfileDbOpts{
		Host:     os.Getenv(common.Env_DbHost),
		Port:     os.Getenv(common.Env_DbPort),
		User:     os.Getenv(common.Env_DbUsername),
		Password: os.Getenv(common.Env_DbPassword),
		Name:     os.Getenv(common.Env_DbName),
	}, logger)
	aggregator := services.NewAggregationService(profileDb, metricService, logger)

	feedSource := feed.NewPubNubSource(feed.PubNubOpts{
		SubscribeKey: os.Getenv(presence.Env_PubNubSubscribeKey),
		UserId:       os.Getenv(presence.Env_PubNubUserId),
	}, logger)
	subscription := services.NewSubscriptionService(feedSource, aggregator, metricService, logger)
	if len(args.Sessions) > 0 {
		if err = subscription.SetInterestSet(ctx, args.Sessions); err != nil {
			logger.Fatalf("error subscribing to sessions %v: %v", args.Sessions, err)
		}
	}

	<-ctx.Done()
	logger.Infoln("main: shutting down")
	subscription.Close()
	aggregator.Close()
}

func newQueueStore(ctx context.Context, backend string, logger models.Logger) (models.QueueStore, error) {
	if backend == "dynamo" {
		awsCfg, err := config.AwsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoQueueStore(ctx, dynamodb.NewFromConfig(awsCfg), logger)
	}
	redisClient, err := storage.NewRedisClient(os.Getenv(presence.Env_RedisUrl))
	if err != nil {
		return nil, err
	}
	return storage.NewRedisQueueStore(redisClient), nil
}
