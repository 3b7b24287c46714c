package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/waystellar/argusv4-sub001/internal/blackbox/archive"
	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/database"
	"github.com/waystellar/argusv4-sub001/pkg/kafka"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/monitoring"
	"github.com/waystellar/argusv4-sub001/pkg/server"
	"github.com/waystellar/argusv4-sub001/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("blackbox")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Blackbox (Telemetry Archiver)")

	brokersEnv := config.RequireEnv("KAFKA_BROKERS")
	clusterID := config.GetEnv("KAFKA_CLUSTER_ID", "telemetry")
	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")

	// Connect to ClickHouse
	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = config.GetEnv("CLICKHOUSE_DB", chConfig.Database)
	chConfig.Username = config.GetEnv("CLICKHOUSE_USER", chConfig.Username)
	chConfig.Password = config.GetEnv("CLICKHOUSE_PASSWORD", chConfig.Password)
	clickhouse := database.MustConnectClickHouseNative(chConfig, logger)
	defer clickhouse.Close()

	brokers := strings.Split(brokersEnv, ",")
	groupID := config.GetEnv("KAFKA_GROUP_ID", "blackbox")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "blackbox")

	// DLQ producer for undecodable records
	producer, err := kafka.NewKafkaProducer(brokers, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	archiver := archive.New(archive.NewClickHouseSink(clickhouse), producer, archive.DefaultConfig(), logger)

	// Setup Kafka consumer
	consumer, err := kafka.NewConsumer(brokers, groupID, clusterID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()
	consumer.AddHandler(kafka.TopicTelemetryFirehose, archiver.Handle)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("blackbox", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("blackbox", version.Version, version.GitCommit)

	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseNativeHealthCheck(clickhouse))
	healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"CLICKHOUSE_HOST": clickhouseHost,
		"KAFKA_BROKERS":   brokersEnv,
		"KAFKA_GROUP_ID":  groupID,
	}))

	ctx, cancel := context.WithCancel(context.Background())

	// Start consuming; the interval flusher drains on shutdown.
	go archiver.Run(ctx)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	// Health and metrics endpoints
	go func() {
		router := server.SetupServiceRouter(logger, "blackbox", healthChecker, metricsCollector)
		serverConfig := server.DefaultConfig("blackbox", "18081")
		if err := server.Start(serverConfig, router, logger); err != nil {
			logger.WithError(err).Error("Health server error")
		}
	}()

	logger.Info("Blackbox started - archiving telemetry firehose to ClickHouse")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down Blackbox...")

	cancel()
	logger.Info("Blackbox stopped")
}
