package main

import (
	"context"
	"strings"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/handlers"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/ingest"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/leaderboard"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/live"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/policy"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/pubsub"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/store"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/streamctl"
	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/database"
	"github.com/waystellar/argusv4-sub001/pkg/kafka"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/monitoring"
	"github.com/waystellar/argusv4-sub001/pkg/redis"
	"github.com/waystellar/argusv4-sub001/pkg/server"
	"github.com/waystellar/argusv4-sub001/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("pitwall")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Pitwall (Telemetry Cloud)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	db := database.MustConnect(database.DefaultConfig(), logger)
	defer db.Close()

	st := store.New(db, logger)
	if err := st.ApplySchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}
	if config.GetEnvBool("DEMO_SEED", false) {
		if err := st.ApplyDemoSeed(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to apply demo seed")
		}
		logger.Warn("Demo seed applied, do not run this in production")
	}

	// Connect to Redis
	redisAddrs := strings.Split(config.GetEnv("REDIS_ADDRS", "localhost:6379"), ",")
	rdb, err := redis.NewUniversalClient(ctx, redis.Config{
		Mode:       redis.Mode(config.GetEnv("REDIS_MODE", "single")),
		Addrs:      redisAddrs,
		MasterName: config.GetEnv("REDIS_MASTER_NAME", ""),
		Password:   config.GetEnv("REDIS_PASSWORD", ""),
		DB:         config.GetEnvInt("REDIS_DB", 0),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Auth resolvers
	trucks := auth.NewTruckResolver(db, config.GetEnvDuration("TRUCK_CACHE_TTL", 24*time.Hour))
	resolver := auth.NewResolver(auth.ResolverConfig{
		Trucks:           trucks,
		JWTSecret:        []byte(config.GetEnv("JWT_SECRET", "")),
		AdminTokens:      splitNonEmpty(config.GetEnv("ADMIN_TOKENS", "")),
		AdminTokenHashes: splitNonEmpty(config.GetEnv("ADMIN_TOKEN_HASHES", "")),
	})

	// Live state, stream fanout, stream control
	tracker := live.New(rdb)
	pub := pubsub.NewPublisher(rdb, pubsub.DefaultConfig())
	hub := pubsub.NewHub(rdb, logger)
	projector := policy.New(st)
	boards := leaderboard.New(st, tracker)
	streams := streamctl.New(rdb, logger)
	go streams.RunTimeoutPoller(ctx, config.GetEnvDuration("STREAM_POLL_INTERVAL", 5*time.Second))

	// Optional Kafka firehose for the archive pipeline
	var firehose ingest.Firehose
	var producer *kafka.KafkaProducer
	brokersEnv := config.GetEnv("KAFKA_BROKERS", "")
	if brokersEnv != "" {
		producer, err = kafka.NewKafkaProducer(strings.Split(brokersEnv, ","), config.GetEnv("KAFKA_CLIENT_ID", "pitwall"), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		firehose = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, telemetry firehose disabled")
	}

	pipeline := ingest.New(st, ingest.NewDetector(st), tracker, pub, firehose, logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("pitwall", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("pitwall", version.Version, version.GitCommit)

	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(rdb))
	if producer != nil {
		healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REDIS_ADDRS": strings.Join(redisAddrs, ","),
	}))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "pitwall", healthChecker, metricsCollector)

	h := handlers.New(logger, st, pipeline, tracker, pub, hub, projector, boards, streams, resolver, trucks)
	h.Register(router)

	// SSE connections are long-lived; the streaming config disables the
	// write timeout so they are not cut off mid-event.
	serverConfig := server.StreamingConfig("pitwall", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
