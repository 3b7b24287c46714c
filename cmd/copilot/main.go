package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/waystellar/argusv4-sub001/internal/copilot/collector"
	"github.com/waystellar/argusv4-sub001/internal/copilot/queue"
	"github.com/waystellar/argusv4-sub001/internal/copilot/sources"
	"github.com/waystellar/argusv4-sub001/internal/copilot/status"
	"github.com/waystellar/argusv4-sub001/internal/copilot/uploader"
	pwclient "github.com/waystellar/argusv4-sub001/pkg/clients/pitwall"
	"github.com/waystellar/argusv4-sub001/pkg/config"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
	"github.com/waystellar/argusv4-sub001/pkg/server"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("copilot")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Copilot (Edge Uplink Agent)")

	pitwallURL := config.RequireEnv("PITWALL_URL")
	truckToken := config.RequireEnv("TRUCK_TOKEN")
	simulate := config.GetEnvBool("SIMULATION_MODE", false)

	// Durable queue
	q, err := queue.Open(queue.DefaultConfig(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open durable queue")
	}
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.RunCompaction(ctx, config.GetEnvDuration("QUEUE_COMPACT_INTERVAL", 5*time.Minute))

	// Sensor sources: local WebSocket publishers, or simulators when
	// the operator explicitly asks for them. A missing device never
	// synthesizes data on its own.
	var srcs []sources.Source
	if simulate {
		simLat := config.GetEnvFloat("SIM_LAT", 34.10)
		simLon := config.GetEnvFloat("SIM_LON", -116.30)
		srcs = []sources.Source{
			sources.NewSimSource(models.SourceGPS, simLat, simLon, logger),
			sources.NewSimSource(models.SourceCAN, simLat, simLon, logger),
			sources.NewSimSource(models.SourceANT, simLat, simLon, logger),
		}
	} else {
		srcs = []sources.Source{
			sources.NewWSSource(models.SourceGPS, config.GetEnv("GPS_WS_URL", "ws://localhost:9001/gps"), logger),
			sources.NewWSSource(models.SourceCAN, config.GetEnv("CAN_WS_URL", "ws://localhost:9002/can"), logger),
			sources.NewWSSource(models.SourceANT, config.GetEnv("ANT_WS_URL", "ws://localhost:9003/ant"), logger),
		}
	}

	coll := collector.New(q, srcs, logger)
	go coll.Run(ctx)

	// Cloud client + uploader
	client := pwclient.NewClient(pwclient.Config{
		BaseURL:    pitwallURL,
		TruckToken: truckToken,
		Timeout:    config.GetEnvDuration("PITWALL_TIMEOUT", 15*time.Second),
		Logger:     logger,
	})

	up := uploader.New(q, client, uploader.DefaultConfig(), logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		up.Run(ctx)
	}()

	go heartbeatLoop(ctx, client, simulate, logger)

	// Local status surface
	go func() {
		router := server.SetupRouterWithService(logger, "copilot")
		status.NewHandler(coll, up, client).Register(router)
		serverConfig := server.DefaultConfig("copilot", "18090")
		if err := server.Start(serverConfig, router, logger); err != nil {
			logger.WithError(err).Error("Status server error")
		}
	}()

	logger.WithField("pitwall", pitwallURL).Info("Copilot started")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down Copilot...")

	cancel()
	wg.Wait() // uploader drains the queue once before exiting
	logger.Info("Copilot stopped")
}

// heartbeatLoop keeps presence with the cloud and picks up pending
// stream commands from the response. Encoder control is not wired on
// this build, so commands are acked as failed unless the simulator is
// standing in for the encoder.
func heartbeatLoop(ctx context.Context, client *pwclient.Client, simulate bool, logger logging.Logger) {
	interval := config.GetEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		hb, err := client.Heartbeat(ctx)
		if err != nil {
			logger.WithError(err).Warn("Heartbeat failed")
			continue
		}
		if hb.PendingCommand == nil {
			continue
		}

		cmd := hb.PendingCommand
		logger.WithFields(logging.Fields{
			"command_id": cmd.CommandID,
			"action":     cmd.Action,
			"source_id":  cmd.SourceID,
		}).Info("Received stream command")

		ack := &models.StreamAck{CommandID: cmd.CommandID, Success: simulate}
		if !simulate {
			ack.Error = "encoder control not attached"
		}
		if err := client.StreamAck(ctx, ack); err != nil {
			logger.WithError(err).Warn("Stream ack failed")
		}
	}
}
