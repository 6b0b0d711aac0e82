// Package main provides the reminder worker entry point. It consumes
// appointment events and dispatches booking reminders through a bounded
// worker pool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/domain/record"
	outbox "github.com/saihealth/go-care/internal/infrastructure/postgres"
	"github.com/saihealth/go-care/internal/infrastructure/redpanda"
	"github.com/saihealth/go-care/internal/observability/tracing"
	"github.com/saihealth/go-care/pkg/workerpool"
)

// Config holds worker configuration.
type Config struct {
	Brokers        []string
	GroupID        string
	Workers        int
	TracingEnabled bool
	OTLPEndpoint   string
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()
	ctx := context.Background()

	if cfg.TracingEnabled {
		traceCfg := tracing.DefaultConfig("reminder-worker")
		if cfg.OTLPEndpoint != "" {
			traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
		}
		provider, err := tracing.Init(ctx, traceCfg)
		if err != nil {
			logger.Warn("tracing init failed, continuing without", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				provider.Shutdown(shutdownCtx)
			}()
		}
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers

	pool, err := workerpool.New(poolCfg, processReminder(logger), logger)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}
	pool.Start()

	// Drain results so the channel never backs up.
	go func() {
		for range pool.Results() {
		}
	}()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Brokers
	consumerCfg.GroupID = cfg.GroupID
	consumerCfg.Topics = []string{redpanda.TopicAppointments}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		return pool.Submit(&workerpool.Task{
			ID:      fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: msg.Value,
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	consumer.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down reminder worker")
	consumer.Stop()
	pool.Stop()
}

// processReminder handles one appointment event. Booked appointments produce
// a reminder; other event types on the topic are acknowledged and skipped.
func processReminder(logger *zap.Logger) workerpool.WorkerFunc {
	return func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		raw, ok := task.Payload.([]byte)
		if !ok {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
		}

		var env outbox.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("decode envelope: %w", err)}
		}

		if env.EventType != string(record.EventAppointmentBooked) {
			return &workerpool.Result{TaskID: task.ID, Success: true}
		}

		var booked record.AppointmentBookedEvent
		if err := json.Unmarshal(env.Payload, &booked); err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("decode event: %w", err)}
		}

		// Reminder delivery is a log line for now; an SMS gateway slots in
		// here once one is provisioned.
		logger.Info("appointment reminder",
			zap.String("appointment_id", booked.AppointmentID),
			zap.String("patient_id", booked.PatientID),
			zap.String("doctor_id", booked.DoctorID),
			zap.String("date", booked.Date),
			zap.String("time", booked.Time))

		return &workerpool.Result{TaskID: task.ID, Success: true}
	}
}

func loadConfig() Config {
	workers := 16
	if v := os.Getenv("WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &workers)
	}
	return Config{
		Brokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		GroupID:        getEnv("CONSUMER_GROUP", "reminder-worker"),
		Workers:        workers,
		TracingEnabled: os.Getenv("TRACING_ENABLED") == "true",
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
