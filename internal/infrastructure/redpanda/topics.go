// Package redpanda provides Kafka-compatible streaming with franz-go for the
// care domain event topics.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names for care domain events.
const (
	TopicUsers         = "care.users"
	TopicAppointments  = "care.appointments"
	TopicPrescriptions = "care.prescriptions"
	TopicPayments      = "care.payments"
	TopicAudit         = "care.audit"
	TopicDeadLetter    = "dead.letter"
)

// TopicConfig holds configuration for a topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topic set the services expect.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	retention := func(ms string) map[string]*string {
		return map[string]*string{
			"retention.ms":     ptr(ms),
			"cleanup.policy":   ptr("delete"),
			"compression.type": ptr("lz4"),
		}
	}

	return []TopicConfig{
		{Name: TopicUsers, Partitions: 3, ReplicationFactor: 1, Configs: retention("2592000000")},
		{Name: TopicAppointments, Partitions: 6, ReplicationFactor: 1, Configs: retention("604800000")},
		{Name: TopicPrescriptions, Partitions: 6, ReplicationFactor: 1, Configs: retention("2592000000")},
		{Name: TopicPayments, Partitions: 6, ReplicationFactor: 1, Configs: retention("2592000000")},
		{Name: TopicAudit, Partitions: 3, ReplicationFactor: 1, Configs: retention("2592000000")},
		{Name: TopicDeadLetter, Partitions: 1, ReplicationFactor: 1, Configs: retention("604800000")},
	}
}

// Admin provides administrative operations for Redpanda.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// CreateTopics creates the given topics, ignoring ones that already exist.
func (a *Admin) CreateTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if r.Err.Error() == "TOPIC_ALREADY_EXISTS" {
					a.logger.Info("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// EnsureTopics creates every topic in the default set.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	return a.CreateTopics(ctx, DefaultTopicConfigs())
}

// ListTopics lists all topic names.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	var names []string
	for _, t := range topics {
		names = append(names, t.Topic)
	}
	return names, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
