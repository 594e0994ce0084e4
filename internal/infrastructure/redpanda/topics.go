package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Default topic names
const (
	TopicHL7Inbound         = "hl7.inbound"
	TopicPharmacyOrders     = "pharmacy.orders"
	TopicPharmacyOrdersDLQ  = "pharmacy.orders.dlq"
	defaultRetention        = 7 * 24 * time.Hour
	deadLetterRetention     = 30 * 24 * time.Hour
	defaultPartitions       = 12
	defaultDeadLetterShards = 3
)

// Topics names the topics the services use
type Topics struct {
	Inbound           string
	Orders            string
	DeadLetter        string
	Partitions        int32
	ReplicationFactor int16
}

// DefaultTopics returns the default topic names for a single broker
func DefaultTopics() Topics {
	return Topics{
		Inbound:           TopicHL7Inbound,
		Orders:            TopicPharmacyOrders,
		DeadLetter:        TopicPharmacyOrdersDLQ,
		Partitions:        defaultPartitions,
		ReplicationFactor: 1,
	}
}

// TopicConfig holds configuration for a Kafka topic
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// Configs returns the topic configurations to create. Order events are
// keyed by patient so one patient's orders stay in one partition.
func (t Topics) Configs() []TopicConfig {
	partitions := t.Partitions
	if partitions <= 0 {
		partitions = defaultPartitions
	}
	rf := t.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	var configs []TopicConfig
	for _, name := range []string{t.Inbound, t.Orders} {
		if name == "" {
			continue
		}
		configs = append(configs, TopicConfig{
			Name:              name,
			Partitions:        partitions,
			ReplicationFactor: rf,
			Configs:           topicSettings(defaultRetention, rf),
		})
	}
	if t.DeadLetter != "" {
		configs = append(configs, TopicConfig{
			Name:              t.DeadLetter,
			Partitions:        defaultDeadLetterShards,
			ReplicationFactor: rf,
			Configs:           topicSettings(deadLetterRetention, rf),
		})
	}
	return configs
}

func topicSettings(retention time.Duration, rf int16) map[string]*string {
	minISR := int16(1)
	if rf > 2 {
		minISR = rf - 1
	}
	return map[string]*string{
		"retention.ms":        kadm.StringPtr(strconv.FormatInt(retention.Milliseconds(), 10)),
		"cleanup.policy":      kadm.StringPtr("delete"),
		"compression.type":    kadm.StringPtr("lz4"),
		"min.insync.replicas": kadm.StringPtr(strconv.Itoa(int(minISR))),
	}
}

// Admin provides administrative operations for the brokers
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Admin{
		client: kadm.NewClient(kgoClient),
		logger: logger,
	}, nil
}

// CreateTopics creates the given topics. Topics that already exist are left
// as they are.
func (a *Admin) CreateTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", cfg.Name, err)
		}

		for _, r := range resp.Sorted() {
			if r.Err != nil {
				if errors.Is(r.Err, kerr.TopicAlreadyExists) {
					a.logger.Debug("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// EnsureTopics creates any of topics that are missing
func (a *Admin) EnsureTopics(ctx context.Context, topics Topics) error {
	return a.CreateTopics(ctx, topics.Configs())
}

// ListTopics lists all topic names, sorted
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	names := topics.Names()
	sort.Strings(names)
	return names, nil
}

// GroupLag returns the total lag of a consumer group per topic
func (a *Admin) GroupLag(ctx context.Context, groupID string) (map[string]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer group lag: %w", err)
	}

	result := make(map[string]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			for _, lag := range partitions {
				if lag.Lag > 0 {
					result[topic] += lag.Lag
				}
			}
		}
	})
	return result, nil
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}
