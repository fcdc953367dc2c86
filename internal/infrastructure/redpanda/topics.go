package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Default topic names.
const (
	TopicOutbound   = "eps.outbound"
	TopicInbound    = "eps.inbound"
	TopicDeadLetter = "eps.dead-letter"
)

// TopicConfig holds configuration for a topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// TopicConfigs returns the topics the harness uses. Messages are keyed by
// prescription so one partition sees a prescription's messages in order.
func TopicConfigs(outbound, inbound string) []TopicConfig {
	ptr := func(s string) *string { return &s }
	retention := func(ms string) map[string]*string {
		return map[string]*string{
			"retention.ms":     ptr(ms),
			"cleanup.policy":   ptr("delete"),
			"compression.type": ptr("lz4"),
		}
	}
	return []TopicConfig{
		{Name: outbound, Partitions: 6, ReplicationFactor: 1, Configs: retention("604800000")},
		{Name: inbound, Partitions: 6, ReplicationFactor: 1, Configs: retention("604800000")},
		{Name: TopicDeadLetter, Partitions: 1, ReplicationFactor: 1, Configs: retention("2592000000")},
	}
}

// Admin provides administrative operations for the broker.
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
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// EnsureTopics creates any topic that does not exist yet.
func (a *Admin) EnsureTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if errors.Is(r.Err, kerr.TopicAlreadyExists) {
				a.logger.Info("topic already exists", zap.String("topic", r.Topic))
				continue
			}
			if r.Err != nil {
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// ListTopics lists topic names in order.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	names := topics.Names()
	sort.Strings(names)
	return names, nil
}

// GroupLag returns the total lag of a consumer group per topic.
func (a *Admin) GroupLag(ctx context.Context, group string) (map[string]int64, error) {
	described, err := a.client.Lag(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}
	return sumLag(described), nil
}

// sumLag totals partition lag per topic. Partitions with unknown lag
// (negative) are skipped.
func sumLag(described kadm.DescribedGroupLags) map[string]int64 {
	out := make(map[string]int64)
	for _, l := range described {
		for topic, partitions := range l.Lag {
			if _, ok := out[topic]; !ok {
				out[topic] = 0
			}
			for _, lag := range partitions {
				if lag.Lag > 0 {
					out[topic] += lag.Lag
				}
			}
		}
	}
	return out
}

// Close closes the admin client
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
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
