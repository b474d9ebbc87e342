package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BootstrapConsumer makes sure the consumer's topic exists before joining the
// group. A broker that is not up yet is logged, not fatal: the reader keeps
// retrying on its own.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, logger *zap.Logger) *Consumer {
	spec := TopicSpec{Name: cfg.Topic, NumPartitions: cfg.Partitions, ReplicationFactor: cfg.ReplicationFactor}
	if err := EnsureTopics(ctx, cfg.Brokers, []TopicSpec{spec}, 5*time.Second, logger); err != nil {
		logger.Warn("ensure consumer topic", zap.String("topic", cfg.Topic), zap.Error(err))
	}

	cfg.Logger = logger
	return NewConsumer(cfg)
}
