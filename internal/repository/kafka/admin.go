package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultEventsTopic = "herald.workspace.events"
	DefaultLiveTopic   = "herald.live"
)

var ErrTopicNotReady = errors.New("topic not ready")

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// Topics is the topic set Herald runs on: the inbound workspace events and
// the outbound live bus. Empty names fall back to the defaults.
func Topics(events, live string, partitions, rf int) []TopicSpec {
	if events == "" {
		events = DefaultEventsTopic
	}
	if live == "" {
		live = DefaultLiveTopic
	}
	return []TopicSpec{
		{Name: events, NumPartitions: partitions, ReplicationFactor: rf},
		{Name: live, NumPartitions: partitions, ReplicationFactor: rf},
	}
}

func (s TopicSpec) config() kafka.TopicConfig {
	c := kafka.TopicConfig{Topic: s.Name, NumPartitions: s.NumPartitions, ReplicationFactor: s.ReplicationFactor}
	if c.NumPartitions <= 0 {
		c.NumPartitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	return c
}

// EnsureTopics creates every missing topic through the controller in one
// request, then waits up to wait for each to report partitions. Topics still
// not visible by then are returned as ErrTopicNotReady.
func EnsureTopics(ctx context.Context, brokers []string, specs []TopicSpec, wait time.Duration, log *zap.Logger) error {
	if len(brokers) == 0 {
		return errors.New("ensure topics: no brokers")
	}
	if len(specs) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, s := range specs {
		configs = append(configs, s.config())
	}
	if err := cc.CreateTopics(configs...); err != nil {
		// Already-existing topics come back as an error too; readiness below decides.
		log.Debug("create topics", zap.Error(err))
	}

	deadline := time.Now().Add(wait)
	var errs error
	for _, s := range specs {
		if err := waitReady(ctx, conn, s.Name, deadline); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		log.Info("topic ready", zap.String("topic", s.Name))
	}
	return errs
}

func waitReady(ctx context.Context, conn *kafka.Conn, topic string, deadline time.Time) error {
	for {
		ps, err := conn.ReadPartitions(topic)
		if err == nil && len(ps) > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrTopicNotReady, topic)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
