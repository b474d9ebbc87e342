package dispatcher_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
)

func Load(path string) (*Config, error) {
	v, err := common.New(path, "dispatcher")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.metrics_addr", ":9101")

	v.SetDefault("kafka_in.brokers", []string{"localhost:9094"})
	v.SetDefault("kafka_in.topic", "herald.workspace.events")
	v.SetDefault("kafka_in.group_id", "herald-dispatcher")
	v.SetDefault("kafka_in.from_beginning", false)
	v.SetDefault("kafka_in.partitions", 6)
	v.SetDefault("kafka_in.replication_factor", 1)

	var cfg Config
	if err := common.Decode(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
