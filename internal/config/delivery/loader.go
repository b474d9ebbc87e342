package delivery_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
)

func Load(path string) (*Config, error) {
	v, err := common.New(path, "delivery-worker")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.metrics_addr", ":9102")

	v.SetDefault("kafka_live.brokers", []string{"localhost:9094"})
	v.SetDefault("kafka_live.topic", "herald.live")
	v.SetDefault("kafka_live.partitions", 6)
	v.SetDefault("kafka_live.replication_factor", 1)

	v.SetDefault("smtp.addr", "")
	v.SetDefault("smtp.from", "Herald <no-reply@localhost>")
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.use_tls", false)
	v.SetDefault("smtp.skip_verify", false)
	v.SetDefault("smtp.timeout", "10s")
	v.SetDefault("smtp.subject_prefix", "")

	v.SetDefault("scheduler.tick", "1s")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.workers", 4)

	var cfg Config
	if err := common.Decode(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
