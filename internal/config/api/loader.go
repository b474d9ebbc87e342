package api_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
)

func Load(path string) (*Config, error) {
	v, err := common.New(path, "api")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9100")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 5)

	var cfg Config
	if err := common.Decode(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
