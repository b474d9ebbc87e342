package retention_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
)

func Load(path string) (*Config, error) {
	v, err := common.New(path, "retention")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.metrics_addr", ":9103")

	v.SetDefault("horizons.archive_after", "720h")
	v.SetDefault("horizons.rate_windows", "5m")
	v.SetDefault("horizons.audit", "8760h")

	v.SetDefault("schedules.archive", "@hourly")
	v.SetDefault("schedules.expiry", "@every 1m")
	v.SetDefault("schedules.windows", "@every 1m")
	v.SetDefault("schedules.audit", "@daily")

	v.SetDefault("run_once", false)

	var cfg Config
	if err := common.Decode(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
