package retention_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/retention"
)

type Config struct {
	App       common.App          `mapstructure:"app"`
	Server    common.Server       `mapstructure:"server"`
	DB        pg.Config           `mapstructure:"db"`
	Horizons  retention.Horizons  `mapstructure:"horizons"`
	Schedules retention.Schedules `mapstructure:"schedules"`
	// RunOnce runs every job a single time and exits.
	RunOnce bool        `mapstructure:"run_once"`
	OTEL    common.OTEL `mapstructure:"otel"`
	Log     common.Log  `mapstructure:"log"`
}
