package api_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
)

type Config struct {
	App    common.App    `mapstructure:"app"`
	Server common.Server `mapstructure:"server"`
	DB     pg.Config     `mapstructure:"db"`
	OTEL   common.OTEL   `mapstructure:"otel"`
	Log    common.Log    `mapstructure:"log"`
	Engine common.Engine `mapstructure:"engine"`
}
