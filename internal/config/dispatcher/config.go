package dispatcher_config

import (
	"github.com/NordCoder/Herald/internal/config/common"
	kafkax "github.com/NordCoder/Herald/internal/repository/kafka"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
)

type Config struct {
	App    common.App            `mapstructure:"app"`
	Server common.Server         `mapstructure:"server"`
	DB     pg.Config             `mapstructure:"db"`
	In     kafkax.ConsumerConfig `mapstructure:"kafka_in"`
	OTEL   common.OTEL           `mapstructure:"otel"`
	Log    common.Log            `mapstructure:"log"`
	Engine common.Engine         `mapstructure:"engine"`
}
