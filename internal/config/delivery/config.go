package delivery_config

import (
	"github.com/NordCoder/Herald/internal/channel"
	"github.com/NordCoder/Herald/internal/config/common"
	pg "github.com/NordCoder/Herald/internal/repository/postgres"
	"github.com/NordCoder/Herald/internal/services/scheduler"
)

type LiveBus struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type Config struct {
	App       common.App         `mapstructure:"app"`
	Server    common.Server      `mapstructure:"server"`
	DB        pg.Config          `mapstructure:"db"`
	Live      LiveBus            `mapstructure:"kafka_live"`
	SMTP      channel.SMTPConfig `mapstructure:"smtp"`
	Scheduler scheduler.Config   `mapstructure:"scheduler"`
	OTEL      common.OTEL        `mapstructure:"otel"`
	Log       common.Log         `mapstructure:"log"`
	Engine    common.Engine      `mapstructure:"engine"`
}
