package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"broker.db"`
	JWTSecret    string `env:"JWT_SECRET" envDefault:"broker-secret-key"`

	// Scheduler tuning. The interval only needs to be short relative to
	// the settlement offset; multi-second granularity is expected.
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5s"`
	MarketRestingTime time.Duration `env:"MARKET_RESTING_TIME" envDefault:"30s"`

	SettlementOffsetDays int           `env:"SETTLEMENT_OFFSET_DAYS" envDefault:"2"`
	PreviewTTL           time.Duration `env:"PREVIEW_TTL" envDefault:"5m"`
}

func Load() (Config, error) {
	var cfg Config
	return cfg, env.Parse(&cfg)
}
