package coordinator

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server struct {
		Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
		Port int    `envconfig:"SERVER_PORT" default:"5000"`
	}
	Chunks struct {
		Path            string `envconfig:"CHUNK_PATH" required:"true"`
		RecordsPerChunk int64  `envconfig:"WORDLIST_CHUNK_SIZE" default:"25000"`
	}
	Liveness struct {
		Threshold    time.Duration `envconfig:"INACTIVITY_THRESHOLD" default:"30s"`
		PollInterval time.Duration `envconfig:"LIVENESS_POLL_INTERVAL" default:"10s"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
