// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=5000" validate:"min=1,max=65535"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`

	// NodeID tags mirrored sessions. Defaults to the hostname.
	NodeID string `env:"NODE_ID"`

	StoreDriver string `env:"STORE_DRIVER,default=postgres" validate:"oneof=postgres badger"`
	DBConnStr   string `env:"DB_CONN_STR" validate:"required_if=StoreDriver postgres"`
	BadgerPath  string `env:"BADGER_PATH,default=./data/relay" validate:"required_if=StoreDriver badger"`

	// Empty AMQPURL disables offline push publishing and the event journal.
	AMQPURL       string `env:"AMQP_URL"`
	StreamURI     string `env:"STREAM_URI"`
	JournalStream string `env:"JOURNAL_STREAM,default=relay-events"`

	JWTSecret   string `env:"JWT_SECRET,required=true" validate:"required"`
	FrontendURL string `env:"FRONTEND_URL,default=*"`

	SweepSchedule   string  `env:"SWEEP_SCHEDULE,default=@hourly" validate:"required"`
	SweepRatePerSec float64 `env:"SWEEP_RATE_PER_SEC,default=50" validate:"gt=0"`
	SweepBatchSize  int     `env:"SWEEP_BATCH_SIZE,default=200" validate:"min=1"`

	SendBufferSize int           `env:"SEND_BUFFER_SIZE,default=256" validate:"min=1"`
	PingInterval   time.Duration `env:"PING_INTERVAL,default=25s" validate:"gt=0"`
	PongTimeout    time.Duration `env:"PONG_TIMEOUT,default=60s" validate:"gtfield=PingInterval"`
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads an optional .env file, then the process environment.
// Values already present in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnviron()
}

func FromEnviron() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve node id: %w", err)
		}
		cfg.NodeID = host
	}
	return cfg, nil
}
