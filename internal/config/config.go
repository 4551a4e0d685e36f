package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envPrefix = "warehouse"

type Config struct {
	ServiceName string `envconfig:"service_name" default:"warehouse-orders"`
	HTTPAddr    string `envconfig:"http_addr" default:":8080"`
	GRPCAddr    string `envconfig:"grpc_addr" default:":50051"`

	MySQLDSN             string        `envconfig:"mysql_dsn" default:"root:root@tcp(localhost:3306)/warehouse?parseTime=true"`
	MySQLMaxOpenConns    int           `envconfig:"mysql_max_open_conns" default:"50"`
	MySQLMaxIdleConns    int           `envconfig:"mysql_max_idle_conns" default:"25"`
	MySQLConnMaxLifetime time.Duration `envconfig:"mysql_conn_max_lifetime" default:"5m"`

	// Empty RedisAddr disables idempotency keys.
	RedisAddr      string        `envconfig:"redis_addr"`
	IdempotencyTTL time.Duration `envconfig:"idempotency_ttl" default:"24h"`

	// Empty KafkaBrokers disables event publishing to a broker.
	KafkaBrokers []string `envconfig:"kafka_brokers"`
	KafkaTopic   string   `envconfig:"kafka_topic" default:"warehouse.events"`

	OperationTimeout time.Duration `envconfig:"operation_timeout" default:"5s"`

	LogLevel  string `envconfig:"log_level" default:"info"`
	LogFormat string `envconfig:"log_format" default:"json"`

	// Empty OTelEndpoint disables trace export.
	OTelEndpoint string `envconfig:"otel_endpoint"`
}

func Load() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.OperationTimeout <= 0 {
		return errors.New("operation_timeout must be positive")
	}
	if c.MySQLMaxOpenConns < 1 {
		return errors.New("mysql_max_open_conns must be at least 1")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
