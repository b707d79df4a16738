// Package config loads service settings from an optional file and the environment.
//
// Every key can be set from the environment by upper-casing it and replacing
// dots with underscores, e.g. STORAGE_BACKEND=redis. The older PORT, REDIS_ADDR
// and OTEL_EXPORTER_OTLP_ENDPOINT variables are honoured as well.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Catalog backends.
const (
	CatalogHTTP  = "http"
	CatalogLocal = "local"
)

// Trace exporters.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

type Config struct {
	Server  Server
	Log     Log
	Storage Storage
	Redis   Redis
	Catalog Catalog
	Kafka   Kafka
	Otel    Otel
}

type Server struct {
	HTTPPort string
	GRPCPort string
}

type Log struct {
	Level  string
	Format string
}

type Storage struct {
	Backend  string
	Key      string
	FilePath string
}

type Redis struct {
	Addr string
}

type Catalog struct {
	Backend  string
	BaseURL  string
	Timeout  time.Duration
	SeedFile string
}

type Kafka struct {
	Brokers            string
	EventsTopic        string
	NotificationsTopic string
}

type Otel struct {
	Exporter    string
	Endpoint    string
	ServiceName string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.grpc_port", "7070")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.backend", StorageFile)
	v.SetDefault("storage.key", "@RocketShoes:cart")
	v.SetDefault("storage.file_path", "data/cart.json")
	v.SetDefault("redis.addr", "")
	v.SetDefault("catalog.backend", CatalogLocal)
	v.SetDefault("catalog.base_url", "http://localhost:3333")
	v.SetDefault("catalog.timeout", time.Duration(0))
	v.SetDefault("catalog.seed_file", "data/inventory.json")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.events_topic", "cart-events")
	v.SetDefault("kafka.notifications_topic", "cart-notifications")
	v.SetDefault("otel.exporter", ExporterNone)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "cartservice")
}

// Load reads path (if not empty) and overlays environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// BindEnv with several names picks the first one that is set.
	_ = v.BindEnv("server.grpc_port", "SERVER_GRPC_PORT", "PORT")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("otel.endpoint", "OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	c := &Config{
		Server: Server{
			HTTPPort: v.GetString("server.http_port"),
			GRPCPort: v.GetString("server.grpc_port"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: Storage{
			Backend:  strings.ToLower(v.GetString("storage.backend")),
			Key:      v.GetString("storage.key"),
			FilePath: v.GetString("storage.file_path"),
		},
		Redis: Redis{Addr: v.GetString("redis.addr")},
		Catalog: Catalog{
			Backend:  strings.ToLower(v.GetString("catalog.backend")),
			BaseURL:  v.GetString("catalog.base_url"),
			Timeout:  v.GetDuration("catalog.timeout"),
			SeedFile: v.GetString("catalog.seed_file"),
		},
		Kafka: Kafka{
			Brokers:            v.GetString("kafka.brokers"),
			EventsTopic:        v.GetString("kafka.events_topic"),
			NotificationsTopic: v.GetString("kafka.notifications_topic"),
		},
		Otel: Otel{
			Exporter:    strings.ToLower(v.GetString("otel.exporter")),
			Endpoint:    v.GetString("otel.endpoint"),
			ServiceName: v.GetString("otel.service_name"),
		},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects unknown backends and missing backend settings.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.FilePath == "" {
			return errors.New("storage.file_path is required for the file backend")
		}
	case StorageRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	default:
		return errors.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Key == "" {
		return errors.New("storage.key must not be empty")
	}

	switch c.Catalog.Backend {
	case CatalogHTTP:
		if c.Catalog.BaseURL == "" {
			return errors.New("catalog.base_url is required for the http backend")
		}
	case CatalogLocal:
		if c.Catalog.SeedFile == "" {
			return errors.New("catalog.seed_file is required for the local backend")
		}
	default:
		return errors.Errorf("unknown catalog.backend %q", c.Catalog.Backend)
	}
	if c.Catalog.Timeout < 0 {
		return errors.New("catalog.timeout must not be negative")
	}

	switch c.Otel.Exporter {
	case ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return errors.Errorf("unknown otel.exporter %q", c.Otel.Exporter)
	}
	return nil
}
