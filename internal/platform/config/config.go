// Package config loads and validates service configuration from SOULID_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	platformstrings "soulid/pkg/platform/strings"
)

// Storage backends for the registry substrate.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const envPrefix = "SOULID"

// Config is the full service configuration.
type Config struct {
	Server   Server
	Auth     Auth
	Storage  Storage
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Registry Registry
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
}

// Auth configures caller bearer tokens.
type Auth struct {
	SigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	Issuer     string        `mapstructure:"JWT_ISSUER"`
	TokenTTL   time.Duration `mapstructure:"JWT_TTL"`
}

// Storage selects the substrate backend.
type Storage struct {
	Backend   string        `mapstructure:"STORAGE_BACKEND"`
	TxTimeout time.Duration `mapstructure:"TX_TIMEOUT"`
}

// PostgresConfig configures the postgres substrate.
type PostgresConfig struct {
	URL             string        `mapstructure:"POSTGRES_URL"`
	MaxOpenConns    int           `mapstructure:"POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"POSTGRES_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `mapstructure:"POSTGRES_AUTO_MIGRATE"`
}

// RedisConfig configures the redis substrate.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	KeyPrefix    string        `mapstructure:"REDIS_KEY_PREFIX"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// KafkaConfig configures the event relay. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers       string        `mapstructure:"KAFKA_BROKERS"`
	Topic         string        `mapstructure:"KAFKA_TOPIC"`
	Partitions    int32         `mapstructure:"KAFKA_PARTITIONS"`
	Replication   int16         `mapstructure:"KAFKA_REPLICATION"`
	RelayInterval time.Duration `mapstructure:"RELAY_INTERVAL"`
	RelayBatch    int           `mapstructure:"RELAY_BATCH"`
}

// Registry holds the registry's own settings.
type Registry struct {
	BaseURI        string `mapstructure:"BASE_URI"`
	Operator       string `mapstructure:"OPERATOR"`
	CollectionName string `mapstructure:"COLLECTION_NAME"`
	Symbol         string `mapstructure:"SYMBOL"`
	// NameRegistries lists namespace:extension pairs, comma separated.
	NameRegistries      string `mapstructure:"NAME_REGISTRIES"`
	DefaultNameRegistry string `mapstructure:"DEFAULT_NAME_REGISTRY"`
}

// NameRegistry is one configured name namespace.
type NameRegistry struct {
	Namespace string
	Extension string
}

var defaults = map[string]any{
	"ADDR":                       ":8080",
	"SHUTDOWN_TIMEOUT":           "10s",
	"LOG_LEVEL":                  "info",
	"JWT_SIGNING_KEY":            "",
	"JWT_ISSUER":                 "soulid",
	"JWT_TTL":                    "15m",
	"STORAGE_BACKEND":            BackendMemory,
	"TX_TIMEOUT":                 "5s",
	"POSTGRES_URL":               "",
	"POSTGRES_MAX_OPEN_CONNS":    10,
	"POSTGRES_MAX_IDLE_CONNS":    5,
	"POSTGRES_CONN_MAX_LIFETIME": "30m",
	"POSTGRES_AUTO_MIGRATE":      false,
	"REDIS_URL":                  "",
	"REDIS_KEY_PREFIX":           "soulid:",
	"REDIS_POOL_SIZE":            10,
	"REDIS_MIN_IDLE_CONNS":       2,
	"REDIS_DIAL_TIMEOUT":         "5s",
	"REDIS_READ_TIMEOUT":         "3s",
	"REDIS_WRITE_TIMEOUT":        "3s",
	"KAFKA_BROKERS":              "",
	"KAFKA_TOPIC":                "soulid.identity-events",
	"KAFKA_PARTITIONS":           3,
	"KAFKA_REPLICATION":          1,
	"RELAY_INTERVAL":             "1s",
	"RELAY_BATCH":                100,
	"BASE_URI":                   "",
	"OPERATOR":                   "",
	"COLLECTION_NAME":            "Masa Identity",
	"SYMBOL":                     "MID",
	"NAME_REGISTRIES":            "soul:.soul",
	"DEFAULT_NAME_REGISTRY":      "soul",
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
			return nil, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// .env files carry the prefixed names; fold them onto the bare keys.
	for key := range defaults {
		prefixed := envPrefix + "_" + key
		if v.InConfig(prefixed) {
			v.SetDefault(key, v.Get(prefixed))
		}
	}

	cfg := &Config{}
	for _, section := range []any{&cfg.Server, &cfg.Auth, &cfg.Storage, &cfg.Postgres, &cfg.Redis, &cfg.Kafka, &cfg.Registry} {
		if err := v.Unmarshal(section); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: SOULID_ADDR must be set")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return errors.New("config: SOULID_POSTGRES_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return errors.New("config: SOULID_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown SOULID_STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Registry.BaseURI == "" {
		return errors.New("config: SOULID_BASE_URI must be set")
	}
	if c.Registry.Operator == "" {
		return errors.New("config: SOULID_OPERATOR must be set")
	}
	if c.Auth.SigningKey == "" {
		return errors.New("config: SOULID_JWT_SIGNING_KEY must be set")
	}
	registries, err := c.Registry.Registries()
	if err != nil {
		return err
	}
	found := false
	for _, r := range registries {
		if r.Namespace == c.Registry.DefaultNameRegistry {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("config: default name registry %q is not in SOULID_NAME_REGISTRIES", c.Registry.DefaultNameRegistry)
	}
	if c.Kafka.RelayBatch <= 0 {
		return errors.New("config: SOULID_RELAY_BATCH must be positive")
	}
	return nil
}

// Registries parses NameRegistries.
func (r Registry) Registries() ([]NameRegistry, error) {
	var out []NameRegistry
	seen := map[string]bool{}
	for _, part := range strings.Split(r.NameRegistries, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		namespace, extension, ok := strings.Cut(part, ":")
		namespace = strings.TrimSpace(namespace)
		extension = strings.TrimSpace(extension)
		if !ok || namespace == "" || !strings.HasPrefix(extension, ".") || len(extension) < 2 {
			return nil, fmt.Errorf("config: invalid name registry %q, want namespace:.ext", part)
		}
		if seen[namespace] {
			return nil, fmt.Errorf("config: duplicate name registry %q", namespace)
		}
		seen[namespace] = true
		out = append(out, NameRegistry{Namespace: namespace, Extension: extension})
	}
	if len(out) == 0 {
		return nil, errors.New("config: SOULID_NAME_REGISTRIES must list at least one registry")
	}
	return out, nil
}

// BrokerList returns the Kafka broker addresses. Empty means the relay is off.
func (k KafkaConfig) BrokerList() []string {
	return platformstrings.SplitList(k.Brokers)
}

// isMissingFile reports whether err only says the .env file is absent.
func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
