package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Classification bands applied to the top condition
	Classification ClassificationConfig `json:"classification"`

	// Catalogue loading
	Catalogue CatalogueConfig `json:"catalogue"`

	// Measurement probes that derive symptoms from numeric readings
	Probes []ProbeConfig `json:"probes"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `json:"allowedOrigins"`
}

// ClassificationConfig holds the confidence thresholds, in percent.
type ClassificationConfig struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// CatalogueConfig controls which rule catalogues are available at startup.
type CatalogueConfig struct {
	// Default is the catalogue used when a caller names none.
	Default string `json:"default"`

	// File is an optional YAML catalogue loaded into Default at startup.
	File string `json:"file"`

	// SeedBuiltin stores the built-in respiratory catalogue when it is missing.
	SeedBuiltin bool `json:"seedBuiltin"`
}

// ProbeConfig binds a symptom to a CEL expression over measurements.
type ProbeConfig struct {
	Symptom    string `json:"symptom"`
	Expression string `json:"expression"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultCatalogue is the ID of the built-in respiratory catalogue.
const DefaultCatalogue = "respiratory"

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Classification: ClassificationConfig{
			High:   70,
			Medium: 40,
		},
		Catalogue: CatalogueConfig{
			Default:     DefaultCatalogue,
			SeedBuiltin: true,
		},
		Probes: []ProbeConfig{
			{Symptom: "high fever", Expression: "m.temperature_c >= 39.0"},
			{Symptom: "mild fever", Expression: "m.temperature_c >= 37.5 && m.temperature_c < 38.5"},
			{Symptom: "fever", Expression: "m.temperature_c >= 38.0"},
			{Symptom: "no fever", Expression: "m.temperature_c < 37.5"},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			CatalogueTTL: 10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "kestrel",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		CatalogueTTL:   10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// ApplyEnv overrides settings from KESTREL_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}

	if v, ok := lookup("KESTREL_DEBUG"); ok && strings.EqualFold(v, "true") {
		c.Logging.Level = "debug"
	}
	str("KESTREL_HOST", &c.Server.Host)
	if err := integer("KESTREL_PORT", &c.Server.Port); err != nil {
		return err
	}
	if v, ok := lookup("KESTREL_CORS_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, origin)
			}
		}
	}

	str("KESTREL_SQLITE_PATH", &c.Repository.SQLitePath)
	str("KESTREL_POSTGRES_HOST", &c.Repository.PostgresHost)
	if err := integer("KESTREL_POSTGRES_PORT", &c.Repository.PostgresPort); err != nil {
		return err
	}
	str("KESTREL_POSTGRES_USER", &c.Repository.PostgresUser)
	str("KESTREL_POSTGRES_PASSWORD", &c.Repository.PostgresPassword)
	str("KESTREL_POSTGRES_DB", &c.Repository.PostgresDB)
	str("KESTREL_POSTGRES_SSLMODE", &c.Repository.PostgresSSLMode)

	str("KESTREL_REDIS_ADDR", &c.Cache.RedisAddr)
	str("KESTREL_REDIS_PASSWORD", &c.Cache.RedisPassword)
	str("KESTREL_REDIS_PREFIX", &c.Cache.RedisKeyPrefix)
	str("KESTREL_NATS_URL", &c.EventBus.NATSUrl)
	str("KESTREL_NATS_TOKEN", &c.EventBus.NATSToken)

	if err := float("KESTREL_THRESHOLD_HIGH", &c.Classification.High); err != nil {
		return err
	}
	if err := float("KESTREL_THRESHOLD_MEDIUM", &c.Classification.Medium); err != nil {
		return err
	}

	str("KESTREL_CATALOGUE", &c.Catalogue.Default)
	str("KESTREL_CATALOGUE_FILE", &c.Catalogue.File)
	if v, ok := lookup("KESTREL_SEED_BUILTIN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KESTREL_SEED_BUILTIN: %w", err)
		}
		c.Catalogue.SeedBuiltin = b
	}
	return nil
}
