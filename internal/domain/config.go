package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines feature availability
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Quoting behaviour
	Quoting QuotingConfig `yaml:"quoting"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// QuotingConfig holds catalog and review settings.
type QuotingConfig struct {
	// CatalogTTL bounds how long a catalog lookup stays cached.
	CatalogTTL time.Duration `yaml:"catalogTtl"`

	// ReviewConcurrency caps parallel review rule evaluations.
	ReviewConcurrency int `yaml:"reviewConcurrency"`

	// SeedDefaultRules installs the built-in review rules for a tenant
	// that has none.
	SeedDefaultRules bool `yaml:"seedDefaultRules"`

	// CatalogFile is an optional seed file imported at startup.
	CatalogFile string `yaml:"catalogFile"`

	// DefaultTenant is used by the CLI and catalog seeding.
	DefaultTenant string `yaml:"defaultTenant"`

	// AsyncWorker computes quotes requested over the event bus.
	AsyncWorker bool `yaml:"asyncWorker"`

	// Tenants the async worker subscribes for. Empty means DefaultTenant.
	Tenants []string `yaml:"tenants"`
}

// WorkerTenants returns the tenants the async worker serves.
func (q QuotingConfig) WorkerTenants() []string {
	if len(q.Tenants) > 0 {
		return q.Tenants
	}
	if q.DefaultTenant != "" {
		return []string{q.DefaultTenant}
	}
	return nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"serviceName"`
	ExporterType string `yaml:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

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
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Quoting: QuotingConfig{
			CatalogTTL:        5 * time.Minute,
			ReviewConcurrency: 16,
			SeedDefaultRules:  true,
			DefaultTenant:     "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Quoting.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}
