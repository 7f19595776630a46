// Package config loads the Kestrel configuration from defaults, an optional
// YAML file, a .env file and KESTREL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Options controls where Load reads from.
type Options struct {
	// File is an optional YAML file. Empty skips it.
	File string

	// EnvFiles are .env files to load. Missing files are ignored.
	// Defaults to ".env".
	EnvFiles []string
}

// Load builds the configuration. Variables already set in the process
// environment win over .env files.
func Load(opts Options) (*domain.Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Debug("no env file found", "path", path)
				continue
			}
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	file := opts.File
	if file == "" {
		file = getEnv("CONFIG", "")
	}
	if file != "" {
		if err := LoadFile(file, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML file onto cfg.
func LoadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *domain.Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if tier := getEnv("TIER", ""); tier != "" {
		cfg.Tier = domain.Tier(strings.ToLower(tier))
	}

	// Server
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	collect(setInt("PORT", &cfg.Server.Port))
	collect(setInt("READ_TIMEOUT", &cfg.Server.ReadTimeout))
	collect(setInt("WRITE_TIMEOUT", &cfg.Server.WriteTimeout))

	// Repository
	cfg.Repository.Driver = getEnv("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("POSTGRES_HOST", cfg.Repository.PostgresHost)
	collect(setInt("POSTGRES_PORT", &cfg.Repository.PostgresPort))
	cfg.Repository.PostgresUser = getEnv("POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	// Cache
	cfg.Cache.Type = getEnv("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	collect(setInt("REDIS_DB", &cfg.Cache.RedisDB))

	// Event bus
	cfg.EventBus.Type = getEnv("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("NATS_TOKEN", cfg.EventBus.NATSToken)

	// Quoting
	collect(setDuration("CATALOG_TTL", &cfg.Quoting.CatalogTTL))
	collect(setInt("REVIEW_CONCURRENCY", &cfg.Quoting.ReviewConcurrency))
	collect(setBool("SEED_DEFAULT_RULES", &cfg.Quoting.SeedDefaultRules))
	collect(setBool("ASYNC_WORKER", &cfg.Quoting.AsyncWorker))
	cfg.Quoting.CatalogFile = getEnv("CATALOG_FILE", cfg.Quoting.CatalogFile)
	cfg.Quoting.DefaultTenant = getEnv("DEFAULT_TENANT", cfg.Quoting.DefaultTenant)
	if tenants := getEnv("TENANTS", ""); tenants != "" {
		cfg.Quoting.Tenants = splitList(tenants)
	}

	// Observability
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	if getEnv("DEBUG", "") == "true" {
		cfg.Logging.Level = "debug"
	}
	collect(setBool("TRACING_ENABLED", &cfg.Tracing.Enabled))
	collect(setBool("METRICS_ENABLED", &cfg.Metrics.Enabled))

	return errors.Join(errs...)
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", cfg.Server.Port))
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("unknown tier: %q", cfg.Tier))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver: %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type: %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type: %q", cfg.EventBus.Type))
	}
	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Quoting.ReviewConcurrency < 0 {
		errs = append(errs, fmt.Errorf("review concurrency must not be negative"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok && val != "" {
		return val
	}
	return defaultVal
}

func setInt(key string, dst *int) error {
	val := getEnv(key, "")
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = i
	return nil
}

func setBool(key string, dst *bool) error {
	val := getEnv(key, "")
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	val := getEnv(key, "")
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
