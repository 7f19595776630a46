// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Cost catalog operations
	SaveCostDefinitions(ctx context.Context, tenantID string, defs []*CostDefinition) error
	ListCostDefinitions(ctx context.Context, tenantID string, combo Combination) ([]*CostDefinition, error)
	ReplaceCustodyTable(ctx context.Context, tenantID string, brackets []CustodyBracket) error
	ListCustodyBrackets(ctx context.Context, tenantID string) ([]CustodyBracket, error)

	// Issuance operations
	CreateIssuance(ctx context.Context, tenantID string, iss *Issuance) error
	GetIssuance(ctx context.Context, tenantID string, id string) (*Issuance, error)
	UpdateIssuanceStatus(ctx context.Context, tenantID string, id string, status IssuanceStatus, reason string) error
	ListIssuanceHistory(ctx context.Context, tenantID string, id string) ([]IssuanceEvent, error)

	// Quote results
	SaveQuote(ctx context.Context, tenantID string, q *Quote) error
	GetQuote(ctx context.Context, tenantID string, id string) (*Quote, error)

	// Review rule operations
	SaveReviewRule(ctx context.Context, tenantID string, rule *ReviewRule) error
	GetReviewRule(ctx context.Context, tenantID string, ruleID string) (*ReviewRule, error)
	ListReviewRules(ctx context.Context, tenantID string) ([]*ReviewRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
