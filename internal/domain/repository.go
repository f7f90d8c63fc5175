// Package domain defines the core types and the collaborator interfaces of Kestrel.
package domain

import (
	"context"
	"time"
)

// Catalogue is a named, versioned list of conditions as authored.
type Catalogue struct {
	ID         string      `json:"id"`
	Conditions []Condition `json:"conditions"`
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Repository stores rule catalogues. It is the loading mechanism for rule
// definitions; diagnoses are never stored.
type Repository interface {
	// SaveCatalogue creates or replaces a catalogue and bumps its version.
	SaveCatalogue(ctx context.Context, catalogueID string, conditions []Condition) error

	// GetCatalogue returns ErrCatalogueNotFound when the catalogue does not exist.
	GetCatalogue(ctx context.Context, catalogueID string) (*Catalogue, error)

	ListCatalogues(ctx context.Context) ([]*Catalogue, error)

	// DeleteCatalogue returns ErrCatalogueNotFound when nothing was deleted.
	DeleteCatalogue(ctx context.Context, catalogueID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
