// Package repository provides catalogue persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

var (
	// ErrNotFound is returned when a catalogue does not exist.
	ErrNotFound     = domain.ErrCatalogueNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCatalogue creates a catalogue or replaces its conditions and bumps
// its version.
func (r *SQLRepository) SaveCatalogue(ctx context.Context, catalogueID string, conditions []domain.Condition) error {
	if catalogueID == "" {
		return fmt.Errorf("%w: catalogueID is required", ErrInvalidInput)
	}
	if len(conditions) == 0 {
		return fmt.Errorf("%w: conditions are required", ErrInvalidInput)
	}

	data, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO catalogues (id, conditions, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conditions = excluded.conditions,
			version = catalogues.version + 1,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), catalogueID, string(data), now, now)
	return err
}

// GetCatalogue retrieves a catalogue by ID.
func (r *SQLRepository) GetCatalogue(ctx context.Context, catalogueID string) (*domain.Catalogue, error) {
	if catalogueID == "" {
		return nil, fmt.Errorf("%w: catalogueID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, conditions, version, created_at, updated_at
		FROM catalogues
		WHERE id = ?
	`

	cat, err := scanCatalogue(r.db.QueryRowContext(ctx, r.rebind(query), catalogueID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, catalogueID)
	}
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// ListCatalogues retrieves every catalogue ordered by ID.
func (r *SQLRepository) ListCatalogues(ctx context.Context) ([]*domain.Catalogue, error) {
	query := `
		SELECT id, conditions, version, created_at, updated_at
		FROM catalogues
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var catalogues []*domain.Catalogue
	for rows.Next() {
		cat, err := scanCatalogue(rows)
		if err != nil {
			return nil, err
		}
		catalogues = append(catalogues, cat)
	}

	return catalogues, rows.Err()
}

// DeleteCatalogue removes a catalogue.
func (r *SQLRepository) DeleteCatalogue(ctx context.Context, catalogueID string) error {
	if catalogueID == "" {
		return fmt.Errorf("%w: catalogueID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM catalogues WHERE id = ?`), catalogueID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, catalogueID)
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCatalogue(row scanner) (*domain.Catalogue, error) {
	var cat domain.Catalogue
	var conditions string

	if err := row.Scan(&cat.ID, &conditions, &cat.Version, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditions), &cat.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse conditions for %s: %w", cat.ID, err)
	}
	return &cat, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var sb strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			n++
		} else {
			sb.WriteByte(query[i])
		}
	}
	return sb.String()
}
