package repository

// Schema definitions for the Kestrel catalogue store.
// Compatible with both SQLite and PostgreSQL.

// schemaCatalogues stores one row per catalogue. conditions holds the
// authored conditions as a JSON array so authoring order survives.
const schemaCatalogues = `
CREATE TABLE IF NOT EXISTS catalogues (
    id TEXT PRIMARY KEY,
    conditions TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_catalogues_updated ON catalogues(updated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCatalogues,
	}
}
