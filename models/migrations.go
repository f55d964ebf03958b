package models

import (
	"database/sql"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// DDLCreateEntitiesTable holds every syncable record as one row per
// (blog, kind, id). The payload column is the msgpack-encoded entity; the
// updated_at column mirrors Entity.Modified so "modified since" queries
// never decode payloads.
const DDLCreateEntitiesTable = `
CREATE TABLE IF NOT EXISTS entities (
    blog_id    VARCHAR NOT NULL,
    kind       VARCHAR NOT NULL,
    id         VARCHAR NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    payload    BLOB NOT NULL,
    PRIMARY KEY (blog_id, kind, id)
);
`

// DDLCreateSyncStateTable persists what this device has already absorbed
// from (or sent to) the published sync directory, one row per blog.
// No password or key material is ever stored here.
const DDLCreateSyncStateTable = `
CREATE TABLE IF NOT EXISTS sync_state (
    blog_id             VARCHAR PRIMARY KEY,
    producer_id         VARCHAR NOT NULL,
    last_synced_version BIGINT NOT NULL DEFAULT 0,
    last_synced_at      TIMESTAMP,
    last_published_at   TIMESTAMP,
    sync_enabled        BOOLEAN NOT NULL DEFAULT false,
    remote_url          VARCHAR,
    file_hashes         BLOB,
    created_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// migrateDB creates the schema on a freshly opened database.
// Every statement is idempotent so migrations run on each open.
func migrateDB(db *sql.DB) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"entities", DDLCreateEntitiesTable},
		{"sync_state", DDLCreateSyncStateTable},
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt.sql); err != nil {
			return serr.Wrap(err, "failed to create "+stmt.name+" table")
		}
	}

	logger.Debug("Database migration completed")
	return nil
}
