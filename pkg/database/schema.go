package database

import (
	"database/sql"
	"fmt"
)

// Schema for the delivery archive. One table: the finalize audit trail.
// Live session state is never persisted, so there is no sessions table and
// no migration machinery - the schema is created at open.
const Schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	recipients TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('sent', 'failed')),
	error TEXT,
	timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_timestamp ON deliveries(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_deliveries_session ON deliveries(session_id);
`

// InitializeSchema creates the archive tables if they do not exist.
func InitializeSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return nil
}
