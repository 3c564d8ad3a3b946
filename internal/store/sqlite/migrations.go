package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- Finished records (flood predictions, change reports)
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	lat REAL NOT NULL,
	lng REAL NOT NULL,
	payload_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_kind_created_at ON records(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at DESC);
`
