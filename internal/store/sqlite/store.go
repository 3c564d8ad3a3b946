package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/environmental-fusion/internal/store"
)

// Store implements store.Store using SQLite
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath and applies the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run migrations
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save persists a finished record. Saving the same id twice is a no-op.
func (s *Store) Save(ctx context.Context, r store.Record) error {
	query := `
		INSERT INTO records (id, kind, lat, lng, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		string(r.Kind),
		r.Coordinates.Lat,
		r.Coordinates.Lng,
		string(r.Payload),
		r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// Get retrieves one record by id
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	query := `
		SELECT id, kind, lat, lng, payload_json, created_at
		FROM records
		WHERE id = ?
	`

	r, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// ListRecent retrieves records newest first with optional kind filtering
func (s *Store) ListRecent(ctx context.Context, f store.Filter) ([]store.Record, error) {
	query := `
		SELECT id, kind, lat, lng, payload_json, created_at
		FROM records
		WHERE 1=1
	`
	args := []interface{}{}

	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(f.Kind))
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		r         store.Record
		kind      string
		payload   string
		createdAt time.Time
	)
	if err := row.Scan(&r.ID, &kind, &r.Coordinates.Lat, &r.Coordinates.Lng, &payload, &createdAt); err != nil {
		return store.Record{}, err
	}
	r.Kind = store.Kind(kind)
	r.Payload = []byte(payload)
	r.CreatedAt = createdAt.UTC()
	return r, nil
}
