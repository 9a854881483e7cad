// Package history journals registry bank changes to SQLite so a watch
// session can be reviewed afterwards.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/st-keller/ultrasync/registry"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed-width so recorded_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one journaled bank change.
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	Kind       string    `json:"kind" yaml:"kind"`
	Bank       int       `json:"bank" yaml:"bank"`
	Sequence   int       `json:"sequence" yaml:"sequence"`
	Previous   int       `json:"previous" yaml:"previous"`
	Checksum   string    `json:"checksum" yaml:"checksum"`
	Values     []string  `json:"values" yaml:"values"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Journal is a SQLite-backed change log.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
// Use ":memory:" for a throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows one writer; the registry hook may fire from several goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores one change and returns its entry ID.
func (j *Journal) Record(ctx context.Context, c registry.Change) (string, error) {
	values, err := json.Marshal(c.Values)
	if err != nil {
		return "", fmt.Errorf("record change: %w", err)
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO changes (id, kind, bank, sequence, previous, checksum, bank_values, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		c.Kind.String(),
		c.Bank,
		c.Sequence,
		c.Previous,
		c.Checksum,
		string(values),
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("record change: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first. An empty kind matches both.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, bank, sequence, previous, checksum, bank_values, recorded_at
		FROM changes
		WHERE ? = '' OR kind = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var values, recorded string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Bank, &e.Sequence, &e.Previous, &e.Checksum, &values, &recorded); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &e.Values); err != nil {
			return nil, fmt.Errorf("decode values of %s: %w", e.ID, err)
		}
		if e.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
			return nil, fmt.Errorf("decode time of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of journaled changes.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM changes").Scan(&n); err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}
