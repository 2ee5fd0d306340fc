// Package store persists the client book in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dhcgn/clientmail/model"
)

// SQLiteStore implements directory.Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS clients (
	uid             TEXT PRIMARY KEY,
	position        INTEGER NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	file_as         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	referral_source TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL DEFAULT '',
	updated_at      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS client_emails (
	uid      TEXT NOT NULL REFERENCES clients(uid) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	address  TEXT NOT NULL,
	PRIMARY KEY (uid, position)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the clients in saved order.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.ClientRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT uid, name, file_as, status, phone, description, referral_source, created_at, updated_at
FROM clients ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []model.ClientRecord
	positions := make(map[string]int)
	for rows.Next() {
		var (
			c                model.ClientRecord
			created, updated string
		)
		if err := rows.Scan(&c.UID, &c.Name, &c.FileAs, &c.Status, &c.Phone, &c.Description, &c.ReferralSource, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		positions[c.UID] = len(clients)
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}

	emailRows, err := s.db.QueryContext(ctx, `SELECT uid, address FROM client_emails ORDER BY uid, position`)
	if err != nil {
		return nil, fmt.Errorf("query client emails: %w", err)
	}
	defer emailRows.Close()

	for emailRows.Next() {
		var uid, address string
		if err := emailRows.Scan(&uid, &address); err != nil {
			return nil, fmt.Errorf("scan client email: %w", err)
		}
		if i, ok := positions[uid]; ok {
			clients[i].EmailAddresses = append(clients[i].EmailAddresses, address)
		}
	}
	if err := emailRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client emails: %w", err)
	}

	return clients, nil
}

// Save replaces the stored book with clients.
func (s *SQLiteStore) Save(ctx context.Context, clients []model.ClientRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_emails`); err != nil {
		return fmt.Errorf("clear client emails: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clients`); err != nil {
		return fmt.Errorf("clear clients: %w", err)
	}

	clientStmt, err := tx.PrepareContext(ctx, `
INSERT INTO clients (uid, position, name, file_as, status, phone, description, referral_source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer clientStmt.Close()

	emailStmt, err := tx.PrepareContext(ctx, `INSERT INTO client_emails (uid, position, address) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer emailStmt.Close()

	for i, c := range clients {
		if _, err := clientStmt.ExecContext(ctx, c.UID, i, c.Name, c.FileAs, c.Status, c.Phone, c.Description, c.ReferralSource,
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt)); err != nil {
			return fmt.Errorf("insert client %s: %w", c.UID, err)
		}
		for j, address := range c.EmailAddresses {
			if _, err := emailStmt.ExecContext(ctx, c.UID, j, address); err != nil {
				return fmt.Errorf("insert email for %s: %w", c.UID, err)
			}
		}
	}

	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
