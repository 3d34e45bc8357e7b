package credential

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePersister keeps the credential as the single row of a SQLite table.
type SQLitePersister struct {
	db *sql.DB
}

func OpenSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating credential dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening credential db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS credential (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			data       BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := os.Chmod(dbPath, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting permissions: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Read() ([]byte, error) {
	var data []byte
	err := p.db.QueryRow(`SELECT data FROM credential WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credential: reading row: %w", err)
	}
	return data, nil
}

func (p *SQLitePersister) Write(data []byte) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO credential (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	return tx.Commit()
}

func (p *SQLitePersister) Remove() error {
	_, err := p.db.Exec(`DELETE FROM credential WHERE id = 1`)
	return err
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
