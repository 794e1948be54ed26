package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teamcutter/ublock-chrome/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS installs (
    name         TEXT NOT NULL,
    tag          TEXT NOT NULL,
    version      TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL,
    sha256       TEXT NOT NULL DEFAULT '',
    path         TEXT NOT NULL,
    launchers    TEXT NOT NULL DEFAULT '[]',
    installed_at TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'installed',
    PRIMARY KEY (name, status)
);
`

// SQLiteState records installs in a SQLite database and mirrors the installed
// rows to a JSON manifest. The database is created on the first write, so
// read-only commands never materialize the install directory.
type SQLiteState struct {
	mu           sync.Mutex
	db           *sql.DB
	dbPath       string
	manifestPath string
}

func NewSQLite(dbPath, manifestPath string) *SQLiteState {
	return &SQLiteState{
		dbPath:       dbPath,
		manifestPath: manifestPath,
	}
}

func (s *SQLiteState) open(create bool) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	_, statErr := os.Stat(s.dbPath)
	fresh := errors.Is(statErr, os.ErrNotExist)
	if fresh && !create {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s.db = db

	if fresh {
		if err := s.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}

	return db, nil
}

// migrate imports a manifest left behind by a lost database.
func (s *SQLiteState) migrate() error {
	data, err := os.ReadFile(s.manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range manifest.Records {
		if err := insertRecord(tx, rec, domain.StatusInstalled); err != nil {
			return fmt.Errorf("failed to insert %s: %w", rec.Name, err)
		}
	}

	return tx.Commit()
}

func insertRecord(tx *sql.Tx, rec *domain.InstallRecord, status string) error {
	launchers, _ := json.Marshal(rec.Launchers)

	_, err := tx.Exec(`
		INSERT OR REPLACE INTO installs
		(name, tag, version, url, sha256, path, launchers, installed_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Tag, rec.Version, rec.URL, rec.SHA256, rec.Path,
		string(launchers), rec.InstalledAt.UTC().Format(time.RFC3339), status)
	return err
}

// Recover drops pending rows left by an interrupted install together with
// their staging directories and returns the affected names.
func (s *SQLiteState) Recover() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil || db == nil {
		return nil, err
	}

	rows, err := db.Query("SELECT name, path FROM installs WHERE status = ?", domain.StatusPending)
	if err != nil {
		return nil, err
	}

	type pending struct{ name, path string }
	var found []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.name, &p.path); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var names []string
	for _, p := range found {
		if err := os.RemoveAll(p.path); err != nil {
			return names, fmt.Errorf("failed to remove staging for %s: %w", p.name, err)
		}
		if _, err := db.Exec("DELETE FROM installs WHERE name = ? AND status = ?", p.name, domain.StatusPending); err != nil {
			return names, fmt.Errorf("failed to delete pending record %s: %w", p.name, err)
		}
		names = append(names, p.name)
	}

	return names, nil
}

// Get returns the installed record for name, or nil when there is none.
func (s *SQLiteState) Get(name string) (*domain.InstallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.listInstalled()
	if err != nil {
		return nil, err
	}
	return recs[name], nil
}

// BeginInstall records rec as pending next to any installed row of the same
// name. rec.Path must point at the staging directory so Recover can clean it up.
func (s *SQLiteState) BeginInstall(rec *domain.InstallRecord) error {
	return s.write(rec, domain.StatusPending)
}

func (s *SQLiteState) Add(rec *domain.InstallRecord) error {
	if err := s.write(rec, domain.StatusInstalled); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportJSON()
}

func (s *SQLiteState) write(rec *domain.InstallRecord, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(true)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRecord(tx, rec, status); err != nil {
		return err
	}
	if status == domain.StatusInstalled {
		if _, err := tx.Exec("DELETE FROM installs WHERE name = ? AND status = ?", rec.Name, domain.StatusPending); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteState) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil || db == nil {
		return err
	}

	if _, err := db.Exec("DELETE FROM installs WHERE name = ?", name); err != nil {
		return err
	}
	return s.exportJSON()
}

func (s *SQLiteState) listInstalled() (map[string]*domain.InstallRecord, error) {
	recs := make(map[string]*domain.InstallRecord)

	db, err := s.open(false)
	if err != nil || db == nil {
		return recs, err
	}

	rows, err := db.Query(`
		SELECT name, tag, version, url, sha256, path, launchers, installed_at
		FROM installs WHERE status = ?`, domain.StatusInstalled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.InstallRecord
		var launchers, installedAt string

		if err := rows.Scan(&rec.Name, &rec.Tag, &rec.Version, &rec.URL, &rec.SHA256, &rec.Path,
			&launchers, &installedAt); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(launchers), &rec.Launchers)
		rec.InstalledAt, _ = time.Parse(time.RFC3339, installedAt)

		recs[rec.Name] = &rec
	}

	return recs, rows.Err()
}

func (s *SQLiteState) exportJSON() error {
	recs, err := s.listInstalled()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(domain.Manifest{Records: recs}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.manifestPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(s.manifestPath, data, 0644)
}

func (s *SQLiteState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
