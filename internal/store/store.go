package store

import (
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CanopyNet/canopy-core/internal/session"
	"github.com/CanopyNet/canopy-core/internal/transfer"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	country TEXT,
	status TEXT,
	total_files INTEGER,
	completed_files INTEGER,
	total_bytes INTEGER,
	transferred_bytes INTEGER,
	files TEXT,
	created_at DATETIME,
	completed_at DATETIME
);
CREATE TABLE IF NOT EXISTS session_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	file TEXT,
	error_message TEXT,
	created_at DATETIME
);
`

// Store keeps finished sessions in sqlite so history survives restarts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession records a session snapshot. Saving the same id again
// replaces the previous record, so retried completions stay clean.
func (s *Store) SaveSession(info session.Info) error {
	files, err := json.Marshal(info.Files)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO sessions
		(id, user_id, country, status, total_files, completed_files, total_bytes, transferred_bytes, files, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.UserID, info.Country, string(info.Status),
		info.TotalFiles, info.CompletedFiles, info.TotalBytes, info.TransferredBytes,
		string(files), info.CreatedAt, info.CompletedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM session_errors WHERE session_id = ?`, info.ID); err != nil {
		return err
	}
	for _, fe := range info.Errors {
		if _, err := tx.Exec(`INSERT INTO session_errors (session_id, file, error_message, created_at) VALUES (?, ?, ?, ?)`,
			info.ID, fe.File, fe.Error, fe.At); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListSessions returns the most recent sessions, newest first. Error
// details are fetched separately via SessionErrors.
func (s *Store) ListSessions(limit int) ([]session.Info, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, user_id, country, status, total_files, completed_files, total_bytes, transferred_bytes, files, created_at, completed_at
		FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Info
	for rows.Next() {
		var (
			info      session.Info
			status    string
			filesJSON string
		)
		if err := rows.Scan(&info.ID, &info.UserID, &info.Country, &status,
			&info.TotalFiles, &info.CompletedFiles, &info.TotalBytes, &info.TransferredBytes,
			&filesJSON, &info.CreatedAt, &info.CompletedAt); err != nil {
			return nil, err
		}
		info.Status = session.Status(status)
		if filesJSON != "" {
			var files []transfer.FileMeta
			if err := json.Unmarshal([]byte(filesJSON), &files); err != nil {
				return nil, err
			}
			info.Files = files
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// SessionErrors returns the recorded file failures for one session.
func (s *Store) SessionErrors(id string) ([]session.FileError, error) {
	rows, err := s.db.Query(`SELECT file, error_message, created_at FROM session_errors WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.FileError
	for rows.Next() {
		var fe session.FileError
		if err := rows.Scan(&fe.File, &fe.Error, &fe.At); err != nil {
			return nil, err
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}
