// Package store provides request and event persistence using SQLite, plus an
// in-memory event bus for live streaming.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tinybackspace/backspace/model"
)

// StoredEvent is a StatusEvent with its assigned storage sequence. The
// sequence is the per-database insertion order; replay and live follow use it
// to deduplicate.
type StoredEvent struct {
	Seq int64 `json:"-"`
	model.StatusEvent
}

// Store manages request and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id         TEXT PRIMARY KEY,
			repo_url   TEXT NOT NULL,
			prompt     TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'running',
			branch     TEXT NOT NULL DEFAULT '',
			pr_url     TEXT NOT NULL DEFAULT '',
			error      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS request_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			stage      TEXT NOT NULL DEFAULT '',
			progress   INTEGER NOT NULL DEFAULT 0,
			extra      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (request_id) REFERENCES requests(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_request_id
			ON request_events(request_id, id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRequest inserts a new request.
func (s *Store) CreateRequest(req *model.Request) error {
	_, err := s.db.Exec(
		`INSERT INTO requests (id, repo_url, prompt, status, branch, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RepoURL, req.Prompt, req.Status, req.Branch,
		req.CreatedAt, req.UpdatedAt,
	)
	return err
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(id string) (*model.Request, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_url, prompt, status, branch, pr_url, error, created_at, updated_at
		 FROM requests WHERE id = ?`, id,
	)
	return scanRequest(row)
}

// GetRequestByPR finds the request whose run opened the given pull request.
// The newest matching request wins.
func (s *Store) GetRequestByPR(prURL string) (*model.Request, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_url, prompt, status, branch, pr_url, error, created_at, updated_at
		 FROM requests WHERE pr_url = ? ORDER BY created_at DESC LIMIT 1`, prURL,
	)
	return scanRequest(row)
}

// ListRequests returns all requests ordered by creation time (newest first).
func (s *Store) ListRequests() ([]*model.Request, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_url, prompt, status, branch, pr_url, error, created_at, updated_at
		 FROM requests ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// UpdateRequest updates mutable fields of a request.
func (s *Store) UpdateRequest(req *model.Request) error {
	req.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE requests SET
			status = ?, branch = ?, pr_url = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		req.Status, req.Branch, req.PRURL, req.Error, req.UpdatedAt, req.ID,
	)
	return err
}

// AddEvent inserts a new event and assigns its sequence number.
func (s *Store) AddEvent(ev *StoredEvent) error {
	extra := ""
	if len(ev.Extra) > 0 {
		b, err := json.Marshal(ev.Extra)
		if err != nil {
			return fmt.Errorf("encoding extra: %w", err)
		}
		extra = string(b)
	}
	result, err := s.db.Exec(
		`INSERT INTO request_events (request_id, type, message, stage, progress, extra, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, ev.Type, ev.Message, ev.Stage, ev.Progress, extra, ev.Timestamp,
	)
	if err != nil {
		return err
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return err
	}
	ev.Seq = seq
	return nil
}

// GetEvents returns events for a request with sequence greater than afterSeq,
// in insertion order.
func (s *Store) GetEvents(requestID string, afterSeq int64) ([]*StoredEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, request_id, type, message, stage, progress, extra, created_at
		 FROM request_events
		 WHERE request_id = ? AND id > ?
		 ORDER BY id ASC`,
		requestID, afterSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*StoredEvent
	for rows.Next() {
		ev := &StoredEvent{}
		var extra string
		if err := rows.Scan(&ev.Seq, &ev.RequestID, &ev.Type, &ev.Message,
			&ev.Stage, &ev.Progress, &extra, &ev.Timestamp); err != nil {
			return nil, err
		}
		if extra != "" {
			if err := json.Unmarshal([]byte(extra), &ev.Extra); err != nil {
				return nil, fmt.Errorf("decoding extra: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*model.Request, error) {
	req := &model.Request{}
	err := row.Scan(
		&req.ID, &req.RepoURL, &req.Prompt, &req.Status,
		&req.Branch, &req.PRURL, &req.Error, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
