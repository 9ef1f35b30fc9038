package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-graph-import/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{`
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		parent_id TEXT,
		status TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS workflow_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		kind TEXT,
		code TEXT,
		stage TEXT,
		error_message TEXT,
		created_at DATETIME,
		UNIQUE (workflow_id, created_at, error_message)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_parent ON workflows (parent_id);`,
}

// SQLite keeps each workflow state as a JSON document with its fatal error
// mirrored into workflow_errors for querying.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens dbPath and creates tables if they do not exist.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	s := &SQLite{db: db}
	for _, ddl := range sqliteSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create status tables: %w", err)
		}
	}
	return s, nil
}

// Put upserts the state and records its error, once.
func (s *SQLite) Put(ctx context.Context, id string, state model.WorkflowState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", id, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, kind, parent_id, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, state = excluded.state, updated_at = excluded.updated_at`,
		id, state.Kind, nullable(state.ParentID), state.Status, string(doc), state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	if e := state.Error; e != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO workflow_errors (workflow_id, kind, code, stage, error_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, e.Kind, e.Code, e.Stage, e.Message, e.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("save error for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Get(ctx context.Context, id string) (model.WorkflowState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM workflows WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkflowState{}, ErrNotFound
	}
	if err != nil {
		return model.WorkflowState{}, fmt.Errorf("get state %s: %w", id, err)
	}
	var st model.WorkflowState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return model.WorkflowState{}, fmt.Errorf("decode state %s: %w", id, err)
	}
	return st, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]model.WorkflowState, error) {
	q := `SELECT state FROM workflows WHERE kind = ? ORDER BY created_at DESC, id`
	args := []interface{}{model.KindRequest}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowState
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var st model.WorkflowState
		if err := json.Unmarshal([]byte(doc), &st); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ErrorRecord is one row of workflow_errors
type ErrorRecord struct {
	WorkflowID string    `json:"workflow_id"`
	Kind       string    `json:"kind"`
	Code       string    `json:"code,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"error_message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Errors returns the recorded errors of a workflow, oldest first.
func (s *SQLite) Errors(ctx context.Context, id string) ([]ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, kind, code, stage, error_message, created_at
		FROM workflow_errors WHERE workflow_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		if err := rows.Scan(&r.WorkflowID, &r.Kind, &r.Code, &r.Stage, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
