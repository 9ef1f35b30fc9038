package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS graph_nodes (
		label TEXT NOT NULL,
		node_key TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		cob_date TEXT NOT NULL DEFAULT '',
		props TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (label, node_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_graph_nodes_cob ON graph_nodes (label, cob_date)`,
	`CREATE TABLE IF NOT EXISTS graph_relationships (
		rel_type TEXT NOT NULL,
		from_label TEXT NOT NULL,
		from_key TEXT NOT NULL,
		to_label TEXT NOT NULL,
		to_key TEXT NOT NULL,
		cob_date TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (rel_type, from_label, from_key, to_label, to_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_graph_rels_cob ON graph_relationships (rel_type, from_label, cob_date)`,
}

// SQLStore keeps the graph in two tables over database/sql
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Name, d.DSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	s := NewSQLStore(db, d)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing handle. The caller is responsible for the schema.
func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type sqlSession struct {
	store *SQLStore
	conn  *sql.Conn
}

// Session pins one pooled connection for the lifetime of the session.
func (s *SQLStore) Session(ctx context.Context) (Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph session: %w", err)
	}
	return &sqlSession{store: s, conn: conn}, nil
}

func (s *sqlSession) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *sqlSession) ExecuteWrite(ctx context.Context, stmts []Statement) (sum WriteSummary, err error) {
	if s.conn == nil {
		return sum, ErrClosed
	}
	if err := validate(stmts); err != nil {
		return sum, err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return sum, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	d := s.store.dialect
	now := s.store.now()
	for _, st := range stmts {
		switch w := st.(type) {
		case MergeNode:
			created, err := mergeNode(ctx, tx, d, w, now)
			if err != nil {
				return WriteSummary{}, err
			}
			if created {
				sum.NodesCreated++
			}
		case MergeRelationship:
			r := w.Rel
			res, err := tx.ExecContext(ctx, d.Rebind(`INSERT INTO graph_relationships
				(rel_type, from_label, from_key, to_label, to_key, cob_date) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (rel_type, from_label, from_key, to_label, to_key) DO NOTHING`),
				r.Type, r.FromLabel, r.FromKey, r.ToLabel, r.ToKey, r.CobDate)
			if err != nil {
				return WriteSummary{}, fmt.Errorf("merge %s %s->%s: %w", r.Type, r.FromKey, r.ToKey, err)
			}
			sum.RelationshipsCreated += affected(res)
		case DetachRelationships:
			q := `DELETE FROM graph_relationships WHERE rel_type = ? AND from_label = ?`
			args := []interface{}{w.Type, w.FromLabel}
			if w.CobDate != "" {
				q += ` AND cob_date = ?`
				args = append(args, w.CobDate)
			}
			res, err := tx.ExecContext(ctx, d.Rebind(q), args...)
			if err != nil {
				return WriteSummary{}, fmt.Errorf("detach %s from %s: %w", w.Type, w.FromLabel, err)
			}
			sum.RelationshipsDeleted += affected(res)
		case DeleteNodes:
			ds, err := deleteNodes(ctx, tx, d, w)
			if err != nil {
				return WriteSummary{}, err
			}
			sum.Add(ds)
		}
	}
	if err = tx.Commit(); err != nil {
		return WriteSummary{}, fmt.Errorf("commit: %w", err)
	}
	return sum, nil
}

func mergeNode(ctx context.Context, tx *sql.Tx, d Dialect, w MergeNode, now time.Time) (bool, error) {
	n := w.Node
	props, err := json.Marshal(copyProps(n.Props))
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, d.Rebind(`INSERT INTO graph_nodes
		(label, node_key, scope, cob_date, props, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (label, node_key) DO NOTHING`),
		n.Label, n.Key, n.Scope, n.CobDate, string(props), now)
	if err != nil {
		return false, fmt.Errorf("merge %s %s: %w", n.Label, n.Key, err)
	}
	if affected(res) > 0 {
		return true, nil
	}
	if w.Mode != Replace {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, d.Rebind(`UPDATE graph_nodes
		SET scope = ?, cob_date = ?, props = ?, updated_at = ? WHERE label = ? AND node_key = ?`),
		n.Scope, n.CobDate, string(props), now, n.Label, n.Key); err != nil {
		return false, fmt.Errorf("replace %s %s: %w", n.Label, n.Key, err)
	}
	return false, nil
}

// deleteChunk bounds the IN lists so neither backend hits its parameter limit
const deleteChunk = 200

func deleteNodes(ctx context.Context, tx *sql.Tx, d Dialect, w DeleteNodes) (WriteSummary, error) {
	var sum WriteSummary
	keep := keySet(w.KeepKeys)
	rows, err := tx.QueryContext(ctx, d.Rebind(`SELECT node_key FROM graph_nodes WHERE label = ? AND cob_date = ?`), w.Label, w.CobDate)
	if err != nil {
		return sum, fmt.Errorf("list %s for %s: %w", w.Label, w.CobDate, err)
	}
	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return sum, err
		}
		if !keep[key] {
			stale = append(stale, key)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, err
	}

	for start := 0; start < len(stale); start += deleteChunk {
		chunk := stale[start:min(start+deleteChunk, len(stale))]
		in := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		keys := make([]interface{}, len(chunk))
		for i, k := range chunk {
			keys[i] = k
		}

		args := append(append([]interface{}{w.Label}, keys...), w.Label)
		args = append(args, keys...)
		res, err := tx.ExecContext(ctx, d.Rebind(`DELETE FROM graph_relationships
			WHERE (from_label = ? AND from_key IN (`+in+`)) OR (to_label = ? AND to_key IN (`+in+`))`), args...)
		if err != nil {
			return sum, fmt.Errorf("detach stale %s: %w", w.Label, err)
		}
		sum.RelationshipsDeleted += affected(res)

		res, err = tx.ExecContext(ctx, d.Rebind(`DELETE FROM graph_nodes WHERE label = ? AND node_key IN (`+in+`)`),
			append([]interface{}{w.Label}, keys...)...)
		if err != nil {
			return sum, fmt.Errorf("delete stale %s: %w", w.Label, err)
		}
		sum.NodesDeleted += affected(res)
	}
	return sum, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func nodeWhere(f NodeFilter) (string, []interface{}) {
	clauses := []string{"label = ?"}
	args := []interface{}{f.Label}
	if f.Scope != "" {
		clauses = append(clauses, "scope = ?")
		args = append(args, f.Scope)
	}
	if f.CobDate != "" {
		clauses = append(clauses, "cob_date = ?")
		args = append(args, f.CobDate)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func relWhere(f RelFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		}
	}
	add("rel_type", f.Type)
	add("from_label", f.FromLabel)
	add("to_label", f.ToLabel)
	add("cob_date", f.CobDate)
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLStore) ScanNodes(ctx context.Context, f NodeFilter, fn func(Node) error) error {
	where, args := nodeWhere(f)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT label, node_key, scope, cob_date, props FROM graph_nodes`+where+` ORDER BY node_key`), args...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", f.Label, err)
	}
	defer rows.Close()
	for rows.Next() {
		var n Node
		var props string
		if err := rows.Scan(&n.Label, &n.Key, &n.Scope, &n.CobDate, &props); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(props), &n.Props); err != nil {
			return fmt.Errorf("decode props of %s %s: %w", n.Label, n.Key, err)
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) ScanRelationships(ctx context.Context, f RelFilter, fn func(Relationship) error) error {
	where, args := relWhere(f)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT rel_type, from_label, from_key, to_label, to_key, cob_date FROM graph_relationships`+where+
			` ORDER BY from_key, to_key`), args...)
	if err != nil {
		return fmt.Errorf("scan relationships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.Type, &r.FromLabel, &r.FromKey, &r.ToLabel, &r.ToKey, &r.CobDate); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) CountNodes(ctx context.Context, f NodeFilter) (int64, error) {
	where, args := nodeWhere(f)
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM graph_nodes`+where), args...).Scan(&n)
	return n, err
}

func (s *SQLStore) CountRelationships(ctx context.Context, f RelFilter) (int64, error) {
	where, args := relWhere(f)
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM graph_relationships`+where), args...).Scan(&n)
	return n, err
}
