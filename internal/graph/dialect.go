package graph

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the supported SQL backends
type Dialect struct {
	Name   string // database/sql driver name
	dollar bool   // $n placeholders instead of ?
}

var (
	SQLite   = Dialect{Name: "sqlite3"}
	Postgres = Dialect{Name: "pgx", dollar: true}
)

// DialectFor maps a driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	}
	return Dialect{}, errors.New("graph: unsupported driver " + strconv.Quote(driver))
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DSN applies backend defaults to a user supplied DSN.
func (d Dialect) DSN(dsn string) string {
	if d.dollar || strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	// Concurrent loader sessions each hold their own connection; writers queue on the lock.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

// IsTransient reports whether a backend error is worth retrying the batch for.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
