package graph

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT 1 FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", Postgres.Rebind(q))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = DialectFor("")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestDialect_DSN(t *testing.T) {
	assert.Equal(t, "g.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", SQLite.DSN("g.db"))
	assert.Equal(t, "g.db?cache=shared&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", SQLite.DSN("g.db?cache=shared"))
	assert.Equal(t, "postgres://x/y", Postgres.DSN("postgres://x/y"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestSQLStore_PostgresBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, Postgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO graph_nodes`)+`.*\$6\)`).
		WithArgs(LabelSummaryCounterparty, "G1|20240131", "", "20240131", "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO graph_relationships`)).
		WithArgs(RelTransactions, LabelTransaction, "T1", LabelSummaryCounterparty, "G1|20240131", "20240131").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	sum, err := sess.ExecuteWrite(ctx, []Statement{
		MergeNode{Node: Node{Label: LabelSummaryCounterparty, Key: "G1|20240131", CobDate: "20240131"}},
		MergeRelationship{Rel: Relationship{Type: RelTransactions, FromLabel: LabelTransaction, FromKey: "T1",
			ToLabel: LabelSummaryCounterparty, ToKey: "G1|20240131", CobDate: "20240131"}},
	})
	require.NoError(t, err)
	assert.Equal(t, WriteSummary{RelationshipsCreated: 1}, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RollbackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, Postgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO graph_nodes`)).WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.ExecuteWrite(ctx, []Statement{MergeNode{Node: Node{Label: LabelTransaction, Key: "k"}, Mode: Replace}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
