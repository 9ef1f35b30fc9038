package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": lite,
	}
}

func txNode(key, amount string) Node {
	return Node{Label: LabelTransaction, Key: key, Scope: "rates", CobDate: "20240131", Props: map[string]string{"amount": amount}}
}

func TestStore_MergeIsIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.Session(ctx)
			require.NoError(t, err)
			defer sess.Close()

			batch := []Statement{
				MergeNode{Node: Node{Label: LabelSummaryCounterparty, Key: "G1|20240131", CobDate: "20240131"}},
				MergeNode{Node: txNode("rates|20240131|T1", "10"), Mode: Replace},
				MergeRelationship{Rel: Relationship{Type: RelTransactions, FromLabel: LabelTransaction, FromKey: "rates|20240131|T1",
					ToLabel: LabelSummaryCounterparty, ToKey: "G1|20240131", CobDate: "20240131"}},
			}
			sum, err := sess.ExecuteWrite(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, WriteSummary{NodesCreated: 2, RelationshipsCreated: 1}, sum)

			sum, err = sess.ExecuteWrite(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, WriteSummary{}, sum)

			n, err := s.CountNodes(ctx, NodeFilter{Label: LabelTransaction, CobDate: "20240131"})
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
			r, err := s.CountRelationships(ctx, RelFilter{Type: RelTransactions})
			require.NoError(t, err)
			assert.EqualValues(t, 1, r)
		})
	}
}

func TestStore_ReplaceOverwritesCreateOnlyDoesNot(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.Session(ctx)
			require.NoError(t, err)
			defer sess.Close()

			_, err = sess.ExecuteWrite(ctx, []Statement{MergeNode{Node: txNode("k1", "1"), Mode: Replace}})
			require.NoError(t, err)
			_, err = sess.ExecuteWrite(ctx, []Statement{MergeNode{Node: txNode("k1", "2"), Mode: CreateOnly}})
			require.NoError(t, err)

			var got []Node
			require.NoError(t, s.ScanNodes(ctx, NodeFilter{Label: LabelTransaction}, func(n Node) error {
				got = append(got, n)
				return nil
			}))
			if diff := cmp.Diff([]Node{txNode("k1", "1")}, got); diff != "" {
				t.Fatalf("after create-only (-want +got):\n%s", diff)
			}

			_, err = sess.ExecuteWrite(ctx, []Statement{MergeNode{Node: txNode("k1", "3"), Mode: Replace}})
			require.NoError(t, err)
			got = nil
			require.NoError(t, s.ScanNodes(ctx, NodeFilter{Label: LabelTransaction}, func(n Node) error {
				got = append(got, n)
				return nil
			}))
			if diff := cmp.Diff([]Node{txNode("k1", "3")}, got); diff != "" {
				t.Fatalf("after replace (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_DetachRelationships(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.Session(ctx)
			require.NoError(t, err)
			defer sess.Close()

			rel := func(from, to, cob string) Statement {
				return MergeRelationship{Rel: Relationship{Type: RelBelongsTo, FromLabel: LabelSummaryCounterparty, FromKey: from,
					ToLabel: LabelSummaryAccountGroup, ToKey: to, CobDate: cob}}
			}
			_, err = sess.ExecuteWrite(ctx, []Statement{rel("G1|d1", "C1|d1", "d1"), rel("G2|d1", "C1|d1", "d1"), rel("G1|d2", "C1|d2", "d2")})
			require.NoError(t, err)

			sum, err := sess.ExecuteWrite(ctx, []Statement{DetachRelationships{Type: RelBelongsTo, FromLabel: LabelSummaryCounterparty, CobDate: "d1"}})
			require.NoError(t, err)
			assert.EqualValues(t, 2, sum.RelationshipsDeleted)

			var left []Relationship
			require.NoError(t, s.ScanRelationships(ctx, RelFilter{Type: RelBelongsTo}, func(r Relationship) error {
				left = append(left, r)
				return nil
			}))
			require.Len(t, left, 1)
			assert.Equal(t, "d2", left[0].CobDate)
		})
	}
}

func TestStore_DeleteNodesKeepsListedKeys(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.Session(ctx)
			require.NoError(t, err)
			defer sess.Close()

			ag := func(key, cob string) Statement {
				return MergeNode{Node: Node{Label: LabelSummaryAccountGroup, Key: key, CobDate: cob}}
			}
			_, err = sess.ExecuteWrite(ctx, []Statement{
				ag("C1|d1", "d1"), ag("C2|d1", "d1"), ag("C1|d2", "d2"),
				MergeNode{Node: Node{Label: LabelSummaryCounterparty, Key: "G1|d1", CobDate: "d1"}},
				MergeRelationship{Rel: Relationship{Type: RelBelongsTo, FromLabel: LabelSummaryCounterparty, FromKey: "G1|d1",
					ToLabel: LabelSummaryAccountGroup, ToKey: "C2|d1", CobDate: "d1"}},
			})
			require.NoError(t, err)

			sum, err := sess.ExecuteWrite(ctx, []Statement{DeleteNodes{Label: LabelSummaryAccountGroup, CobDate: "d1", KeepKeys: []string{"C1|d1"}}})
			require.NoError(t, err)
			assert.Equal(t, WriteSummary{NodesDeleted: 1, RelationshipsDeleted: 1}, sum)

			var keys []string
			require.NoError(t, s.ScanNodes(ctx, NodeFilter{Label: LabelSummaryAccountGroup}, func(n Node) error {
				keys = append(keys, n.Key)
				return nil
			}))
			assert.Equal(t, []string{"C1|d1", "C1|d2"}, keys)
			n, err := s.CountNodes(ctx, NodeFilter{Label: LabelSummaryCounterparty})
			require.NoError(t, err)
			assert.EqualValues(t, 1, n, "other labels are untouched")
			r, err := s.CountRelationships(ctx, RelFilter{})
			require.NoError(t, err)
			assert.Zero(t, r)

			_, err = sess.ExecuteWrite(ctx, []Statement{DeleteNodes{Label: LabelSummaryAccountGroup}})
			assert.Error(t, err, "an unscoped delete is rejected")
		})
	}
}

func TestStore_InvalidStatementWritesNothing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.Session(ctx)
			require.NoError(t, err)
			defer sess.Close()

			_, err = sess.ExecuteWrite(ctx, []Statement{
				MergeNode{Node: txNode("ok", "1")},
				MergeNode{Node: Node{Label: LabelTransaction}},
			})
			require.Error(t, err)

			n, err := s.CountNodes(ctx, NodeFilter{Label: LabelTransaction})
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestMemoryStore_FailWriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.FailWrite = func([]Statement) error { return errors.New("boom") }
	sess, err := s.Session(ctx)
	require.NoError(t, err)

	_, err = sess.ExecuteWrite(ctx, []Statement{MergeNode{Node: txNode("k", "1")}})
	require.EqualError(t, err, "boom")
	n, _ := s.CountNodes(ctx, NodeFilter{Label: LabelTransaction})
	assert.Zero(t, n)
}

func TestSession_ClosedRejectsWrites(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.Session(ctx)
			require.NoError(t, err)
			require.NoError(t, sess.Close())
			_, err = sess.ExecuteWrite(ctx, []Statement{MergeNode{Node: txNode("k", "1")}})
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}
