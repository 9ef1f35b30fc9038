// Package aggregate recomputes the summary hierarchy for a close-of-business
// date once every loader of the run has finished.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go-graph-import/internal/graph"
	"go-graph-import/internal/loader"
	"go-graph-import/internal/model"

	"github.com/shopspring/decimal"
)

const stage = "aggregate"

// CountProp holds the number of transactions rolled into a summary
const CountProp = "transaction_count"

// Job describes one aggregation pass
type Job struct {
	WorkflowID string
	CobDate    string
	Spec       model.ColumnSpec
}

// Engine writes summary nodes and their containment edges
type Engine struct {
	store graph.Store
	log   *slog.Logger
	// MaxWarnings caps how many unparsable values are reported; the rest are only counted.
	MaxWarnings int
}

func New(store graph.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, log: log, MaxWarnings: 20}
}

type sums struct {
	count  int64
	fields map[string]decimal.Decimal
}

func newSums(fields []string) *sums {
	s := &sums{fields: make(map[string]decimal.Decimal, len(fields))}
	for _, f := range fields {
		s.fields[f] = decimal.Zero
	}
	return s
}

func (s *sums) merge(o *sums) {
	s.count += o.count
	for f, v := range o.fields {
		s.fields[f] = s.fields[f].Add(v)
	}
}

func (s *sums) props() map[string]string {
	p := make(map[string]string, len(s.fields)+1)
	for f, v := range s.fields {
		p[f] = v.String()
	}
	p[CountProp] = fmt.Sprint(s.count)
	return p
}

type level struct {
	label string
	sums  map[string]*sums
}

func failure(code, subject string, format string, args ...interface{}) error {
	return model.Errorf(model.KindAggregation, code, stage, subject, format, args...)
}

// Unassigned is the reserved level key for transactions whose hierarchy cell is blank.
// Netting agreements use one bucket per counterparty, see unassignedUnder.
const Unassigned = "@UNASSIGNED"

func unassignedUnder(parent string) string { return Unassigned + ":" + parent }

// Aggregate refuses to run unless load is complete and fully successful.
//
// A blank netting id rolls into its counterparty's unassigned netting bucket. A
// blank account group inherits the counterparty's only account group, or the
// Unassigned group when the counterparty has none. Both are reported through warn
// as data quality issues, so every parent still equals the sum of its children.
func (e *Engine) Aggregate(ctx context.Context, job Job, load model.LoadResult, warn func(error)) (model.AggregationResult, error) {
	res := model.AggregationResult{CobDate: job.CobDate, SummaryNodes: map[string]int{}}
	if !load.Complete {
		return res, failure(model.CodeBarrierNotSatisfied, job.CobDate, "load has not finished")
	}
	if !load.Success || len(load.FailedFiles) > 0 {
		return res, failure(model.CodeBarrierNotSatisfied, job.CobDate, "%d partition files failed to load", len(load.FailedFiles))
	}
	spec := job.Spec.WithDefaults()
	h := spec.Hierarchy
	log := e.log.With("workflow_id", job.WorkflowID, "stage", stage, "cob_date", job.CobDate)

	ag := &level{label: graph.LabelSummaryAccountGroup, sums: map[string]*sums{}}
	cp := &level{label: graph.LabelSummaryCounterparty, sums: map[string]*sums{}}
	na := &level{label: graph.LabelSummaryNettingAgreement, sums: map[string]*sums{}}
	cpParents := map[string]map[string]bool{} // counterparty -> account groups
	naParents := map[string]map[string]bool{} // netting agreement -> counterparties
	orphans := map[string]*sums{}             // counterparty -> rows with a blank account group

	link := func(m map[string]map[string]bool, child, parent string) {
		if m[child] == nil {
			m[child] = map[string]bool{}
		}
		m[child][parent] = true
	}
	bump := func(m map[string]*sums, key string, s *sums) {
		t, ok := m[key]
		if !ok {
			t = newSums(spec.NumericFields)
			m[key] = t
		}
		t.merge(s)
	}

	err := e.store.ScanNodes(ctx, graph.NodeFilter{Label: graph.LabelTransaction, CobDate: job.CobDate}, func(n graph.Node) error {
		res.TransactionsScanned++
		row := newSums(nil)
		row.count = 1
		for _, f := range spec.NumericFields {
			raw := strings.TrimSpace(n.Props[f])
			if raw == "" {
				row.fields[f] = decimal.Zero
				continue
			}
			d, err := decimal.NewFromString(raw)
			if err != nil {
				res.UnparsableValues++
				if warn != nil && int(res.UnparsableValues) <= e.MaxWarnings {
					warn(model.Errorf(model.KindDataQuality, model.CodeUnparsableNumber, stage, n.Key, "%s=%q", f, raw))
				}
				d = decimal.Zero
			}
			row.fields[f] = d
		}
		cpKey := strings.TrimSpace(n.Props[h.Counterparty])
		agKey := strings.TrimSpace(n.Props[h.AccountGroup])
		naKey := strings.TrimSpace(n.Props[h.NettingAgreement])
		if cpKey == "" {
			return nil
		}
		bump(cp.sums, cpKey, row)
		if agKey == "" {
			res.BlankAccountGroups++
			bump(orphans, cpKey, row)
		} else {
			bump(ag.sums, agKey, row)
			link(cpParents, cpKey, agKey)
		}
		if naKey == "" {
			res.BlankNettingIDs++
			naKey = unassignedUnder(cpKey)
		}
		bump(na.sums, naKey, row)
		link(naParents, naKey, cpKey)
		return nil
	})
	if err != nil {
		return res, failure("", job.CobDate, "scan transactions: %w", err)
	}
	if res.TransactionsScanned == 0 {
		return res, failure(model.CodeNoTransactions, job.CobDate, "no transactions loaded for %s", job.CobDate)
	}

	for _, cpKey := range sortedKeys(orphans) {
		target := Unassigned
		if groups := cpParents[cpKey]; len(groups) == 1 {
			target = sortedKeys(groups)[0]
		}
		bump(ag.sums, target, orphans[cpKey])
		link(cpParents, cpKey, target)
	}
	if warn != nil && res.BlankAccountGroups > 0 {
		warn(model.Errorf(model.KindDataQuality, model.CodeMissingHierarchyKey, stage, h.AccountGroup,
			"%d transactions have a blank %s; they roll up through their counterparty's account group or %s",
			res.BlankAccountGroups, h.AccountGroup, Unassigned))
	}
	if warn != nil && res.BlankNettingIDs > 0 {
		warn(model.Errorf(model.KindDataQuality, model.CodeMissingHierarchyKey, stage, h.NettingAgreement,
			"%d transactions have a blank %s; they roll up into %s netting agreements per counterparty",
			res.BlankNettingIDs, h.NettingAgreement, Unassigned))
	}

	stmts := []graph.Statement{
		graph.DetachRelationships{Type: graph.RelBelongsTo, FromLabel: graph.LabelSummaryCounterparty, CobDate: job.CobDate},
		graph.DetachRelationships{Type: graph.RelBelongsTo, FromLabel: graph.LabelSummaryNettingAgreement, CobDate: job.CobDate},
	}
	for _, l := range []*level{ag, cp, na} {
		keys := sortedKeys(l.sums)
		nodeKeys := make([]string, len(keys))
		for i, key := range keys {
			nodeKeys[i] = loader.SummaryKey(key, job.CobDate)
			stmts = append(stmts, graph.MergeNode{
				Node: graph.Node{Label: l.label, Key: nodeKeys[i], CobDate: job.CobDate, Props: l.sums[key].props()},
				Mode: graph.Replace,
			})
		}
		// keys that vanished from this date's transactions must not keep old totals
		stmts = append(stmts, graph.DeleteNodes{Label: l.label, CobDate: job.CobDate, KeepKeys: nodeKeys})
		res.SummaryNodes[l.label] = len(l.sums)
	}
	stmts = appendContainment(stmts, cpParents, graph.LabelSummaryCounterparty, graph.LabelSummaryAccountGroup, job.CobDate)
	stmts = appendContainment(stmts, naParents, graph.LabelSummaryNettingAgreement, graph.LabelSummaryCounterparty, job.CobDate)

	sess, err := e.store.Session(ctx)
	if err != nil {
		return res, failure("", job.CobDate, "open session: %w", err)
	}
	defer sess.Close()
	sum, err := sess.ExecuteWrite(ctx, stmts)
	if err != nil {
		return res, failure("", job.CobDate, "write summaries: %w", err)
	}
	res.NodesCreated = sum.NodesCreated
	res.RelationshipsCreated = sum.RelationshipsCreated
	res.NodesDeleted = sum.NodesDeleted

	if err := e.Verify(ctx, job.CobDate, spec.NumericFields); err != nil {
		return res, err
	}
	log.Info("aggregation complete", "transactions", res.TransactionsScanned,
		"account_groups", len(ag.sums), "counterparties", len(cp.sums), "netting_agreements", len(na.sums),
		"unparsable_values", res.UnparsableValues, "blank_account_groups", res.BlankAccountGroups,
		"blank_netting_ids", res.BlankNettingIDs, "stale_summaries_deleted", res.NodesDeleted)
	return res, nil
}

func appendContainment(stmts []graph.Statement, parents map[string]map[string]bool, fromLabel, toLabel, cob string) []graph.Statement {
	for _, child := range sortedKeys(parents) {
		for _, parent := range sortedKeys(parents[child]) {
			stmts = append(stmts, graph.MergeRelationship{Rel: graph.Relationship{
				Type: graph.RelBelongsTo, FromLabel: fromLabel, FromKey: loader.SummaryKey(child, cob),
				ToLabel: toLabel, ToKey: loader.SummaryKey(parent, cob), CobDate: cob,
			}})
		}
	}
	return stmts
}

// Verify reads the written summaries back and checks, for every numeric field,
// that each account group equals the sum of its counterparties and each
// counterparty equals the sum of its netting agreements.
func (e *Engine) Verify(ctx context.Context, cobDate string, fields []string) error {
	if err := e.verifyLevel(ctx, cobDate, fields, graph.LabelSummaryAccountGroup, graph.LabelSummaryCounterparty); err != nil {
		return err
	}
	return e.verifyLevel(ctx, cobDate, fields, graph.LabelSummaryCounterparty, graph.LabelSummaryNettingAgreement)
}

func (e *Engine) verifyLevel(ctx context.Context, cobDate string, fields []string, parentLabel, childLabel string) error {
	read := func(label string) (map[string]map[string]string, error) {
		out := map[string]map[string]string{}
		err := e.store.ScanNodes(ctx, graph.NodeFilter{Label: label, CobDate: cobDate}, func(n graph.Node) error {
			out[n.Key] = n.Props
			return nil
		})
		if err != nil {
			return nil, failure("", cobDate, "read %s: %w", label, err)
		}
		return out, nil
	}
	parents, err := read(parentLabel)
	if err != nil {
		return err
	}
	nodes, err := read(childLabel)
	if err != nil {
		return err
	}

	children := map[string][]string{}
	if err := e.store.ScanRelationships(ctx, graph.RelFilter{
		Type: graph.RelBelongsTo, FromLabel: childLabel, ToLabel: parentLabel, CobDate: cobDate,
	}, func(r graph.Relationship) error {
		children[r.ToKey] = append(children[r.ToKey], r.FromKey)
		return nil
	}); err != nil {
		return failure("", cobDate, "read containment: %w", err)
	}

	for _, key := range sortedKeys(parents) {
		for _, f := range fields {
			want, err := decimal.NewFromString(parents[key][f])
			if err != nil {
				return failure(model.CodeSumMismatch, key, "%s is not a number: %q", f, parents[key][f])
			}
			got := decimal.Zero
			for _, c := range children[key] {
				v, err := decimal.NewFromString(nodes[c][f])
				if err != nil {
					return failure(model.CodeSumMismatch, c, "%s is not a number: %q", f, nodes[c][f])
				}
				got = got.Add(v)
			}
			if !want.Equal(got) {
				return failure(model.CodeSumMismatch, key, "%s %s is %s but children sum to %s", parentLabel, f, want, got)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
