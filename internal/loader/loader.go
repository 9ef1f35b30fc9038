// Package loader writes partition files into the graph store with a bounded
// pool of workers, each holding its own session.
package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go-graph-import/internal/graph"
	"go-graph-import/internal/model"
)

const stage = "load"

// Defaults
const (
	DefaultWorkers      = 4
	DefaultBatchSize    = 1000
	DefaultBatchTimeout = 60 * time.Second
)

// Options tune the worker pool
type Options struct {
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
	Retry        RetryConfig
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryConfig
	}
	return o
}

// Run identifies what is being loaded
type Run struct {
	WorkflowID string
	DomainName string
	CobDate    string
	Spec       model.ColumnSpec
}

// TransactionKey is the identity of a transaction node across re-imports.
func TransactionKey(domainName, cobDate, businessKey string) string {
	return domainName + "|" + cobDate + "|" + businessKey
}

// SummaryKey is the identity of a summary node.
func SummaryKey(levelKey, cobDate string) string {
	return levelKey + "|" + cobDate
}

// Loader is reusable across runs
type Loader struct {
	store graph.Store
	opts  Options
	log   *slog.Logger
}

func New(store graph.Store, opts Options, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{store: store, opts: opts.withDefaults(), log: log}
}

// Load loads every file and returns only after all workers finished.
// A failing file does not stop the others.
func (l *Loader) Load(ctx context.Context, run Run, files []model.PartitionFile) model.LoadResult {
	start := time.Now()
	run.Spec = run.Spec.WithDefaults()

	// deterministic work order: largest first keeps the tail short
	files = append([]model.PartitionFile(nil), files...)
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].RowCount != files[j].RowCount {
			return files[i].RowCount > files[j].RowCount
		}
		return files[i].Key < files[j].Key
	})

	workers := l.opts.Workers
	if workers > len(files) {
		workers = len(files)
	}
	jobs := make(chan model.PartitionFile)
	results := make(chan model.FileLoadResult, len(files))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			l.worker(ctx, workerID, run, jobs, results)
		}(w)
	}
	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				// unsent files are reported below as cancelled
				return
			}
		}
	}()
	wg.Wait()
	close(results)

	agg := model.LoadResult{}
	done := make(map[string]bool, len(files))
	for r := range results {
		done[r.File] = true
		agg.Files = append(agg.Files, r)
	}
	for _, f := range files {
		if !done[f.Path] {
			err := model.NewError(model.KindCancelled, "", stage, filepath.Base(f.Path), ctx.Err())
			agg.Files = append(agg.Files, model.FileLoadResult{
				File: f.Path, PartitionKey: f.Key, RowsFailed: f.RowCount, Error: err.Error(), Err: err,
			})
		}
	}
	sort.Slice(agg.Files, func(i, j int) bool { return agg.Files[i].File < agg.Files[j].File })
	for _, r := range agg.Files {
		agg.RowsLoaded += r.RowsLoaded
		agg.RowsFailed += r.RowsFailed
		agg.NodesCreated += r.NodesCreated
		agg.RelationshipsCreated += r.RelationshipsCreated
		if r.Success {
			agg.FilesLoaded++
		} else {
			agg.FailedFiles = append(agg.FailedFiles, model.FailedFile{File: r.File, Error: r.Error})
		}
	}
	agg.Success = len(agg.FailedFiles) == 0
	agg.Complete = true
	agg.Duration = time.Since(start)

	l.log.Info("load complete", "workflow_id", run.WorkflowID, "stage", stage, "cob_date", run.CobDate,
		"files", len(files), "files_failed", len(agg.FailedFiles), "rows_loaded", agg.RowsLoaded,
		"nodes_created", agg.NodesCreated, "duration", agg.Duration)
	return agg
}

func (l *Loader) worker(ctx context.Context, id int, run Run, jobs <-chan model.PartitionFile, results chan<- model.FileLoadResult) {
	log := l.log.With("workflow_id", run.WorkflowID, "stage", stage, "worker", id)
	sess, err := l.store.Session(ctx)
	if err != nil {
		// drain our share so the barrier still holds
		kind := model.KindLoad
		if ctx.Err() != nil {
			kind = model.KindCancelled
		}
		for f := range jobs {
			e := model.NewError(kind, model.CodeBatchFailed, stage, filepath.Base(f.Path), err)
			results <- model.FileLoadResult{File: f.Path, PartitionKey: f.Key, RowsFailed: f.RowCount, Error: e.Error(), Err: e}
		}
		return
	}
	defer sess.Close()

	for f := range jobs {
		r := l.loadFile(ctx, sess, run, f)
		if r.Success {
			log.Debug("file loaded", "file", f.Path, "partition", f.Key, "rows", r.RowsLoaded)
		} else {
			log.Warn("file failed", "file", f.Path, "partition", f.Key, "rows_loaded", r.RowsLoaded, "error", r.Error)
		}
		results <- r
	}
}

type batch struct {
	stmts    []graph.Statement
	parents  map[string]bool
	rows     int64
	firstRow int64
}

func (l *Loader) loadFile(ctx context.Context, sess graph.Session, run Run, f model.PartitionFile) model.FileLoadResult {
	res := model.FileLoadResult{File: f.Path, PartitionKey: f.Key}
	seen, err := l.streamFile(ctx, sess, run, f, &res)
	total := f.RowCount
	if seen > total {
		total = seen
	}
	res.RowsFailed = total - res.RowsLoaded
	if err != nil {
		var me *model.Error
		if !errors.As(err, &me) {
			me = model.NewError(model.KindLoad, model.CodeBatchFailed, stage, filepath.Base(f.Path), err)
		}
		res.Err = me
		res.Error = me.Error()
		return res
	}
	res.Success = true
	return res
}

// streamFile returns the number of data rows it read before stopping.
func (l *Loader) streamFile(ctx context.Context, sess graph.Session, run Run, f model.PartitionFile, res *model.FileLoadResult) (int64, error) {
	spec := run.Spec
	in, err := os.Open(f.Path)
	if err != nil {
		return 0, model.NewError(model.KindLoad, model.CodeBatchFailed, stage, filepath.Base(f.Path), err)
	}
	defer in.Close()
	r := bufio.NewReaderSize(in, 1<<16)

	names := spec.ColumnNames
	if spec.HeaderEnabled() {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if h := strings.TrimRight(line, "\r\n"); h != "" {
			names = strings.Split(h, spec.OutputDelimiter)
		}
	}
	bkIdx := indexOf(names, spec.BusinessKeyName)
	cpIdx := indexOf(names, spec.Hierarchy.Counterparty)
	if bkIdx < 0 {
		return 0, model.Errorf(model.KindConfiguration, model.CodeInvalidConfiguration, stage, filepath.Base(f.Path),
			"business key %q not in header", spec.BusinessKeyName)
	}

	var rowNo int64
	b := newBatch(l.opts.BatchSize)
	flush := func() error {
		if b.rows == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return model.NewError(model.KindCancelled, "", stage, filepath.Base(f.Path), err)
		}
		sum, err := l.commit(ctx, sess, b.stmts)
		if err != nil {
			return model.NewError(model.KindLoad, model.CodeBatchFailed, stage,
				fmt.Sprintf("%s rows %d-%d", filepath.Base(f.Path), b.firstRow, b.firstRow+b.rows-1), err)
		}
		res.RowsLoaded += b.rows
		res.NodesCreated += sum.NodesCreated
		res.RelationshipsCreated += sum.RelationshipsCreated
		res.BatchesCommitted++
		b = newBatch(l.opts.BatchSize)
		return nil
	}

	for {
		line, rerr := r.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return rowNo, rerr
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			rowNo++
			fields := strings.Split(line, spec.OutputDelimiter)
			if len(fields) != len(names) {
				// the rest of the file is not trusted once a row is malformed
				return rowNo + countRemaining(r), model.Errorf(model.KindLoad, model.CodeMalformedRow, stage,
					fmt.Sprintf("%s row %d", filepath.Base(f.Path), rowNo), "%d fields, want %d", len(fields), len(names))
			}
			bk := strings.TrimSpace(fields[bkIdx])
			if bk == "" {
				return rowNo + countRemaining(r), model.Errorf(model.KindLoad, model.CodeMalformedRow, stage,
					fmt.Sprintf("%s row %d", filepath.Base(f.Path), rowNo), "empty %s", spec.BusinessKeyName)
			}
			if b.rows == 0 {
				b.firstRow = rowNo
			}
			b.add(run, names, fields, bk, cpIdx)
			if int(b.rows) >= l.opts.BatchSize {
				if err := flush(); err != nil {
					return rowNo + countRemaining(r), err
				}
			}
		}
		if rerr != nil {
			break
		}
	}
	return rowNo, flush()
}

func (l *Loader) commit(ctx context.Context, sess graph.Session, stmts []graph.Statement) (graph.WriteSummary, error) {
	var sum graph.WriteSummary
	_, err := withRetry(ctx, l.opts.Retry, graph.IsTransient, func() error {
		bctx, cancel := context.WithTimeout(ctx, l.opts.BatchTimeout)
		defer cancel()
		s, err := sess.ExecuteWrite(bctx, stmts)
		if err != nil {
			if errors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("batch timed out after %s: %w", l.opts.BatchTimeout, err)
			}
			return err
		}
		sum = s
		return nil
	})
	return sum, err
}

func newBatch(size int) *batch {
	return &batch{stmts: make([]graph.Statement, 0, size*2+8), parents: make(map[string]bool)}
}

func (b *batch) add(run Run, names, fields []string, bk string, cpIdx int) {
	props := make(map[string]string, len(names))
	for i, n := range names {
		props[n] = fields[i]
	}
	txKey := TransactionKey(run.DomainName, run.CobDate, bk)
	var parentKey string
	if cpIdx >= 0 {
		if cp := strings.TrimSpace(fields[cpIdx]); cp != "" {
			parentKey = SummaryKey(cp, run.CobDate)
			if !b.parents[parentKey] {
				b.parents[parentKey] = true
				// parents first so the edge below always has both endpoints
				b.stmts = append([]graph.Statement{graph.MergeNode{
					Node: graph.Node{Label: graph.LabelSummaryCounterparty, Key: parentKey, CobDate: run.CobDate},
					Mode: graph.CreateOnly,
				}}, b.stmts...)
			}
		}
	}
	b.stmts = append(b.stmts, graph.MergeNode{
		Node: graph.Node{Label: graph.LabelTransaction, Key: txKey, Scope: run.DomainName, CobDate: run.CobDate, Props: props},
		Mode: graph.Replace,
	})
	if parentKey != "" {
		b.stmts = append(b.stmts, graph.MergeRelationship{Rel: graph.Relationship{
			Type: graph.RelTransactions, FromLabel: graph.LabelTransaction, FromKey: txKey,
			ToLabel: graph.LabelSummaryCounterparty, ToKey: parentKey, CobDate: run.CobDate,
		}})
	}
	b.rows++
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return i
		}
	}
	return -1
}

func countRemaining(r *bufio.Reader) int64 {
	var n int64
	for {
		line, err := r.ReadString('\n')
		if strings.TrimRight(line, "\r\n") != "" {
			n++
		}
		if err != nil {
			return n
		}
	}
}
