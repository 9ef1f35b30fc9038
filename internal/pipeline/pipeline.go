// Package pipeline drives one import run per close-of-business date through
// fetch, projection, partitioning, loading and aggregation.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"go-graph-import/internal/aggregate"
	"go-graph-import/internal/connector"
	"go-graph-import/internal/graph"
	"go-graph-import/internal/loader"
	"go-graph-import/internal/model"
	"go-graph-import/internal/partition"
	"go-graph-import/internal/projector"
	"go-graph-import/internal/workflow"
	"go-graph-import/pkg/utils"
)

// Resolver maps a domain to its source and column layout
type Resolver interface {
	Resolve(domainType, domainName string) (model.SourceConfig, model.ColumnSpec, error)
}

// Connectors builds a connector for a kind; *connector.Registry satisfies it
type Connectors interface {
	Build(kind string, params map[string]string) (connector.Connector, error)
}

// Options are the resource limits of a pipeline
type Options struct {
	StagingRoot  string
	LoadWorkers  int
	BatchSize    int
	BatchTimeout time.Duration
	FetchTimeout time.Duration
	HandlePool   int
	Retry        loader.RetryConfig
	// KeepStaging leaves the working tree of successful runs on disk.
	KeepStaging bool
}

// RunOptions alter a single request
type RunOptions struct {
	// SkipFetch reads the rendered source path in place instead of fetching it.
	SkipFetch bool `json:"skip_fetch"`
}

// Pipeline runs imports. It is safe for concurrent use by several requests.
type Pipeline struct {
	resolver   Resolver
	connectors Connectors
	graph      graph.Store
	status     workflow.Publisher
	staging    *utils.StagingManager
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

func New(resolver Resolver, connectors Connectors, g graph.Store, status workflow.Publisher, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if opts.StagingRoot == "" {
		opts.StagingRoot = "staging"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = connector.DefaultTimeout
	}
	return &Pipeline{
		resolver:   resolver,
		connectors: connectors,
		graph:      g,
		status:     status,
		staging:    utils.NewStagingManager(opts.StagingRoot),
		opts:       opts,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// run carries the per-date collaborators
type run struct {
	req     model.ImportRequest
	machine *workflow.Machine
	tracker *StageTracker
	log     *slog.Logger
	stage   string
}

func (r *run) warn(ctx context.Context) func(error) {
	return func(err error) {
		r.tracker.Warned(r.stage)
		r.machine.Warn(ctx, model.WithStage(err, r.stage))
	}
}

// fail records err on the run and returns the final state.
func (r *run) fail(ctx context.Context, err error) (model.WorkflowState, error) {
	err = model.WithStage(err, r.stage)
	if _, ok := model.AsError(err); !ok {
		err = model.NewError(model.KindLoad, "", r.stage, "", err)
	}
	if ferr := r.machine.Fail(ctx, err); ferr != nil {
		r.log.Error("could not record failure", "error", ferr)
	}
	return r.machine.State(), err
}

func (r *run) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.NewError(model.KindCancelled, "", r.stage, r.req.CobDate, err)
	}
	return nil
}

// advance moves the run forward and opens the tracker stage.
func (r *run) advance(ctx context.Context, to model.Status, stage string, workers int, metrics map[string]interface{}) error {
	if err := r.cancelled(ctx); err != nil {
		return err
	}
	r.stage = stage
	if err := r.machine.Advance(ctx, to, metrics); err != nil {
		return err
	}
	r.tracker.StartStage(ctx, stage, workers)
	return nil
}

// Run executes one date. The returned error is the fatal error, if the run failed.
func (p *Pipeline) Run(ctx context.Context, req model.ImportRequest, parentID string, ro RunOptions) (model.WorkflowState, error) {
	return p.run(ctx, req, parentID, ro, p.status)
}

func (p *Pipeline) run(ctx context.Context, req model.ImportRequest, parentID string, ro RunOptions, pub workflow.Publisher) (model.WorkflowState, error) {
	opts := []workflow.Option{workflow.WithLogger(p.log), workflow.WithClock(p.now)}
	if parentID != "" {
		opts = append(opts, workflow.WithParent(parentID))
	}
	m := workflow.New(ctx, model.KindRun, req.DomainType, req.DomainName, []string{req.CobDate}, pub, opts...)
	log := p.log.With("workflow_id", m.ID(), "cob_date", req.CobDate)
	r := &run{req: req, machine: m, tracker: NewStageTracker(m, log, p.now), log: log}
	start := p.now()

	// validate
	if err := r.advance(ctx, model.StatusValidating, StageValidate, 1, nil); err != nil {
		return r.fail(ctx, err)
	}
	src, spec, err := p.resolver.Resolve(req.DomainType, req.DomainName)
	if err != nil {
		r.tracker.EndStage(ctx, StageValidate, 0, err)
		return r.fail(ctx, err)
	}
	var conn connector.Connector
	if !ro.SkipFetch {
		if conn, err = p.connectors.Build(src.ConnectorKind, src.ConnectorParams); err != nil {
			r.tracker.EndStage(ctx, StageValidate, 0, err)
			return r.fail(ctx, err)
		}
	}
	dirs, err := p.staging.CreateRunDirs(req.DomainName, req.CobDate, m.ID())
	if err != nil {
		err = model.NewError(model.KindConfiguration, model.CodeInvalidConfiguration, StageValidate, p.opts.StagingRoot, err)
		r.tracker.EndStage(ctx, StageValidate, 0, err)
		return r.fail(ctx, err)
	}
	r.tracker.EndStage(ctx, StageValidate, 0, nil)
	sourcePath := src.SourcePath(req.CobDate)

	// fetch
	rawPath := sourcePath
	projectMetrics := map[string]interface{}{"source_path": sourcePath}
	if ro.SkipFetch {
		projectMetrics["fetch_skipped"] = true
		log.Info("fetch skipped, reading source in place", "file", sourcePath)
	} else {
		if err := r.advance(ctx, model.StatusFetching, StageFetch, 1, map[string]interface{}{"connector": src.ConnectorKind}); err != nil {
			return r.fail(ctx, err)
		}
		rawPath = utils.FilePath(dirs.Raw, rawName(sourcePath))
		fctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
		fr, err := conn.Fetch(fctx, sourcePath, rawPath)
		cancel()
		r.tracker.EndStage(ctx, StageFetch, fr.BytesTransferred, err)
		if err != nil {
			return r.fail(ctx, err)
		}
		projectMetrics["bytes_transferred"] = fr.BytesTransferred
	}

	// project
	if err := r.advance(ctx, model.StatusProjecting, StageProject, 1, projectMetrics); err != nil {
		return r.fail(ctx, err)
	}
	projectedPath := filepath.Join(dirs.Projected, "projected.csv")
	pr, err := projector.New(log).Project(ctx, rawPath, projectedPath, spec, r.warn(ctx))
	r.tracker.EndStage(ctx, StageProject, pr.RowsRead, err)
	if err != nil {
		return r.fail(ctx, err)
	}

	// partition
	if err := r.advance(ctx, model.StatusPartitioning, StagePartition, 1, map[string]interface{}{
		"rows_read": pr.RowsRead, "rows_written": pr.RowsWritten, "rows_skipped": pr.RowsSkipped,
	}); err != nil {
		return r.fail(ctx, err)
	}
	part, err := partition.New(log, p.opts.HandlePool).Split(ctx, pr.OutputPath, dirs.Partitions, spec, r.warn(ctx))
	r.tracker.EndStage(ctx, StagePartition, part.RowsRead, err)
	if err != nil {
		return r.fail(ctx, err)
	}
	if part.RowsUnassigned > 0 {
		r.warn(ctx)(model.Errorf(model.KindDataQuality, model.CodeUnassignedRows, StagePartition, part.UnassignedPath,
			"%d rows have no %s and are not loaded", part.RowsUnassigned, spec.WithDefaults().PartitionKeyName))
	}

	// load
	files := make([]model.PartitionFile, 0, len(part.Partitions))
	for _, k := range sortedPartitionKeys(part.Partitions) {
		files = append(files, part.Partitions[k])
	}
	workers := p.opts.LoadWorkers
	if workers <= 0 {
		workers = loader.DefaultWorkers
	}
	if err := r.advance(ctx, model.StatusLoading, StageLoad, workers, map[string]interface{}{
		"partitions": len(files), "rows_unassigned": part.RowsUnassigned, "rows_malformed": part.RowsSkipped,
	}); err != nil {
		return r.fail(ctx, err)
	}
	ld := loader.New(p.graph, loader.Options{
		Workers: workers, BatchSize: p.opts.BatchSize, BatchTimeout: p.opts.BatchTimeout, Retry: p.opts.Retry,
	}, log)
	lr := ld.Load(ctx, loader.Run{WorkflowID: m.ID(), DomainName: req.DomainName, CobDate: req.CobDate, Spec: spec}, files)
	loadErr := loadFailure(lr)
	r.tracker.EndStage(ctx, StageLoad, lr.RowsLoaded, loadErr)
	if loadErr != nil {
		// aggregation is skipped; what loaded stays in the store
		m.Annotate(ctx, loadMetrics(lr))
		return r.fail(ctx, loadErr)
	}

	// aggregate
	if err := r.advance(ctx, model.StatusAggregating, StageAggregate, 1, loadMetrics(lr)); err != nil {
		return r.fail(ctx, err)
	}
	ar, err := aggregate.New(p.graph, log).Aggregate(ctx, aggregate.Job{WorkflowID: m.ID(), CobDate: req.CobDate, Spec: spec}, lr, r.warn(ctx))
	r.tracker.EndStage(ctx, StageAggregate, ar.TransactionsScanned, err)
	if err != nil {
		return r.fail(ctx, err)
	}

	if err := m.Complete(ctx, map[string]interface{}{
		"transactions_aggregated": ar.TransactionsScanned,
		"summary_nodes":           ar.SummaryNodes,
		"unparsable_values":       ar.UnparsableValues,
		"blank_account_groups":    ar.BlankAccountGroups,
		"blank_netting_ids":       ar.BlankNettingIDs,
		"duration_ms":             p.now().Sub(start).Milliseconds(),
	}); err != nil {
		return r.fail(ctx, err)
	}
	if !p.opts.KeepStaging {
		if err := p.staging.RemoveRun(dirs); err != nil {
			log.Warn("staging cleanup failed", "error", err)
		}
	}
	log.Info("run completed", "rows_loaded", lr.RowsLoaded, "files", lr.FilesLoaded)
	return m.State(), nil
}

func rawName(sourcePath string) string {
	base := filepath.Base(filepath.FromSlash(sourcePath))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "source.dat"
	}
	return base
}

func sortedPartitionKeys(m map[string]model.PartitionFile) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func loadMetrics(lr model.LoadResult) map[string]interface{} {
	failed := make([]string, 0, len(lr.FailedFiles))
	for _, f := range lr.FailedFiles {
		failed = append(failed, filepath.Base(f.File))
	}
	return map[string]interface{}{
		"files_loaded":          lr.FilesLoaded,
		"files_failed":          failed,
		"rows_loaded":           lr.RowsLoaded,
		"rows_failed":           lr.RowsFailed,
		"nodes_created":         lr.NodesCreated,
		"relationships_created": lr.RelationshipsCreated,
	}
}

// loadFailure summarizes a failed load as one classified error. The kind of
// the first failed file decides retryability.
func loadFailure(lr model.LoadResult) error {
	if lr.Success && lr.Complete {
		return nil
	}
	if !lr.Complete {
		return model.Errorf(model.KindLoad, model.CodeBarrierNotSatisfied, StageLoad, "", "loader returned before all workers finished")
	}
	var first model.FileLoadResult
	for _, f := range lr.Files {
		if !f.Success && (first.File == "" || f.File < first.File) {
			first = f
		}
	}
	kind := model.KindOf(first.Err)
	if kind != model.KindCancelled {
		kind = model.KindLoad
	}
	return model.Errorf(kind, model.CodeBatchFailed, StageLoad, filepath.Base(first.File),
		"%d of %d partition files failed, first: %s", len(lr.FailedFiles), len(lr.Files), first.Error)
}
