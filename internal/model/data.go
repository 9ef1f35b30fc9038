package model

import "time"

// FetchResult represents the outcome of a connector fetch
type FetchResult struct {
	Success          bool   `json:"success"`
	LocalPath        string `json:"local_path,omitempty"`
	BytesTransferred int64  `json:"bytes_transferred"`
	Error            string `json:"error,omitempty"`
}

// ProjectionResult represents the outcome of column projection
type ProjectionResult struct {
	Success     bool   `json:"success"`
	OutputPath  string `json:"output_path,omitempty"`
	RowsRead    int64  `json:"rows_read"`
	RowsWritten int64  `json:"rows_written"`
	RowsSkipped int64  `json:"rows_skipped"`
}

// PartitionFile is one per-key output of the splitter
type PartitionFile struct {
	Key      string `json:"key"`
	Path     string `json:"path"`
	RowCount int64  `json:"row_count"`
}

// UnassignedPartition is the reserved bucket for rows with an empty partition key
const UnassignedPartition = "UNASSIGNED"

// PartitionResult represents the outcome of partitioning
type PartitionResult struct {
	Success        bool                     `json:"success"`
	Partitions     map[string]PartitionFile `json:"partitions"`
	RowsRead       int64                    `json:"rows_read"`
	RowsUnassigned int64                    `json:"rows_unassigned"`
	RowsSkipped    int64                    `json:"rows_skipped"`
	UnassignedPath string                   `json:"unassigned_path,omitempty"`
}

// PartitionedRows is the sum of rows routed to keyed partitions.
func (r PartitionResult) PartitionedRows() int64 {
	var n int64
	for _, p := range r.Partitions {
		n += p.RowCount
	}
	return n
}

// FileLoadResult is the loader outcome for one partition file
type FileLoadResult struct {
	File                 string `json:"file"`
	PartitionKey         string `json:"partition_key"`
	Success              bool   `json:"success"`
	RowsLoaded           int64  `json:"rows_loaded"`
	RowsFailed           int64  `json:"rows_failed"`
	NodesCreated         int64  `json:"nodes_created"`
	RelationshipsCreated int64  `json:"relationships_created"`
	BatchesCommitted     int    `json:"batches_committed"`
	Error                string `json:"error,omitempty"`
	Err                  error  `json:"-"`
}

// FailedFile names a partition file that did not fully load
type FailedFile struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// LoadResult aggregates file results for a run.
// Complete is set only after every loader worker has returned.
type LoadResult struct {
	Success              bool             `json:"success"`
	Complete             bool             `json:"complete"`
	FilesLoaded          int              `json:"files_loaded"`
	RowsLoaded           int64            `json:"rows_loaded"`
	RowsFailed           int64            `json:"rows_failed"`
	NodesCreated         int64            `json:"nodes_created"`
	RelationshipsCreated int64            `json:"relationships_created"`
	FailedFiles          []FailedFile     `json:"failed_files,omitempty"`
	Files                []FileLoadResult `json:"files,omitempty"`
	Duration             time.Duration    `json:"duration"`
}

// AggregationResult reports what the aggregation engine wrote
type AggregationResult struct {
	CobDate              string         `json:"cob_date"`
	TransactionsScanned  int64          `json:"transactions_scanned"`
	SummaryNodes         map[string]int `json:"summary_nodes"` // label -> count
	NodesCreated         int64          `json:"nodes_created"`
	RelationshipsCreated int64          `json:"relationships_created"`
	UnparsableValues     int64          `json:"unparsable_values"`
	BlankAccountGroups   int64          `json:"blank_account_groups"`
	BlankNettingIDs      int64          `json:"blank_netting_ids"`
	NodesDeleted         int64          `json:"nodes_deleted"`
}
