// Package partition splits a projected file into one file per distinct
// partition key value.
package partition

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go-graph-import/internal/model"
	"go-graph-import/pkg/utils"
)

const (
	stage = "partition"

	// DefaultPoolSize bounds concurrently open partition files
	DefaultPoolSize = 64

	// unassignedFile never collides with a sanitized key: '@' is always replaced.
	unassignedFile = "@" + model.UnassignedPartition + ".csv"
)

// FileName is the deterministic partition file name for a key value.
func FileName(key string) string {
	if key == "" {
		return unassignedFile
	}
	return utils.SanitizeKey(key) + ".csv"
}

// Splitter streams rows into per-key files through a bounded handle pool
type Splitter struct {
	log      *slog.Logger
	PoolSize int
	// MaxWarnings caps how many per-row warnings are reported; the rest are only counted.
	MaxWarnings int
}

func New(log *slog.Logger, poolSize int) *Splitter {
	if log == nil {
		log = slog.Default()
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Splitter{log: log, PoolSize: poolSize, MaxWarnings: 20}
}

// Split reads input and publishes the partition set at outDir. The set is
// built in a sibling temp directory and renamed into place when complete.
func (s *Splitter) Split(ctx context.Context, input, outDir string, spec model.ColumnSpec, warn func(error)) (model.PartitionResult, error) {
	spec = spec.WithDefaults()
	res := model.PartitionResult{Partitions: make(map[string]model.PartitionFile)}

	in, err := os.Open(input)
	if err != nil {
		return res, fmt.Errorf("open projected file: %w", err)
	}
	defer in.Close()
	r := bufio.NewReaderSize(in, 1<<16)

	header := spec.ColumnNames
	headerLine := strings.Join(spec.ColumnNames, spec.OutputDelimiter)
	if spec.HeaderEnabled() {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return res, fmt.Errorf("read header: %w", err)
		}
		headerLine = strings.TrimRight(line, "\r\n")
		header = strings.Split(headerLine, spec.OutputDelimiter)
	}
	keyIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), spec.PartitionKeyName) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return res, model.Errorf(model.KindConfiguration, model.CodeInvalidConfiguration, stage, input,
			"partition key %q not in header %q", spec.PartitionKeyName, headerLine)
	}
	width := len(header)

	if err := os.MkdirAll(filepath.Dir(outDir), 0755); err != nil {
		return res, err
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(outDir), "."+filepath.Base(outDir)+"-*")
	if err != nil {
		return res, fmt.Errorf("create partition temp dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(tmpDir)
		}
	}()

	pool := newHandlePool(s.PoolSize)
	defer pool.closeAll()

	// Names are claimed case-insensitively so "ABC" and "abc" stay apart on
	// case-insensitive filesystems; the later key gets a hashed name.
	files := make(map[string]string)   // key -> file name
	claimed := make(map[string]string) // lower-cased file name -> key
	counts := make(map[string]int64)
	write := func(key, line string) error {
		name, ok := files[key]
		if !ok {
			name = FileName(key)
			if other, taken := claimed[strings.ToLower(name)]; taken && other != key {
				name = utils.HashedKey(key) + ".csv"
				if other, taken := claimed[strings.ToLower(name)]; taken {
					return fmt.Errorf("partition file name %s shared by %q and %q", name, other, key)
				}
			}
			claimed[strings.ToLower(name)] = key
			files[key] = name
		}
		path := filepath.Join(tmpDir, name)
		w, err := pool.get(key, path)
		if err != nil {
			return err
		}
		if _, seen := counts[key]; !seen && spec.HeaderEnabled() {
			if _, err := w.WriteString(headerLine + "\n"); err != nil {
				return err
			}
		}
		counts[key]++
		_, err = w.WriteString(line + "\n")
		return err
	}

	var lineNo int64
	for {
		line, rerr := r.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return res, fmt.Errorf("read projected file: %w", rerr)
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			lineNo++
			if lineNo%10000 == 0 {
				if err := ctx.Err(); err != nil {
					return res, model.NewError(model.KindCancelled, "", stage, input, err)
				}
			}
			res.RowsRead++
			fields := strings.Split(line, spec.OutputDelimiter)
			switch {
			case len(fields) != width:
				res.RowsSkipped++
				if warn != nil && int(res.RowsSkipped) <= s.MaxWarnings {
					warn(model.Errorf(model.KindDataQuality, model.CodeMalformedRow, stage,
						fmt.Sprintf("%s row %d", filepath.Base(input), lineNo), "%d fields, want %d", len(fields), width))
				}
			default:
				key := strings.TrimSpace(fields[keyIdx])
				if err := write(key, line); err != nil {
					return res, fmt.Errorf("write partition: %w", err)
				}
			}
		}
		if rerr != nil {
			break
		}
	}

	if err := pool.closeAll(); err != nil {
		return res, err
	}
	if _, err := os.Stat(outDir); err == nil {
		if err := os.RemoveAll(outDir); err != nil {
			return res, fmt.Errorf("replace partition dir: %w", err)
		}
	}
	if err := os.Rename(tmpDir, outDir); err != nil {
		return res, fmt.Errorf("publish partitions: %w", err)
	}
	published = true

	for key, n := range counts {
		path := filepath.Join(outDir, files[key])
		if key == "" {
			res.RowsUnassigned = n
			res.UnassignedPath = path
			continue
		}
		res.Partitions[key] = model.PartitionFile{Key: key, Path: path, RowCount: n}
	}
	res.Success = true
	s.log.Info("partitioning complete", "stage", stage, "file", input,
		"partitions", len(res.Partitions), "rows_read", res.RowsRead,
		"rows_unassigned", res.RowsUnassigned, "rows_skipped", res.RowsSkipped,
		"handle_opens", pool.opens, "handle_evictions", pool.evictions)
	return res, nil
}
