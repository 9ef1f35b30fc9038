// Package projector streams a raw delimited extract and keeps only the
// configured columns, in the configured order.
package projector

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

const stage = "project"

// Warning is a non-fatal row problem reported to the caller
type Warning func(err error)

// Projector is stateless apart from its logger
type Projector struct {
	log *slog.Logger
	// MaxWarnings caps how many per-row warnings are reported; the rest are only counted.
	MaxWarnings int
}

func New(log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{log: log, MaxWarnings: 20}
}

// Project reads input and writes the projected rows to output through a temp file.
func (p *Projector) Project(ctx context.Context, input, output string, spec model.ColumnSpec, warn Warning) (model.ProjectionResult, error) {
	spec = spec.WithDefaults()
	res := model.ProjectionResult{OutputPath: output}
	maxIdx := spec.MaxIndex()
	if maxIdx == 0 || len(spec.ColumnIndices) != len(spec.ColumnNames) {
		return res, model.Errorf(model.KindConfiguration, model.CodeInvalidConfiguration, stage, input,
			"%d column indices for %d names", len(spec.ColumnIndices), len(spec.ColumnNames))
	}

	in, err := os.Open(input)
	if err != nil {
		return res, model.NewError(model.KindConnectivity, openCode(err), stage, input, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+".*.tmp")
	if err != nil {
		return res, fmt.Errorf("create projection temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w := bufio.NewWriterSize(tmp, 1<<16)
	if spec.HeaderEnabled() {
		if _, err := w.WriteString(strings.Join(spec.ColumnNames, spec.OutputDelimiter) + "\n"); err != nil {
			return res, err
		}
	}

	r := bufio.NewReaderSize(in, 1<<16)
	out := make([]string, len(spec.ColumnIndices))
	var lineNo int64
	skip := func(code, format string, args ...interface{}) {
		res.RowsSkipped++
		if warn != nil && int(res.RowsSkipped) <= p.MaxWarnings {
			warn(model.Errorf(model.KindDataQuality, code, stage, fmt.Sprintf("%s:%d", filepath.Base(input), lineNo), format, args...))
		}
	}
	for {
		line, rerr := r.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return res, model.NewError(model.KindConnectivity, model.CodeTransferError, stage, input, rerr)
		}
		if len(line) > 0 {
			lineNo++
			if lineNo%10000 == 0 {
				if err := ctx.Err(); err != nil {
					return res, model.NewError(model.KindCancelled, "", stage, input, err)
				}
			}
			skipHeader := lineNo == 1 && spec.InputHasHeader
			if !skipHeader && strings.TrimRight(line, "\r\n") != "" {
				res.RowsRead++
				fields := utils.SplitFields(line, spec.InputDelimiter)
				if len(fields) < maxIdx {
					skip(model.CodeShortRow, "%d fields, need %d", len(fields), maxIdx)
				} else if col := collectColumns(out, fields, spec); col != "" {
					// the value would split into extra fields downstream
					skip(model.CodeMalformedRow, "%s contains the output delimiter %q", col, spec.OutputDelimiter)
				} else {
					if _, err := w.WriteString(strings.Join(out, spec.OutputDelimiter) + "\n"); err != nil {
						return res, fmt.Errorf("write projection: %w", err)
					}
					res.RowsWritten++
				}
			}
		}
		if rerr != nil {
			break
		}
	}

	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("flush projection: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("close projection: %w", err)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return res, fmt.Errorf("publish projection: %w", err)
	}
	res.Success = true
	p.log.Info("projection complete", "stage", stage, "file", output,
		"rows_read", res.RowsRead, "rows_written", res.RowsWritten, "rows_skipped", res.RowsSkipped)
	return res, nil
}

// collectColumns fills out with the selected fields. It returns the name of the
// first column whose value contains the output delimiter, or "".
func collectColumns(out, fields []string, spec model.ColumnSpec) string {
	for i, idx := range spec.ColumnIndices {
		v := fields[idx-1]
		if strings.Contains(v, spec.OutputDelimiter) {
			return spec.ColumnNames[i]
		}
		out[i] = v
	}
	return ""
}

func openCode(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return model.CodeNotFound
	case errors.Is(err, os.ErrPermission):
		return model.CodePermissionDenied
	}
	return model.CodeTransferError
}
