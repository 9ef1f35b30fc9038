package connector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go-graph-import/internal/model"
)

// closeGrace is how long an interrupted fetch waits for its copy to clean up
const closeGrace = 2 * time.Second

// Local copies files reachable through the filesystem, network mounts included
type Local struct {
	Root    string
	Timeout time.Duration
}

// NewLocal accepts an optional "root" that relative sources are resolved
// against, and an optional "timeout" bounding each fetch.
func NewLocal(params map[string]string) (Connector, error) {
	timeout, err := timeoutParam(params)
	if err != nil {
		return nil, model.NewError(model.KindConfiguration, model.CodeInvalidConfiguration, stage, "local", err)
	}
	return &Local{Root: params["root"], Timeout: timeout}, nil
}

func (l *Local) resolve(source string) string {
	if l.Root == "" || filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(l.Root, source)
}

// Fetch gives up when ctx is done even if the filesystem never answers: a hung
// mount or a FIFO without a writer blocks open and read indefinitely.
func (l *Local) Fetch(ctx context.Context, source, dest string) (model.FetchResult, error) {
	src := l.resolve(source)
	if err := ctx.Err(); err != nil {
		return model.FetchResult{Error: err.Error()}, model.NewError(model.KindCancelled, "", stage, src, err)
	}
	started := time.Now()
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	in, err := openContext(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return model.FetchResult{Error: err.Error()}, interrupted(ctx, src, started, ctx.Err())
		}
		return model.FetchResult{Error: err.Error()}, classifyOpen(src, err)
	}
	fi, err := in.Stat()
	if err != nil {
		in.Close()
		return model.FetchResult{Error: err.Error()}, classifyOpen(src, err)
	}
	if fi.IsDir() {
		in.Close()
		err := errors.New("source is a directory")
		return model.FetchResult{Error: err.Error()}, fetchError(model.CodeNotFound, src, err)
	}

	type copied struct {
		n   int64
		err error
	}
	done := make(chan copied, 1)
	go func() {
		n, err := writeAtomically(ctx, dest, in)
		done <- copied{n, err}
	}()
	var res copied
	select {
	case res = <-done:
		in.Close()
	case <-ctx.Done():
		// closing unblocks reads on pollable files; the copy then sees ctx and discards its temp file
		in.Close()
		select {
		case <-done:
		case <-time.After(closeGrace):
		}
		return model.FetchResult{Error: ctx.Err().Error()}, interrupted(ctx, src, started, ctx.Err())
	}
	if res.err != nil {
		if ctx.Err() != nil {
			return model.FetchResult{BytesTransferred: res.n, Error: res.err.Error()}, interrupted(ctx, src, started, ctx.Err())
		}
		return model.FetchResult{BytesTransferred: res.n, Error: res.err.Error()}, fetchError(model.CodeTransferError, src, res.err)
	}
	if fi.Mode().IsRegular() && res.n != fi.Size() {
		err := errors.New("size changed during copy")
		return model.FetchResult{BytesTransferred: res.n, Error: err.Error()}, fetchError(model.CodeTransferError, src, err)
	}
	return model.FetchResult{Success: true, LocalPath: dest, BytesTransferred: res.n}, nil
}

// openContext opens path in the background so a stuck open cannot outlive ctx.
// A file that opens after ctx is done is closed.
func openContext(ctx context.Context, path string) (*os.File, error) {
	type opened struct {
		f   *os.File
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		f, err := os.Open(path)
		ch <- opened{f, err}
	}()
	select {
	case o := <-ch:
		return o.f, o.err
	case <-ctx.Done():
		go func() {
			if o := <-ch; o.f != nil {
				o.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (l *Local) TestConnection(ctx context.Context) bool {
	if l.Root == "" {
		return true
	}
	fi, err := os.Stat(l.Root)
	return err == nil && fi.IsDir()
}

func classifyOpen(src string, err error) *model.Error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fetchError(model.CodeNotFound, src, err)
	case errors.Is(err, os.ErrPermission):
		return fetchError(model.CodePermissionDenied, src, err)
	}
	return fetchError(model.CodeTransferError, src, err)
}
