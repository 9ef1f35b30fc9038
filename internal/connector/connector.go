// Package connector fetches a named source object to a local path.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go-graph-import/internal/model"
	"go-graph-import/pkg/utils"
)

const stage = "fetch"

// DefaultTimeout bounds a single fetch
const DefaultTimeout = 300 * time.Second

// Connector moves one source object to a local destination
type Connector interface {
	// Fetch copies source to dest. dest is replaced atomically on success.
	Fetch(ctx context.Context, source, dest string) (model.FetchResult, error)
	// TestConnection reports whether the source system is reachable with the configured credentials.
	TestConnection(ctx context.Context) bool
}

// Factory builds a connector from flattened connector params
type Factory func(params map[string]string) (Connector, error)

// Registry maps connector kinds to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("local", NewLocal)
	r.Register("linux", NewLocal)
	r.Register("scp", NewSCP)
	r.Register("sftp", NewSCP)
	r.Register("s3", NewS3)
	return r
}

func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs a connector. Unknown kinds fail before any I/O.
func (r *Registry) Build(kind string, params map[string]string) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, model.Errorf(model.KindConfiguration, model.CodeUnknownConnector, stage, kind,
			"unknown connector kind %q", kind)
	}
	c, err := f(params)
	if err != nil {
		if _, classified := model.AsError(err); classified {
			return nil, err
		}
		return nil, model.NewError(model.KindConfiguration, model.CodeInvalidConfiguration, stage, kind, err)
	}
	return c, nil
}

func fetchError(code, subject string, err error) *model.Error {
	return model.NewError(model.KindConnectivity, code, stage, subject, err)
}

func timeoutParam(params map[string]string) (time.Duration, error) {
	v, ok := params["timeout"]
	if !ok || v == "" {
		return DefaultTimeout, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d := utils.ParseDuration(v, 0)
	if d == 0 {
		return 0, fmt.Errorf("invalid timeout %q", v)
	}
	return d, nil
}

// writeAtomically streams r into a temp file beside dest and renames it into place.
// The copy stops between chunks once ctx is done and dest is left untouched.
func writeAtomically(ctx context.Context, dest string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), dest)
}

// ctxReader fails the next Read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// interrupted maps a done ctx to a retryable Timeout or to Cancelled. The
// reported budget comes from the deadline that actually applied to ctx, which
// may be a caller's tighter limit rather than the connector's own.
func interrupted(ctx context.Context, subject string, started time.Time, err error) *model.Error {
	if err == nil {
		err = ctx.Err()
	}
	if !isTimeout(ctx, err) {
		return model.NewError(model.KindCancelled, "", stage, subject, err)
	}
	budget := time.Since(started)
	if dl, ok := ctx.Deadline(); ok {
		budget = dl.Sub(started)
	}
	return fetchError(model.CodeTimeout, subject, fmt.Errorf("no response within %s: %w", budget.Round(time.Millisecond), err))
}
