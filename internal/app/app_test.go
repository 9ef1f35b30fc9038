package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-graph-import/internal/config"
	"go-graph-import/internal/graph"
	"go-graph-import/internal/model"
	"go-graph-import/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const domainYAML = `domains:
  - domain_type: risk
    domain_name: rates
    source:
      connector: local
      path_template: %s/{cob_date}.dat
    columns:
      input_delimiter: "|"
      column_indices: [1, 2, 3, 4, 5]
      column_names: [transaction_id, gfcid, cagid, netting_id, amount]
      numeric_fields: [amount]
`

func settings(t *testing.T) config.Settings {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	cfg := filepath.Join(dir, "import.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(domainYAML, src)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "20240131.dat"), []byte("T1|G1|AG1|N1|1.5\nT2|G2|AG1|N2|2\n"), 0644))
	return config.Settings{
		ConfigPath:   cfg,
		StagingRoot:  filepath.Join(dir, "staging"),
		StatusDB:     filepath.Join(dir, "status.db"),
		GraphDriver:  "sqlite3",
		GraphDSN:     filepath.Join(dir, "graph.db"),
		LoadWorkers:  2,
		BatchSize:    10,
		FetchTimeout: time.Minute,
		BatchTimeout: 30 * time.Second,
		HandlePool:   8,
		RetryMax:     1,
	}
}

func TestBuild_RunsImportEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, settings(t), nil)
	require.NoError(t, err)
	defer a.Close()

	st, err := a.Pipeline.RunBatch(ctx, model.ImportBatch{DomainType: "risk", DomainName: "rates", CobDates: []string{"20240131"}}, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, st.Status)

	saved, err := a.States.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, saved.Status)

	n, err := a.Graph.CountNodes(ctx, graph.NodeFilter{Label: graph.LabelTransaction, CobDate: "20240131"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, a.Config.DomainRefs(), 1)
}

func TestBuild_BadConfig(t *testing.T) {
	s := settings(t)
	s.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), s, nil)
	require.Error(t, err)
	assert.Equal(t, model.CodeConfigurationNotFound, model.CodeOf(err))
}
