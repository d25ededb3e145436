package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nem_dashboard/internal/config"
	"nem_dashboard/internal/dashboard"
	"nem_dashboard/internal/flow"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/repair"
	"nem_dashboard/internal/source"
	"nem_dashboard/internal/ws"
)

func TestRepairOptions(t *testing.T) {
	got := repairOptions(config.RepairConfig{
		FlatRunMin: 5, FlatRunMax: 12, Decay: 0.9, Horizon: 6,
		FillLimit: 6, AlignLimit: 24, AlignDecay: 0.98,
	})
	assert.Equal(t, repair.DefaultOptions(), got)
}

func TestOpenSource(t *testing.T) {
	t.Run("csv directory", func(t *testing.T) {
		cfg := &config.Config{DataDir: t.TempDir(), Source: config.SourceConfig{Kind: "csv"}}
		src, closer, err := openSource(context.Background(), cfg)
		require.NoError(t, err)
		defer closer.Close()
		assert.IsType(t, &source.Dir{}, src)
	})

	t.Run("sqlite migrates", func(t *testing.T) {
		cfg := &config.Config{
			Source: config.SourceConfig{Kind: "sql"},
			SQL:    config.SQLConfig{Driver: "sqlite", DSN: ":memory:"},
		}
		src, closer, err := openSource(context.Background(), cfg)
		require.NoError(t, err)
		defer closer.Close()

		units, err := src.Units(context.Background())
		require.NoError(t, err)
		assert.Empty(t, units)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := &config.Config{
			Source: config.SourceConfig{Kind: "sql"},
			SQL:    config.SQLConfig{Driver: "oracle", DSN: "x"},
		}
		_, _, err := openSource(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestLoadFlowTable(t *testing.T) {
	dir := t.TempDir()

	table, err := loadFlowTable(&config.Config{DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, flow.DefaultTable(), table)

	path := filepath.Join(dir, "interconnectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("regions:\n  SA1:\n    V-SA: import\n"), 0o644))
	table, err = loadFlowTable(&config.Config{DataDir: dir, Files: config.FilesConfig{Interconnectors: "interconnectors.yaml"}})
	require.NoError(t, err)
	assert.Equal(t, flow.PositiveImports, table[model.RegionSA]["V-SA"])

	_, err = loadFlowTable(&config.Config{DataDir: dir, Files: config.FilesConfig{Interconnectors: "missing.yaml"}})
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	frontend := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(frontend, "index.html"), []byte("<html>nem</html>"), 0o644))

	m := metrics.NewCollector("test", nil)
	hub := ws.NewHub(nil, m)
	session := dashboard.New(source.NewDir(t.TempDir()), ws.NewBridge(hub), dashboard.Options{Metrics: m})

	server := httptest.NewServer(newRouter(session, hub, frontend, nil, m))
	defer server.Close()

	for path, want := range map[string]int{
		"/health":      http.StatusOK,
		"/metrics":     http.StatusOK,
		"/api/gauge":   http.StatusOK,
		"/api/nothing": http.StatusNotFound,
		"/":            http.StatusOK,
	} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err, path)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
		if path == "/" {
			assert.Contains(t, string(body), "nem")
		}
	}
}
