package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nem_dashboard/internal/source"
)

func writeSnapshot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		source.UnitsFile: `DUID,Site Name,Owner,Fuel,Region,Capacity(MW)
BW01,Bayswater,AGL Energy,Coal,NSW1,685
`,
		source.GenerationFile: `SETTLEMENTDATE,DUID,SCADAVALUE
2025-03-01 10:00:00,BW01,600
2025-03-01 10:05:00,BW01,610
`,
		source.PricesFile: `SETTLEMENTDATE,REGIONID,RRP
2025-03-01 10:00:00,NSW1,80
2025-03-01 10:05:00,NSW1,85
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestImportSnapshot(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nem.db")

	got, err := importSnapshot(context.Background(), writeSnapshot(t), "sqlite", dsn, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, got.units)
	assert.Equal(t, 2, got.generation)
	assert.Equal(t, 2, got.prices)
	assert.ElementsMatch(t, []string{"transmission", "rooftop"}, got.missing)
	assert.Contains(t, got.String(), "2 generation")

	db, err := source.OpenSQL("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	gen, err := db.Generation(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, gen, 2)
}

func TestImportSnapshot_MissingDir(t *testing.T) {
	_, err := importSnapshot(context.Background(), filepath.Join(t.TempDir(), "absent"), "sqlite", ":memory:", time.Time{})
	assert.Error(t, err)
}

func TestResolveFlag(t *testing.T) {
	t.Setenv("NEM_TEST_VALUE", "from-env")
	assert.Equal(t, "flag", resolveFlag("flag", "NEM_TEST_VALUE", "fallback"))
	assert.Equal(t, "from-env", resolveFlag("", "NEM_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", resolveFlag("", "NEM_TEST_UNSET", "fallback"))
}
