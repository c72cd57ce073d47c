package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReload(t *testing.T, w *Watcher) error {
	t.Helper()
	select {
	case err := <-w.Reloaded():
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for catalog reload")
		return nil
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)
	c, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, c, 20*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeCatalog(t, dir, "prices:\n  - {id: price_only, charge_type: one_time, currency: USD, flat_amount: 5}\n")
	require.NoError(t, waitReload(t, w))

	assert.Equal(t, []string{"price_only"}, c.IDs())
}

func TestWatcher_KeepsPricesOnBadWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)
	c, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, c, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeCatalog(t, dir, "prices: [\n")
	assert.ErrorIs(t, waitReload(t, w), ErrInvalidCatalog)
	assert.Equal(t, 3, c.Len())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)
	c, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, c, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	select {
	case err := <-w.Reloaded():
		t.Fatalf("unexpected reload: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 3, c.Len())
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher("prices.yaml", nil, 0, nil)
	assert.Error(t, err)

	w, err := NewWatcher("prices.yaml", New(nil), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultWatchDebounce, w.debounce)
	assert.True(t, filepath.IsAbs(w.path))

	// stopping an unstarted watcher is a no-op
	w.Stop()
	w.Stop()
}

func TestWatcher_StartMissingDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "prices.yaml"), New(nil), 0, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}
