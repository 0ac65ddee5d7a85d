package fallback

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchDeliversInitialTableAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default":["one.jpg"]}`), 0o600))

	var mu sync.Mutex
	var tables []Table
	watcher, err := Watch(context.Background(), path, func(table Table) {
		mu.Lock()
		defer mu.Unlock()
		tables = append(tables, table)
	}, func(err error) {
		t.Logf("watch error: %v", err)
	})
	require.NoError(t, err)
	defer watcher.Stop()

	mu.Lock()
	require.Len(t, tables, 1)
	require.Equal(t, []string{"one.jpg"}, tables[0].Default())
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte(`{"default":["two.jpg"]}`), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(tables) < 2 {
			return false
		}
		latest := tables[len(tables)-1]
		return len(latest.Default()) == 1 && latest.Default()[0] == "two.jpg"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchKeepsLastGoodTableOnBrokenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default":["good.jpg"]}`), 0o600))

	var mu sync.Mutex
	changes := 0
	errors := 0
	watcher, err := Watch(context.Background(), path, func(Table) {
		mu.Lock()
		changes++
		mu.Unlock()
	}, func(error) {
		mu.Lock()
		errors++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"no-default":["broken.jpg"]}`), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors >= 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, 1, changes)
	mu.Unlock()
}

func TestWatchRejectsMissingFile(t *testing.T) {
	_, err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent.json"), func(Table) {}, nil)
	require.Error(t, err)
}

func TestWatchStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default":["one.jpg"]}`), 0o600))

	watcher, err := Watch(context.Background(), path, func(Table) {}, nil)
	require.NoError(t, err)
	watcher.Stop()
	watcher.Stop()
}
