package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSkipsMissingFiles(t *testing.T) {
	w, err := New([]Target{
		{Name: "missing", Path: filepath.Join(t.TempDir(), "nope.yaml"), Reload: func() error { return nil }},
		{Name: "empty"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Watched())
	w.watcher.Close()
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0644))

	var calls atomic.Int32
	w, err := New([]Target{{Name: "policy", Path: path, Reload: func() error {
		calls.Add(1)
		return nil
	}}}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, w.Watched())
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Several quick writes collapse into one reload.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0644))
	}
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
