package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCatalog struct {
	mu       sync.Mutex
	created  []string
	deleted  []string
	moved    [][2]string
	bumped   int
}

func (c *recordingCatalog) OnCreated(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, path)
}

func (c *recordingCatalog) OnDeleted(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, path)
}

func (c *recordingCatalog) OnMoved(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moved = append(c.moved, [2]string{from, to})
}

func (c *recordingCatalog) BumpUpdateID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumped++
	return uint64(c.bumped)
}

func (c *recordingCatalog) snapshot() (created, deleted []string, bumped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.created...), append([]string(nil), c.deleted...), c.bumped
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWatcherReportsCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	cat := &recordingCatalog{}
	w := New(cat, log.Default)
	require.NoError(t, w.Start([]string{root}, func(string) {}))
	defer w.Close()

	path := filepath.Join(root, "new.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		created, _, _ := cat.snapshot()
		return len(created) == 1
	})

	require.NoError(t, os.Remove(path))
	waitFor(t, 2*time.Second, func() bool {
		_, deleted, _ := cat.snapshot()
		return len(deleted) == 1
	})

	created, deleted, bumped := cat.snapshot()
	assert.Equal(t, path, created[0])
	assert.Equal(t, path, deleted[0])
	assert.Equal(t, 2, bumped)
}

func TestWatcherIgnoresNonMediaFiles(t *testing.T) {
	root := t.TempDir()
	cat := &recordingCatalog{}
	w := New(cat, log.Default)
	require.NoError(t, w.Start([]string{root}, func(string) {}))
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)

	created, deleted, bumped := cat.snapshot()
	assert.Empty(t, created)
	assert.Empty(t, deleted)
	assert.Equal(t, 0, bumped)
}
