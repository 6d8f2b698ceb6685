package server

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/dms/internal/catalog"
)

// testCatalog is a minimal stand-in for *catalog.Catalog satisfying the
// server.Catalog interface, scoped to a single root directory.
type testCatalog struct {
	root string
}

func (c *testCatalog) Roots() []string { return []string{c.root} }
func (c *testCatalog) ScanDir(path string) []catalog.Entry { return nil }
func (c *testCatalog) DescribeFile(path string) *catalog.MediaItem {
	return &catalog.MediaItem{Path: path, Name: filepath.Base(path)}
}
func (c *testCatalog) SystemUpdateID() uint64 { return 1 }
func (c *testCatalog) ReportProgress(path, clientIP string, posSec float64) error { return nil }
func (c *testCatalog) GetProgress(path, clientIP string) float64                 { return 0 }
func (c *testCatalog) IsSafePath(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	root := filepath.Clean(c.root)
	return filepath.Clean(abs) == root || len(abs) > len(root) && abs[:len(root)+1] == root+string(filepath.Separator)
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	srv, err := New(Config{
		FriendlyName: "test",
		Addr:         ":0",
		ThumbnailDir: t.TempDir(),
		Catalog:      &testCatalog{root: root},
		Logger:       log.Default,
	})
	require.NoError(t, err)
	return srv, root
}

// TestStreamRangeRequestHonorsPartialContent covers a byte-range request:
// a 100-byte file, Range: bytes=10-19 yields a 10-byte partial response
// with an exact Content-Range and exactly bytes 10 through 19.
func TestStreamRangeRequestHonorsPartialContent(t *testing.T) {
	srv, root := newTestServer(t)
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	path := filepath.Join(root, "ok.mp4")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	req := httptest.NewRequest("GET", "/stream/"+path, nil)
	req.Header.Set("Range", "bytes=10-19")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, 206, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 10-19/100", rec.Header().Get("Content-Range"))
	assert.Equal(t, content[10:20], rec.Body.Bytes())
}

func TestStreamRejectsPathOutsideRoots(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/stream//etc/passwd", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	assert.Equal(t, 403, rec.Code)
}

func TestDeviceDescServed(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/device.xml", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "MediaServer")
}
