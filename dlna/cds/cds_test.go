package cds

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/dms/internal/catalog"
)

func TestEncodeDecodeIDRoundTrip(t *testing.T) {
	path := "/m/Movies/A/ok.mp4"
	id := EncodeID(path)
	assert.NotEqual(t, RootID, id)
	got, err := DecodeID(id)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestDecodeRootID(t *testing.T) {
	path, err := DecodeID(RootID)
	require.NoError(t, err)
	assert.Equal(t, "", path)
}

func TestDecodeIDRejectsGarbage(t *testing.T) {
	_, err := DecodeID("not valid base64url!!")
	assert.Error(t, err)
}

// fakeCatalog is a minimal in-memory stand-in for *catalog.Catalog.
type fakeCatalog struct {
	roots    []string
	entries  map[string][]catalog.Entry
	items    map[string]*catalog.MediaItem
	updateID uint64
	progress map[string]float64
}

func (f *fakeCatalog) Roots() []string                      { return f.roots }
func (f *fakeCatalog) ScanDir(path string) []catalog.Entry   { return f.entries[path] }
func (f *fakeCatalog) DescribeFile(path string) *catalog.MediaItem { return f.items[path] }
func (f *fakeCatalog) SystemUpdateID() uint64                { return f.updateID }
func (f *fakeCatalog) ReportProgress(path, clientIP string, posSec float64) error {
	if f.progress == nil {
		f.progress = make(map[string]float64)
	}
	f.progress[path] = posSec
	return nil
}
func (f *fakeCatalog) GetProgress(path, clientIP string) float64 { return f.progress[path] }

func newFakeService() (*fakeCatalog, *Service) {
	fc := &fakeCatalog{
		roots:    []string{"/m/Movies"},
		entries:  map[string][]catalog.Entry{},
		items:    map[string]*catalog.MediaItem{},
		updateID: 7,
	}
	svc := &Service{
		Catalog:   fc,
		StreamURL: func(host string, item *catalog.MediaItem) string { return "http://" + host + "/stream" + item.Path },
		ThumbURL:  func(host string, item *catalog.MediaItem) string { return "" },
	}
	return fc, svc
}

func TestBrowseRootListsConfiguredRoots(t *testing.T) {
	_, svc := newFakeService()
	req, err := http.NewRequest("POST", "/upnp/control/ContentDirectory", nil)
	require.NoError(t, err)
	req.Host = "192.168.1.10:9005"

	args := []byte(`<u:Browse><ObjectID>0</ObjectID><BrowseFlag>BrowseDirectChildren</BrowseFlag><StartingIndex>0</StartingIndex><RequestedCount>0</RequestedCount></u:Browse>`)
	out, err := svc.Handle("Browse", args, req)
	require.NoError(t, err)
	assert.Equal(t, "1", out["TotalMatches"])
	assert.Equal(t, "1", out["NumberReturned"])
	assert.Equal(t, "7", out["UpdateID"])
	assert.Contains(t, out["Result"], "Movies")
}

func TestGetSystemUpdateID(t *testing.T) {
	_, svc := newFakeService()
	req, _ := http.NewRequest("POST", "/upnp/control/ContentDirectory", nil)
	out, err := svc.Handle("GetSystemUpdateID", nil, req)
	require.NoError(t, err)
	assert.Equal(t, "7", out["Id"])
}

func TestSetBookmarkRoundTrip(t *testing.T) {
	fc, svc := newFakeService()
	path := "/m/Movies/A/ok.mp4"
	fc.items[path] = &catalog.MediaItem{Path: path, Name: "ok"}

	req, _ := http.NewRequest("POST", "/upnp/control/ContentDirectory", nil)
	req.RemoteAddr = "10.0.0.5:54321"

	args := []byte(`<u:X_SetBookmark><ObjectID>` + EncodeID(path) + `</ObjectID><PosSecond>45000</PosSecond></u:X_SetBookmark>`)
	_, err := svc.Handle("X_SetBookmark", args, req)
	require.NoError(t, err)
	assert.Equal(t, float64(45000), fc.GetProgress(path, "10.0.0.5"))
}
