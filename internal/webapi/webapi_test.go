package webapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anacrolix/log"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmedia/dms/internal/catalog"
	"github.com/kestrelmedia/dms/internal/mediaprobe"
)

type fakeCatalog struct {
	roots    []string
	entries  map[string][]catalog.Entry
	safe     map[string]bool
	progress map[string]float64
}

func (f *fakeCatalog) Roots() []string                    { return f.roots }
func (f *fakeCatalog) ScanDir(path string) []catalog.Entry { return f.entries[path] }
func (f *fakeCatalog) IsSafePath(path string) bool         { return f.safe[path] }
func (f *fakeCatalog) ReportProgress(path, clientIP string, posSec float64) error {
	if f.progress == nil {
		f.progress = make(map[string]float64)
	}
	f.progress[path] = posSec
	return nil
}
func (f *fakeCatalog) GetProgress(path, clientIP string) float64 { return f.progress[path] }

type fakeProber struct {
	tracks []mediaprobe.SubtitleTrack
	err    error
}

func (f *fakeProber) ListSubtitleTracks(path string) ([]mediaprobe.SubtitleTrack, error) {
	return f.tracks, f.err
}

func newTestAPI() (*fakeCatalog, *API, chi.Router) {
	fc := &fakeCatalog{
		roots:   []string{"/m/Movies"},
		entries: map[string][]catalog.Entry{},
		safe:    map[string]bool{"/m/Movies/A": true},
	}
	api := &API{Catalog: fc, Prober: &fakeProber{}, Logger: log.Default}
	r := chi.NewRouter()
	r.Route("/api", api.Mount)
	return fc, api, r
}

func TestBrowseRootListsConfiguredRoots(t *testing.T) {
	_, _, r := newTestAPI()
	req := httptest.NewRequest(http.MethodGet, "/api/browse", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Folders, 1)
	assert.Equal(t, "/m/Movies", got.Folders[0].Path)
	assert.Empty(t, got.Files)
}

func TestBrowseSubpathListsEntries(t *testing.T) {
	fc, _, r := newTestAPI()
	fc.entries["/m/Movies/A"] = []catalog.Entry{
		{IsFolder: false, Path: "/m/Movies/A/ok.mp4", Name: "ok", Item: &catalog.MediaItem{Path: "/m/Movies/A/ok.mp4", Size: 1024, Duration: 60}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/browse//m/Movies/A", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Files, 1)
	assert.Equal(t, "/m/Movies/A/ok.mp4", got.Files[0].Path)
	assert.Equal(t, int64(1024), got.Files[0].Size)
}

func TestBrowseForbiddenOutsideRoots(t *testing.T) {
	_, _, r := newTestAPI()
	req := httptest.NewRequest(http.MethodGet, "/api/browse/etc/passwd", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetTracksReturnsSubtitleList(t *testing.T) {
	_, api, r := newTestAPI()
	api.Prober = &fakeProber{tracks: []mediaprobe.SubtitleTrack{{Index: 0, Language: "eng"}, {Index: 1, Language: "fre"}}}

	req := httptest.NewRequest(http.MethodGet, "/api/get_tracks//m/Movies/A", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tracks []mediaprobe.SubtitleTrack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	require.Len(t, tracks, 2)
	assert.Equal(t, "eng", tracks[0].Language)
}

func TestReportAndGetProgressRoundTrip(t *testing.T) {
	_, _, r := newTestAPI()
	body, _ := json.Marshal(progressRequest{Path: "/m/Movies/A/ok.mp4", Position: 30.5})
	req := httptest.NewRequest(http.MethodPost, "/api/report_progress", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ = json.Marshal(progressRequest{Path: "/m/Movies/A/ok.mp4"})
	req = httptest.NewRequest(http.MethodPost, "/api/get_progress", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 30.5, out["position"])
}

func TestReportProgressRejectsMissingPath(t *testing.T) {
	_, _, r := newTestAPI()
	req := httptest.NewRequest(http.MethodPost, "/api/report_progress", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
