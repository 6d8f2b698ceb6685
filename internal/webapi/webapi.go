// Package webapi implements the read-mostly JSON API the HTML web player
// consumes: library structure, directory listings, subtitle track lists,
// and playback-position bookmarks. None of this is UPnP/DLNA; it is the
// same catalog and prober the DLNA surface uses, exposed with plain JSON
// instead of DIDL-Lite and SOAP.
package webapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/anacrolix/log"
	"github.com/go-chi/chi/v5"

	"github.com/kestrelmedia/dms/internal/catalog"
	"github.com/kestrelmedia/dms/internal/mediaprobe"
)

// Catalog is the subset of *catalog.Catalog this API reads and writes.
type Catalog interface {
	Roots() []string
	ScanDir(path string) []catalog.Entry
	IsSafePath(path string) bool
	ReportProgress(path, clientIP string, posSec float64) error
	GetProgress(path, clientIP string) float64
}

// Prober resolves embedded subtitle tracks for /api/get_tracks.
type Prober interface {
	ListSubtitleTracks(path string) ([]mediaprobe.SubtitleTrack, error)
}

// API holds the dependencies the JSON endpoints read.
type API struct {
	Catalog Catalog
	Prober  Prober
	Logger  log.Logger
}

// Mount registers every /api/* route onto r.
func (a *API) Mount(r chi.Router) {
	r.Get("/get_structure", a.handleStructure)
	r.Get("/browse", a.handleBrowseRoot)
	r.Get("/browse/*", a.handleBrowse)
	r.Get("/get_tracks/*", a.handleTracks)
	r.Post("/report_progress", a.handleReportProgress)
	r.Post("/get_progress", a.handleGetProgress)
}

type folderEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type fileEntry struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

type listing struct {
	Folders []folderEntry `json:"folders"`
	Files   []fileEntry   `json:"files"`
}

func entriesToListing(entries []catalog.Entry) listing {
	l := listing{Folders: []folderEntry{}, Files: []fileEntry{}}
	for _, e := range entries {
		if e.IsFolder {
			l.Folders = append(l.Folders, folderEntry{Name: e.Name, Path: e.Path})
			continue
		}
		l.Files = append(l.Files, fileEntry{
			Name:     e.Name,
			Path:     e.Item.Path,
			Size:     e.Item.Size,
			Duration: e.Item.Duration,
		})
	}
	return l
}

// handleBrowseRoot answers /api/browse (no subpath): the configured media
// roots themselves, with no files, matching the root case of the original
// Python web UI's directory browser.
func (a *API) handleBrowseRoot(w http.ResponseWriter, r *http.Request) {
	l := listing{Folders: []folderEntry{}, Files: []fileEntry{}}
	for _, root := range a.Catalog.Roots() {
		l.Folders = append(l.Folders, folderEntry{Name: filepath.Base(root), Path: root})
	}
	writeJSON(w, l)
}

// handleBrowse answers /api/browse/{subpath}: a shallow listing of one
// directory, reusing the same safe-path guard the streaming server applies.
func (a *API) handleBrowse(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if !a.Catalog.IsSafePath(path) {
		writeJSONStatus(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}
	writeJSON(w, entriesToListing(a.Catalog.ScanDir(path)))
}

// handleStructure answers /api/get_structure: the full library tree,
// recursively walked from every configured root.
func (a *API) handleStructure(w http.ResponseWriter, r *http.Request) {
	type node struct {
		Name    string      `json:"name"`
		Path    string      `json:"path"`
		Folders []node      `json:"folders"`
		Files   []fileEntry `json:"files"`
	}
	var walk func(path string) node
	walk = func(path string) node {
		n := node{Name: filepath.Base(path), Path: path, Folders: []node{}, Files: []fileEntry{}}
		for _, e := range a.Catalog.ScanDir(path) {
			if e.IsFolder {
				n.Folders = append(n.Folders, walk(e.Path))
				continue
			}
			n.Files = append(n.Files, fileEntry{
				Name:     e.Name,
				Path:     e.Item.Path,
				Size:     e.Item.Size,
				Duration: e.Item.Duration,
			})
		}
		return n
	}
	var roots []node
	for _, root := range a.Catalog.Roots() {
		roots = append(roots, walk(root))
	}
	writeJSON(w, roots)
}

// handleTracks answers /api/get_tracks/{path}: the embedded subtitle
// streams the web player can request via /subtitle/embedded.
func (a *API) handleTracks(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if !a.Catalog.IsSafePath(path) {
		writeJSONStatus(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}
	tracks, err := a.Prober.ListSubtitleTracks(path)
	if err != nil {
		a.Logger.Levelf(log.Debug, "webapi: list subtitle tracks for %s: %v", path, err)
		writeJSON(w, []mediaprobe.SubtitleTrack{})
		return
	}
	writeJSON(w, tracks)
}

type progressRequest struct {
	Path     string  `json:"path"`
	Position float64 `json:"position"`
}

// handleReportProgress answers POST /api/report_progress.
func (a *API) handleReportProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "missing path or position"})
		return
	}
	if err := a.Catalog.ReportProgress(req.Path, clientIP(r), req.Position); err != nil {
		a.Logger.Levelf(log.Warning, "webapi: report progress for %s: %v", req.Path, err)
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleGetProgress answers POST /api/get_progress.
func (a *API) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "missing path"})
		return
	}
	pos := a.Catalog.GetProgress(req.Path, clientIP(r))
	writeJSON(w, map[string]float64{"position": pos})
}

// clientIP strips the port from r.RemoteAddr, matching dlna/cds's
// splitHostPort so progress lookups agree on the same client identity
// regardless of which surface recorded them.
func clientIP(r *http.Request) string {
	idx := strings.LastIndex(r.RemoteAddr, ":")
	if idx == -1 {
		return r.RemoteAddr
	}
	return r.RemoteAddr[:idx]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
