// Package catalog is the canonical in-memory view of the media library: it
// owns the duration cache, the thumbnail cache, the playback-position
// cache, and the SystemUpdateID counter the eventing engine fans out on
// every change.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/log"
	"github.com/google/renameio/v2"

	"github.com/kestrelmedia/dms/internal/config"
	"github.com/kestrelmedia/dms/internal/mediaprobe"
)

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// validExtensions is the set of container extensions the catalog indexes,
// case-insensitively. Anything else, and any hidden (dot-prefixed) name, is
// invisible to Scan and the watcher alike.
var validExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
}

// IsValidMediaFile reports whether name names a file this catalog indexes.
func IsValidMediaFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return validExtensions[strings.ToLower(filepath.Ext(name))]
}

// mimeTypes maps a recognized extension to its DIDL-Lite container MIME.
var mimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// MimeTypeByExtension returns the MIME type registered for ext (as returned
// by filepath.Ext, including the leading dot), or a generic fallback.
func MimeTypeByExtension(ext string) string {
	if m, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}

// Fingerprint is the MD5 hex digest of an absolute path: the cache key and
// thumbnail filename stem for a MediaItem.
func Fingerprint(absPath string) string {
	sum := md5.Sum([]byte(absPath))
	return hex.EncodeToString(sum[:])
}

// MediaItem is a single indexed video file.
type MediaItem struct {
	Path      string // absolute
	Name      string // file stem, no extension
	MimeType  string
	Size      int64
	Duration  float64 // seconds; 0 until probed
	HasThumb  bool
	Fingerprint string
}

// Entry is one child of ScanDir: either a folder or a MediaItem.
type Entry struct {
	IsFolder bool
	Path     string // absolute
	Name     string
	Item     *MediaItem // nil if IsFolder
}

type durationEntry struct {
	Duration float64 `json:"duration"`
}

type playbackEntry struct {
	PosSec    float64 `json:"pos_sec"`
	UpdatedAt int64   `json:"updated_at"`
}

// Catalog is the process-wide singleton owning the three caches and the
// SystemUpdateID counter. It is safe for concurrent use.
type Catalog struct {
	Logger log.Logger
	prober *mediaprobe.Prober

	durationCachePath string
	playbackCachePath string
	thumbnailDir      string

	cacheMu      sync.Mutex
	durations    map[string]durationEntry
	playbackMode config.CacheMode
	playbackG    map[string]playbackEntry            // Global
	playbackPC   map[string]map[string]playbackEntry // PerClient: client -> fingerprint

	roots   []string
	rootsMu sync.RWMutex

	generateThumbnails bool
	thumbnailTimestamp float64

	updateID uint64

	durationQueue  chan string
	thumbnailQueue chan string
	pendingMu      sync.Mutex
	pendingDur     map[string]bool
	pendingThumb   map[string]bool

	onChange func()
}

// Options configures a new Catalog.
type Options struct {
	DurationCachePath  string
	PlaybackCachePath  string
	ThumbnailDir       string
	CacheMode          config.CacheMode
	GenerateThumbnails bool
	ThumbnailTimestamp float64
	Roots              []string
	Prober             *mediaprobe.Prober
	Logger             log.Logger
	// OnChange is invoked (without the cache lock held) after every
	// BumpUpdateID; the eventing engine wires its NotifyAll here.
	OnChange func()
}

// New constructs a Catalog, loading existing caches from disk, and starts
// its two background workers (duration, thumbnail).
func New(opts Options) *Catalog {
	c := &Catalog{
		Logger:             opts.Logger,
		prober:             opts.Prober,
		durationCachePath:  opts.DurationCachePath,
		playbackCachePath:  opts.PlaybackCachePath,
		thumbnailDir:       opts.ThumbnailDir,
		durations:          make(map[string]durationEntry),
		playbackMode:       opts.CacheMode,
		playbackG:          make(map[string]playbackEntry),
		playbackPC:         make(map[string]map[string]playbackEntry),
		roots:              append([]string(nil), opts.Roots...),
		generateThumbnails: opts.GenerateThumbnails,
		thumbnailTimestamp: opts.ThumbnailTimestamp,
		updateID:           1,
		durationQueue:      make(chan string, 256),
		thumbnailQueue:     make(chan string, 256),
		pendingDur:         make(map[string]bool),
		pendingThumb:       make(map[string]bool),
		onChange:           opts.OnChange,
	}
	c.loadDurationCache()
	c.loadPlaybackCache()
	if err := os.MkdirAll(c.thumbnailDir, 0o755); err != nil {
		c.Logger.Levelf(log.Warning, "catalog: create thumbnail dir: %v", err)
	}
	go c.durationWorker()
	go c.thumbnailWorker()
	return c
}

// SetRoots replaces the configured media roots, used on settings reload.
func (c *Catalog) SetRoots(roots []string) {
	c.rootsMu.Lock()
	c.roots = append([]string(nil), roots...)
	c.rootsMu.Unlock()
}

// Roots returns the configured media roots.
func (c *Catalog) Roots() []string {
	c.rootsMu.RLock()
	defer c.rootsMu.RUnlock()
	return append([]string(nil), c.roots...)
}

// IsSafePath returns true only if p is within, or is an ancestor of, one of
// the configured roots, after full canonicalization.
func (c *Catalog) IsSafePath(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	for _, root := range c.Roots() {
		root = filepath.Clean(root)
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
		if strings.HasPrefix(root, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// GetDuration returns the cached duration for path, or 0 if unknown, and
// enqueues a probe when unknown.
func (c *Catalog) GetDuration(path string) float64 {
	fp := Fingerprint(path)
	c.cacheMu.Lock()
	entry, ok := c.durations[fp]
	c.cacheMu.Unlock()
	if ok && entry.Duration > 0 {
		return entry.Duration
	}
	c.enqueueDuration(path)
	return 0
}

func (c *Catalog) enqueueDuration(path string) {
	c.pendingMu.Lock()
	if c.pendingDur[path] {
		c.pendingMu.Unlock()
		return
	}
	c.pendingDur[path] = true
	c.pendingMu.Unlock()
	select {
	case c.durationQueue <- path:
	default:
		c.Logger.Levelf(log.Warning, "catalog: duration queue full, dropping %s", path)
		c.pendingMu.Lock()
		delete(c.pendingDur, path)
		c.pendingMu.Unlock()
	}
}

// EnsureThumbnail is a no-op if thumbnailing is disabled or the thumbnail
// already exists; otherwise it enqueues a render.
func (c *Catalog) EnsureThumbnail(path string) {
	if !c.generateThumbnails {
		return
	}
	fp := Fingerprint(path)
	if _, err := os.Stat(c.ThumbnailPath(fp)); err == nil {
		return
	}
	c.pendingMu.Lock()
	if c.pendingThumb[path] {
		c.pendingMu.Unlock()
		return
	}
	c.pendingThumb[path] = true
	c.pendingMu.Unlock()
	select {
	case c.thumbnailQueue <- path:
	default:
		c.Logger.Levelf(log.Warning, "catalog: thumbnail queue full, dropping %s", path)
		c.pendingMu.Lock()
		delete(c.pendingThumb, path)
		c.pendingMu.Unlock()
	}
}

// ThumbnailPath returns the on-disk path of fingerprint's thumbnail.
func (c *Catalog) ThumbnailPath(fingerprint string) string {
	return filepath.Join(c.thumbnailDir, fingerprint+".jpg")
}

func (c *Catalog) durationWorker() {
	for path := range c.durationQueue {
		c.runDurationProbe(path)
		c.pendingMu.Lock()
		delete(c.pendingDur, path)
		c.pendingMu.Unlock()
	}
}

func (c *Catalog) runDurationProbe(path string) {
	fp := Fingerprint(path)
	c.cacheMu.Lock()
	if e, ok := c.durations[fp]; ok && e.Duration > 0 {
		c.cacheMu.Unlock()
		return
	}
	c.cacheMu.Unlock()

	seconds, err := c.prober.ProbeDuration(path)
	if err != nil {
		c.Logger.Levelf(log.Debug, "catalog: probe failed for %s: %v", path, err)
		seconds = 0
	}
	c.cacheMu.Lock()
	c.durations[fp] = durationEntry{Duration: seconds}
	c.flushDurationCacheLocked()
	c.cacheMu.Unlock()
}

func (c *Catalog) thumbnailWorker() {
	for path := range c.thumbnailQueue {
		fp := Fingerprint(path)
		duration := c.GetDuration(path)
		out := c.ThumbnailPath(fp)
		if err := c.prober.RenderThumbnail(path, c.thumbnailTimestamp, duration, out); err != nil {
			c.Logger.Levelf(log.Debug, "catalog: thumbnail failed for %s: %v", path, err)
		}
		c.pendingMu.Lock()
		delete(c.pendingThumb, path)
		c.pendingMu.Unlock()
	}
}

// OnCreated handles a watcher-reported file creation.
func (c *Catalog) OnCreated(path string) {
	c.GetDuration(path)
	c.EnsureThumbnail(path)
}

// OnDeleted removes path's entry from every cache shape and deletes its
// thumbnail file; a missing thumbnail is not an error.
func (c *Catalog) OnDeleted(path string) {
	fp := Fingerprint(path)
	c.cacheMu.Lock()
	delete(c.durations, fp)
	delete(c.playbackG, fp)
	for _, byFP := range c.playbackPC {
		delete(byFP, fp)
	}
	c.flushDurationCacheLocked()
	c.flushPlaybackCacheLocked()
	c.cacheMu.Unlock()

	if err := os.Remove(c.ThumbnailPath(fp)); err != nil && !os.IsNotExist(err) {
		c.Logger.Levelf(log.Debug, "catalog: remove thumbnail for %s: %v", path, err)
	}
}

// OnMoved handles a watcher-reported rename/move.
func (c *Catalog) OnMoved(from, to string) {
	if IsValidMediaFile(filepath.Base(from)) {
		c.OnDeleted(from)
	}
	if IsValidMediaFile(filepath.Base(to)) {
		c.OnCreated(to)
	}
}

// Scan walks root once, enqueuing probes and thumbnail renders for every
// valid file beneath it.
func (c *Catalog) Scan(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsValidMediaFile(info.Name()) {
			return nil
		}
		c.GetDuration(path)
		c.EnsureThumbnail(path)
		return nil
	})
}

// ScanDir synchronously lists path's immediate children: subdirectories and
// valid video files, sorted case-insensitive by name, folders first.
func (c *Catalog) ScanDir(path string) []Entry {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		c.Logger.Levelf(log.Debug, "catalog: read dir %s: %v", path, err)
		return nil
	}
	var folders, files []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(path, name)
		if de.IsDir() {
			folders = append(folders, Entry{IsFolder: true, Path: full, Name: name})
			continue
		}
		if !IsValidMediaFile(name) {
			continue
		}
		item := c.describeFile(full)
		files = append(files, Entry{IsFolder: false, Path: full, Name: item.Name, Item: item})
	}
	sort.Slice(folders, func(i, j int) bool { return strings.ToLower(folders[i].Name) < strings.ToLower(folders[j].Name) })
	sort.Slice(files, func(i, j int) bool { return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name) })
	return append(folders, files...)
}

func (c *Catalog) describeFile(path string) *MediaItem {
	fp := Fingerprint(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	c.cacheMu.Lock()
	duration := c.durations[fp].Duration
	c.cacheMu.Unlock()
	_, thumbErr := os.Stat(c.ThumbnailPath(fp))
	return &MediaItem{
		Path:        path,
		Name:        name,
		MimeType:    MimeTypeByExtension(ext),
		Size:        size,
		Duration:    duration,
		HasThumb:    thumbErr == nil,
		Fingerprint: fp,
	}
}

// DescribeFile is the exported form of describeFile, used by the SOAP
// dispatcher to build a single <item> for BrowseMetadata.
func (c *Catalog) DescribeFile(path string) *MediaItem {
	return c.describeFile(path)
}

// BumpUpdateID increments SystemUpdateID and invokes OnChange, if set,
// outside any lock.
func (c *Catalog) BumpUpdateID() uint64 {
	id := atomic.AddUint64(&c.updateID, 1)
	if c.onChange != nil {
		c.onChange()
	}
	return id
}

// SystemUpdateID returns the current counter value without mutating it.
func (c *Catalog) SystemUpdateID() uint64 {
	return atomic.LoadUint64(&c.updateID)
}

// ReportProgress records a playback position for path, scoped per the
// active cache mode and, in PerClient mode, clientIP.
func (c *Catalog) ReportProgress(path, clientIP string, posSec float64) error {
	if c.playbackMode == config.CacheOff {
		return nil
	}
	if posSec < 0 {
		posSec = 0
	}
	fp := Fingerprint(path)
	entry := playbackEntry{PosSec: posSec, UpdatedAt: time.Now().Unix()}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	switch c.playbackMode {
	case config.CacheGlobal:
		c.playbackG[fp] = entry
	case config.CachePerClient:
		byFP, ok := c.playbackPC[clientIP]
		if !ok {
			byFP = make(map[string]playbackEntry)
			c.playbackPC[clientIP] = byFP
		}
		byFP[fp] = entry
	}
	return c.flushPlaybackCacheLocked()
}

// GetProgress returns the stored playback position for path/clientIP, or 0
// if none exists or the cache is Off.
func (c *Catalog) GetProgress(path, clientIP string) float64 {
	if c.playbackMode == config.CacheOff {
		return 0
	}
	fp := Fingerprint(path)
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	switch c.playbackMode {
	case config.CacheGlobal:
		return c.playbackG[fp].PosSec
	case config.CachePerClient:
		return c.playbackPC[clientIP][fp].PosSec
	}
	return 0
}

// flushDurationCacheLocked writes a snapshot of the duration cache to disk.
// The caller holds cacheMu.
func (c *Catalog) flushDurationCacheLocked() error {
	out := make(map[string]durationEntry, len(c.durations))
	for k, v := range c.durations {
		out[k] = v
	}
	return writeJSONAtomic(c.durationCachePath, out)
}

func (c *Catalog) flushPlaybackCacheLocked() error {
	switch c.playbackMode {
	case config.CacheGlobal:
		return writeJSONAtomic(c.playbackCachePath, c.playbackG)
	case config.CachePerClient:
		return writeJSONAtomic(c.playbackCachePath, c.playbackPC)
	default:
		return nil
	}
}

func (c *Catalog) loadDurationCache() {
	if err := readJSON(c.durationCachePath, &c.durations); err != nil && !os.IsNotExist(err) {
		c.Logger.Levelf(log.Warning, "catalog: load duration cache: %v", err)
	}
	if c.durations == nil {
		c.durations = make(map[string]durationEntry)
	}
}

func (c *Catalog) loadPlaybackCache() {
	switch c.playbackMode {
	case config.CacheGlobal:
		if err := readJSON(c.playbackCachePath, &c.playbackG); err != nil && !os.IsNotExist(err) {
			c.Logger.Levelf(log.Warning, "catalog: load playback cache: %v", err)
		}
	case config.CachePerClient:
		if err := readJSON(c.playbackCachePath, &c.playbackPC); err != nil && !os.IsNotExist(err) {
			c.Logger.Levelf(log.Warning, "catalog: load playback cache: %v", err)
		}
	}
}
