// Package config loads and persists the server's settings document: the
// operator-facing knobs the rest of the system (catalog, SSDP, streaming)
// reads at startup and on reconfiguration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anacrolix/log"
	"github.com/google/renameio/v2"
)

// CacheMode selects how playback bookmarks are scoped.
type CacheMode string

const (
	CacheOff       CacheMode = "Off"
	CacheGlobal    CacheMode = "Global"
	CachePerClient CacheMode = "PerClient"
)

// Settings is the typed configuration document persisted as settings.json.
type Settings struct {
	ServerName         string    `json:"server_name"`
	ServerPort         int       `json:"server_port"`
	MediaFolders       []string  `json:"media_folders"`
	StartOnStartup     bool      `json:"start_on_startup"`
	GenerateThumbnails bool      `json:"generate_thumbnails"`
	ThumbnailTimestamp float64   `json:"thumbnail_timestamp"`
	EnableUPNP         bool      `json:"enable_upnp"`
	ServerIconPath     string    `json:"server_icon_path"`
	CacheMode          CacheMode `json:"cache_mode"`
	EnableTranscoding  bool      `json:"enable_transcoding"`
	TranscodeFormats   string    `json:"transcode_formats"`
}

// Defaults returns the documented default settings.
func Defaults() Settings {
	return Settings{
		ServerName:         "GoldMedia",
		ServerPort:         9005,
		MediaFolders:       nil,
		StartOnStartup:     false,
		GenerateThumbnails: true,
		ThumbnailTimestamp: 4,
		EnableUPNP:         false,
		ServerIconPath:     "",
		CacheMode:          CacheGlobal,
		EnableTranscoding:  true,
		TranscodeFormats:   ".mkv,.avi,.webm,.mov",
	}
}

// TranscodeExtensions splits TranscodeFormats into a lowercase, dot-prefixed
// extension set.
func (s Settings) TranscodeExtensions() map[string]bool {
	out := make(map[string]bool)
	for _, ext := range strings.Split(s.TranscodeFormats, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}

// Store loads and atomically persists Settings at a fixed path.
type Store struct {
	Path   string
	Logger log.Logger
}

// NewStore returns a Store rooted at path.
func NewStore(path string, logger log.Logger) *Store {
	return &Store{Path: path, Logger: logger}
}

// Load reads the settings document, applying documented defaults for
// missing keys. Malformed JSON is a recoverable error: it is logged and
// Defaults() is returned rather than propagated. An unrecognized cache_mode
// is logged and replaced by the default mode; the other keys still load.
func (st *Store) Load() Settings {
	cfg := Defaults()
	data, err := os.ReadFile(st.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.Logger.Levelf(log.Warning, "config: read %s: %v, using defaults", st.Path, err)
		}
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		st.Logger.Levelf(log.Warning, "config: malformed settings at %s: %v, using defaults", st.Path, err)
		return Defaults()
	}
	switch cfg.CacheMode {
	case CacheOff, CacheGlobal, CachePerClient:
	default:
		st.Logger.Levelf(log.Warning, "config: unrecognized cache_mode %q at %s, using %q", cfg.CacheMode, st.Path, Defaults().CacheMode)
		cfg.CacheMode = Defaults().CacheMode
	}
	return cfg
}

// Save writes cfg to Path atomically: a temp file is fsynced and renamed
// into place so a reader never observes a torn document.
func (st *Store) Save(cfg Settings) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal settings: %w", err)
	}
	if err := renameio.WriteFile(st.Path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", st.Path, err)
	}
	return nil
}
