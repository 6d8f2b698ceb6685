package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscodeExtensionsNormalizesCase(t *testing.T) {
	s := Settings{TranscodeFormats: ".MKV, avi,webm ,"}
	ext := s.TranscodeExtensions()
	assert.True(t, ext[".mkv"])
	assert.True(t, ext[".avi"])
	assert.True(t, ext[".webm"])
	assert.Len(t, ext, 3)
}

func TestDefaultsAreUsableAsIs(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 9005, d.ServerPort)
	assert.Equal(t, CacheGlobal, d.CacheMode)
	assert.NotEmpty(t, d.TranscodeExtensions())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), log.Default)
	got := store.Load()
	assert.Equal(t, Defaults(), got)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), log.Default)
	want := Defaults()
	want.ServerName = "Living Room"
	want.MediaFolders = []string{"/m/Movies", "/m/TV"}
	require.NoError(t, store.Save(want))

	got := store.Load()
	assert.Equal(t, want, got)
}

func TestLoadMalformedJSONFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store := NewStore(path, log.Default)
	assert.Equal(t, Defaults(), store.Load())
}
