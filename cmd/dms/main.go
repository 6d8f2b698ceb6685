// Command dms runs the DLNA/UPnP media server: it loads settings, indexes
// the configured media folders, and serves ContentDirectory, streaming, and
// the JSON web API until signaled to stop.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anacrolix/log"

	"github.com/kestrelmedia/dms/dlna/server"
	"github.com/kestrelmedia/dms/dlna/transcode"
	"github.com/kestrelmedia/dms/internal/catalog"
	"github.com/kestrelmedia/dms/internal/config"
	"github.com/kestrelmedia/dms/internal/mediaprobe"
	"github.com/kestrelmedia/dms/internal/watcher"
)

func main() {
	var (
		stateDir = flag.String("state-dir", defaultStateDir(), "directory for settings.json and caches")
		addr     = flag.String("http", "", "HTTP listen address, overrides settings.json server_port")
	)
	flag.Parse()

	logger := log.Default.WithNames("dms")

	if err := os.MkdirAll(*stateDir, 0o755); err != nil {
		logger.Levelf(log.Error, "create state dir %s: %v", *stateDir, err)
		os.Exit(1)
	}

	store := config.NewStore(filepath.Join(*stateDir, "settings.json"), logger.WithNames("config"))
	settings := store.Load()

	httpAddr := fmt.Sprintf(":%d", settings.ServerPort)
	if *addr != "" {
		httpAddr = *addr
	}

	prober, err := mediaprobe.ResolveToolchain()
	if err != nil {
		logger.Levelf(log.Error, "resolve ffmpeg/ffprobe: %v", err)
		os.Exit(1)
	}
	transcode.ToolPath = prober.FFmpegPath

	var srv *server.Server

	cat := catalog.New(catalog.Options{
		DurationCachePath:  filepath.Join(*stateDir, "media_info_cache.json"),
		PlaybackCachePath:  filepath.Join(*stateDir, "playback_cache.json"),
		ThumbnailDir:       filepath.Join(*stateDir, "thumbnails"),
		CacheMode:          settings.CacheMode,
		GenerateThumbnails: settings.GenerateThumbnails,
		ThumbnailTimestamp: settings.ThumbnailTimestamp,
		Roots:              settings.MediaFolders,
		Prober:             prober,
		Logger:             logger.WithNames("catalog"),
		OnChange: func() {
			if srv != nil {
				srv.NotifyChange(cat.SystemUpdateID())
			}
		},
	})

	ifaces, err := activeMulticastInterfaces()
	if err != nil {
		logger.Levelf(log.Warning, "enumerate interfaces: %v", err)
	}

	srv, err = server.New(server.Config{
		FriendlyName:        settings.ServerName,
		IconPath:            settings.ServerIconPath,
		Addr:                httpAddr,
		Interfaces:          ifaces,
		NotifyInterval:      5 * time.Minute,
		ThumbnailDir:        filepath.Join(*stateDir, "thumbnails"),
		Catalog:             cat,
		Prober:              prober,
		Logger:              logger.WithNames("server"),
		EnableTranscoding:   settings.EnableTranscoding,
		TranscodeExtensions: settings.TranscodeExtensions(),
	})
	if err != nil {
		logger.Levelf(log.Error, "build server: %v", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		logger.Levelf(log.Error, "start server: %v", err)
		os.Exit(1)
	}
	logger.Levelf(log.Info, "listening on %s", httpAddr)

	w := watcher.New(cat, logger.WithNames("watcher"))
	if err := w.Start(settings.MediaFolders, cat.Scan); err != nil {
		logger.Levelf(log.Error, "start watcher: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Levelf(log.Info, "shutting down")
	_ = w.Close()
	if err := srv.Close(); err != nil {
		logger.Levelf(log.Warning, "server close: %v", err)
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dms")
	}
	return ".dms"
}

// activeMulticastInterfaces returns the interfaces SSDP should bind to: up,
// multicast-capable, and not loopback.
func activeMulticastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, iface)
	}
	return out, nil
}
