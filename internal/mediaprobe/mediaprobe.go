// Package mediaprobe invokes the external ffmpeg/ffprobe toolchain to
// extract container duration and render thumbnail frames. Both operations
// block; callers run them from background workers, never inline with a
// request.
package mediaprobe

import (
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/anacrolix/ffprobe"
	"github.com/nfnt/resize"
)

// Prober resolves the ffmpeg/ffprobe toolchain once at startup and exposes
// the two blocking probe operations the catalog's background workers use.
type Prober struct {
	FFmpegPath  string
	FFprobePath string
}

// ResolveToolchain looks for ffmpeg/ffprobe first under a ./ffmpeg
// directory next to the executable, then on PATH, matching the bundled-
// or-system toolchain contract external operators rely on.
func ResolveToolchain() (*Prober, error) {
	p := &Prober{}
	exe, err := os.Executable()
	if err == nil {
		bundled := filepath.Join(filepath.Dir(exe), "ffmpeg")
		if path := firstExisting(filepath.Join(bundled, binName("ffmpeg"))); path != "" {
			p.FFmpegPath = path
		}
		if path := firstExisting(filepath.Join(bundled, binName("ffprobe"))); path != "" {
			p.FFprobePath = path
		}
	}
	if p.FFmpegPath == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("mediaprobe: ffmpeg not found bundled or on PATH: %w", err)
		}
		p.FFmpegPath = path
	}
	if p.FFprobePath == "" {
		path, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("mediaprobe: ffprobe not found bundled or on PATH: %w", err)
		}
		p.FFprobePath = path
	}
	return p, nil
}

func binName(name string) string {
	if os.PathSeparator == '\\' {
		return name + ".exe"
	}
	return name
}

func firstExisting(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// ProbeDuration invokes ffprobe and returns the container duration in
// seconds. A probe failure reports an unknown duration (0) rather than an
// error the caller must act on; the error is still returned for logging.
func (p *Prober) ProbeDuration(path string) (seconds float64, err error) {
	info, err := ffprobe.Run(path)
	if err != nil {
		return 0, fmt.Errorf("mediaprobe: ffprobe %s: %w", path, err)
	}
	raw, ok := info.Format["duration"]
	if !ok {
		return 0, fmt.Errorf("mediaprobe: no duration field for %s", path)
	}
	str, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("mediaprobe: unexpected duration type for %s", path)
	}
	seconds, err = strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("mediaprobe: parse duration %q: %w", str, err)
	}
	return seconds, nil
}

// SubtitleTrack describes one embedded subtitle stream, numbered in the
// order ffmpeg's "0:s:N" stream specifier addresses them (i.e. among
// subtitle streams only, not the container's absolute stream index).
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Language string `json:"language,omitempty"`
}

// ListSubtitleTracks probes path and returns its embedded subtitle streams,
// for the web player's track picker and /subtitle/embedded/{idx}/....
func (p *Prober) ListSubtitleTracks(path string) ([]SubtitleTrack, error) {
	info, err := ffprobe.Run(path)
	if err != nil {
		return nil, fmt.Errorf("mediaprobe: ffprobe %s: %w", path, err)
	}
	var tracks []SubtitleTrack
	for _, stream := range info.Streams {
		if codecType, _ := stream["codec_type"].(string); codecType != "subtitle" {
			continue
		}
		lang := ""
		if v, ok := stream["tag:language"].(string); ok {
			lang = v
		}
		tracks = append(tracks, SubtitleTrack{Index: len(tracks), Language: lang})
	}
	return tracks, nil
}

const thumbnailWidth = 320

// RenderThumbnail seeks to ts seconds into path (clamped to duration/2 if
// ts >= duration) and writes one downscaled JPEG frame to outPath.
func (p *Prober) RenderThumbnail(path string, ts float64, duration float64, outPath string) error {
	if duration > 0 && ts >= duration {
		ts = duration / 2
	}
	if ts < 0 {
		ts = 0
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".thumb-*.jpg")
	if err != nil {
		return fmt.Errorf("mediaprobe: create temp thumbnail: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.Command(p.FFmpegPath,
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "4",
		"-y", tmpPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mediaprobe: render thumbnail for %s: %w", path, err)
	}
	return downscale(tmpPath, outPath)
}

func downscale(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	img, err := jpeg.Decode(in)
	if err != nil {
		return fmt.Errorf("mediaprobe: decode rendered frame: %w", err)
	}
	scaled := resize.Resize(thumbnailWidth, 0, img, resize.Lanczos3)

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return jpeg.Encode(out, scaled, &jpeg.Options{Quality: 85})
}
