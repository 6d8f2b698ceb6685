// Package transcode spawns the external media toolchain to produce the
// single MPEG-PS fallback rendition the spec calls for (spec Non-goals rule
// out a richer transcoding matrix).
package transcode

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// ToolPath is resolved once at startup by internal/mediaprobe and assigned
// here so the transcoder and the prober agree on which ffmpeg binary to run.
var ToolPath = "ffmpeg"

// Profile names the one transcode target this server offers.
const Profile = "MPEG_PS"

// MimeType is the content-type of the transcoded stream.
const MimeType = "video/mpeg"

// Start spawns ffmpeg to transcode path into an MPEG-PS stream on stdout,
// using mpeg2video/ac3 per spec §4.I. The returned ReadCloser's Close also
// waits for and releases the child process; callers must always Close it,
// including on context cancellation, to avoid leaking the subprocess.
func Start(ctx context.Context, path string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, ToolPath,
		"-i", path,
		"-c:v", "mpeg2video", "-q:v", "4",
		"-c:a", "ac3", "-b:a", "192k",
		"-f", "mpegts",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdReadCloser{cmd: cmd, stdout: stdout}, nil
}

// ExtractSubtitle spawns ffmpeg to pull the idx-th subtitle track out of path
// and convert it to WebVTT on stdout. The caller reads the result
// line-by-line and must always Close it, including on context cancellation.
func ExtractSubtitle(ctx context.Context, path string, idx int) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, ToolPath,
		"-i", path,
		"-map", fmt.Sprintf("0:s:%d", idx),
		"-c:s", "webvtt",
		"-f", "webvtt",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdReadCloser{cmd: cmd, stdout: stdout}, nil
}

type cmdReadCloser struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (c *cmdReadCloser) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Close terminates the transcoder if it is still running and releases its
// resources. It is safe to call after the process has already exited.
func (c *cmdReadCloser) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.stdout.Close()
	return c.cmd.Wait()
}
