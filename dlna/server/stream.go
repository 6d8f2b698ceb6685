package server

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/anacrolix/log"
	"github.com/go-chi/chi/v5"

	"github.com/kestrelmedia/dms/dlna"
	"github.com/kestrelmedia/dms/dlna/transcode"
	"github.com/kestrelmedia/dms/internal/catalog"
)

const streamChunkSize = 64 * 1024

// handleStream serves /stream/{path}, direct or transcoded, per spec §4.I.
// The wildcard match is the media item's absolute path verbatim: streamURL
// builds it as "/stream" + item.Path, and item.Path already begins with "/".
func (srv *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if !srv.catalog.IsSafePath(path) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ext := filepath.Ext(path)
	if r.URL.Query().Get("transcode") == "true" && srv.enableTranscoding && srv.transcodeExtensions[strings.ToLower(ext)] {
		srv.serveTranscoded(w, r, path)
		return
	}
	srv.serveDirect(w, r, path)
}

func (srv *Server) serveDirect(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	size := fi.Size()

	w.Header().Set("Content-Type", catalog.MimeTypeByExtension(filepath.Ext(path)))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set(dlna.TransferModeDomain, "Streaming")
	w.Header().Set(dlna.ContentFeaturesDomain, (dlna.ContentFeatures{
		ProfileName:  "MPEG_PS_NTSC",
		SupportRange: true,
	}).String())
	w.Header().Set("Server", dlna.ServerBanner)

	start, end, ok := parseRangeHeader(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		srv.copyChunked(w, f)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusPartialContent)
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusPartialContent)
	srv.copyChunked(w, io.LimitReader(f, end-start+1))
}

// parseRangeHeader parses a single-range "bytes=a-b" request header. b is
// clamped to size-1 when present; a malformed header reports ok=false,
// meaning the caller should serve the full body.
func parseRangeHeader(h string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(h, prefix) {
		return 0, 0, false
	}
	spec := strings.SplitN(h[len(prefix):], "-", 2)
	if len(spec) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(spec[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if spec[1] != "" {
		e, err := strconv.ParseInt(spec[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		end = e
	}
	if end > size-1 {
		end = size - 1
	}
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

func (srv *Server) copyChunked(w http.ResponseWriter, r io.Reader) {
	buf := make([]byte, streamChunkSize)
	n, err := io.CopyBuffer(w, r, buf)
	srv.metrics.bytesStreamed.Add(float64(n))
	if err != nil {
		srv.Logger.Levelf(log.Debug, "server: stream copy: %v", err)
	}
}

// serveTranscoded spawns the transcoder and streams its MPEG-PS stdout
// verbatim; the subprocess is bound to the request context, so a client
// disconnect kills it.
func (srv *Server) serveTranscoded(w http.ResponseWriter, r *http.Request, path string) {
	out, err := transcode.Start(r.Context(), path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer out.Close()

	w.Header().Set("Content-Type", transcode.MimeType)
	w.Header().Set(dlna.TransferModeDomain, "Streaming")
	w.Header().Set(dlna.ContentFeaturesDomain, (dlna.ContentFeatures{
		ProfileName: transcode.Profile,
		Transcoded:  true,
	}).String())
	w.Header().Set("Server", dlna.ServerBanner)
	w.WriteHeader(http.StatusOK)
	srv.copyChunked(w, out)
}

// handleThumbnail serves a cached thumbnail by fingerprint.
func (srv *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if strings.ContainsAny(hash, "/\\") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	path := filepath.Join(srv.thumbnailDir, hash+".jpg")
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	io.Copy(w, f)
}

// handleIcon serves the configured custom server icon, when present.
func (srv *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	if srv.IconPath == "" {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(srv.IconPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "image/png")
	io.Copy(w, f)
}

// handleSubtitle serves /subtitle/{path}: an adjacent .srt converted to VTT,
// or a .vtt file served verbatim.
func (srv *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if !srv.catalog.IsSafePath(path) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	if strings.HasSuffix(strings.ToLower(path), ".vtt") {
		f, err := os.Open(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		io.Copy(w, f)
		return
	}
	srtPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".srt"
	f, err := os.Open(srtPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	if err := writeSRTAsVTT(w, f); err != nil {
		srv.Logger.Levelf(log.Debug, "server: convert subtitle %s: %v", srtPath, err)
	}
}

// handleEmbeddedSubtitle extracts the idx-th subtitle track from a media
// container as WebVTT, streaming it line-by-line as it is produced.
func (srv *Server) handleEmbeddedSubtitle(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if !srv.catalog.IsSafePath(path) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		http.Error(w, "bad subtitle index", http.StatusBadRequest)
		return
	}
	out, err := transcode.ExtractSubtitle(r.Context(), path, idx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer out.Close()

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	scanner := bufio.NewScanner(out)
	bw := bufio.NewWriter(w)
	for scanner.Scan() {
		bw.WriteString(scanner.Text())
		bw.WriteByte('\n')
		bw.Flush()
	}
}

// writeSRTAsVTT converts an SRT subtitle stream to WebVTT line-by-line: the
// only structural difference this server's renderers care about is the
// "WEBVTT" header and comma-vs-period decimal separators in timestamps.
func writeSRTAsVTT(w io.Writer, r io.Reader) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	scanner := bufio.NewScanner(r)
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "-->") {
			line = strings.ReplaceAll(line, ",", ".")
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}
