// Package downloader wraps the external yt-dlp tool, which performs search, download and audio conversion.
//
// A [Downloader] is handed a search text (or URL) and a private work directory, and returns the single
// audio file it produced there. Failures are classified onto the shared pipeline errors from the tool's
// stderr so that callers can report a reason code without parsing output themselves.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lrstanley/go-ytdlp"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

// ProgressFunc receives download progress as a fraction in [0, 1] and the source title when known.
type ProgressFunc func(fraction float64, title string)

// Request describes one invocation of the external tool.
type Request struct {
	Query    string // search text or direct URL
	Format   models.Format
	WorkDir  string
	Progress ProgressFunc
}

// Result is the audio file produced for a [Request].
type Result struct {
	Path  string
	Title string
}

// Downloader resolves, downloads and converts a single track.
type Downloader interface {
	Download(ctx context.Context, req Request) (*Result, error)
}

// YTDLP is a [Downloader] backed by the yt-dlp executable.
type YTDLP struct {
	executable string
	quality    string
	timeout    time.Duration
	logger     *log.Logger
}

// NewYTDLP creates a yt-dlp downloader from the download configuration.
func NewYTDLP(cfg shared.DownloadConfig, logger *log.Logger) *YTDLP {
	quality := cfg.AudioQuality
	if quality == "" {
		quality = "5"
	}
	return &YTDLP{
		executable: cfg.Executable,
		quality:    quality,
		timeout:    cfg.Timeout.Duration,
		logger:     logger,
	}
}

// SearchTarget returns what yt-dlp should fetch for query: URLs pass through, anything else is searched.
func SearchTarget(query string) string {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") {
		return q
	}
	return "ytsearch1:" + q
}

func (y *YTDLP) command(req Request) *ytdlp.Command {
	cmd := ytdlp.New().
		ExtractAudio().
		AudioFormat(string(req.Format)).
		AudioQuality(y.quality).
		NoPlaylist().
		SocketTimeout(30).
		Retries("3").
		NoWarnings().
		ForceOverwrites().
		RestrictFilenames().
		Output(filepath.Join(req.WorkDir, "%(id)s.%(ext)s"))

	if y.executable != "" {
		cmd.SetExecutable(y.executable)
	}

	if req.Progress != nil {
		cmd.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			var title string
			if update.Info != nil && update.Info.Title != nil {
				title = *update.Info.Title
			}
			if update.TotalBytes > 0 {
				req.Progress(float64(update.DownloadedBytes)/float64(update.TotalBytes), title)
			}
		})
	}
	return cmd
}

// Download runs yt-dlp for req and returns the audio file it produced in req.WorkDir.
func (y *YTDLP) Download(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", shared.ErrInvalidRequest)
	}

	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	target := SearchTarget(req.Query)
	y.logger.Debug("invoking yt-dlp", "target", target, "format", req.Format, "dir", req.WorkDir)

	started := time.Now()
	res, err := y.command(req).Run(ctx, target)

	var stderr string
	if res != nil {
		stderr = res.Stderr
	}
	if err != nil {
		classified := Classify(ctx, err, stderr)
		y.logger.Warn("yt-dlp failed", "target", target, "err", classified, "elapsed", time.Since(started))
		return nil, classified
	}

	path, err := FindAudio(req.WorkDir, req.Format)
	if err != nil {
		// yt-dlp exits 0 when a search has no hits.
		if c := Classify(ctx, nil, stderr); c != nil {
			return nil, c
		}
		return nil, err
	}

	out := &Result{Path: path}
	if res != nil {
		if info, err := res.GetExtractedInfo(); err == nil && len(info) > 0 && info[0].Title != nil {
			out.Title = *info[0].Title
		}
	}

	y.logger.Debug("yt-dlp finished", "file", filepath.Base(path), "elapsed", time.Since(started))
	return out, nil
}

// FindAudio returns the file of the requested format produced in dir.
//
// Leftover source or partial files (.webm, .part) never count: yt-dlp only writes the
// requested extension once post-processing succeeded.
func FindAudio(dir string, format models.Format) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	var found []string
	files := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files++
		if strings.EqualFold(filepath.Ext(e.Name()), format.Ext()) {
			found = append(found, e.Name())
		}
	}

	if files == 0 {
		return "", fmt.Errorf("%w: nothing was downloaded", shared.ErrResolutionFailure)
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%w: no %s file produced", shared.ErrConversionFailure, format)
	}
	slices.Sort(found)
	return filepath.Join(dir, found[0]), nil
}

var (
	resolutionMarkers = []string{"no video results", "unsupported url", "video unavailable", "is not a valid url", "private video", "has already been recorded in the archive", "no entries"}
	conversionMarkers = []string{"ffmpeg", "ffprobe", "postprocessing", "audio conversion", "conversion failed"}
	upstreamMarkers   = []string{"unable to download", "timed out", "timeout", "name or service not known", "temporary failure in name resolution", "connection reset", "connection refused", "http error", "sign in to confirm", "too many requests"}
)

// Classify maps a yt-dlp failure onto a pipeline error using ctx, the run error and stderr.
//
// Returns nil only when err is nil and stderr carries no recognizable failure.
func Classify(ctx context.Context, err error, stderr string) error {
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: downloader timed out", shared.ErrUpstreamUnavailable)
	}
	if errors.Is(err, context.Canceled) || (ctx != nil && errors.Is(ctx.Err(), context.Canceled)) {
		return fmt.Errorf("%w: request cancelled", shared.ErrUpstreamUnavailable)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: yt-dlp is not installed", shared.ErrUpstreamUnavailable)
	}

	reason := lastError(stderr)
	text := strings.ToLower(stderr)
	if err != nil {
		text += "\n" + strings.ToLower(err.Error())
	}

	switch {
	case containsAny(text, resolutionMarkers):
		return fmt.Errorf("%w: %s", shared.ErrResolutionFailure, orDefault(reason, "no results for query"))
	case containsAny(text, conversionMarkers):
		return fmt.Errorf("%w: %s", shared.ErrConversionFailure, orDefault(reason, "audio conversion failed"))
	case containsAny(text, upstreamMarkers):
		return fmt.Errorf("%w: %s", shared.ErrUpstreamUnavailable, orDefault(reason, "source unavailable"))
	case err != nil:
		return fmt.Errorf("%w: %s", shared.ErrUpstreamUnavailable, orDefault(reason, err.Error()))
	default:
		return nil
	}
}

// lastError returns the last "ERROR:" line of yt-dlp's stderr without its prefix.
func lastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if rest, ok := strings.CutPrefix(line, "ERROR:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Tools reports the resolved paths of yt-dlp and ffmpeg, or "not found".
func Tools(executable string) (ytdlpPath, ffmpegPath string) {
	name := executable
	if name == "" {
		name = "yt-dlp"
	}
	return lookPath(name), lookPath("ffmpeg")
}

func lookPath(name string) string {
	p, err := exec.LookPath(name)
	if err != nil {
		return "not found"
	}
	return p
}
