package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

func TestSearchTarget(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"Rick Astley - Never Gonna Give You Up audio", "ytsearch1:Rick Astley - Never Gonna Give You Up audio"},
		{"  padded  ", "ytsearch1:padded"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"http://example.com/a", "http://example.com/a"},
	}

	for _, tt := range tests {
		if got := SearchTarget(tt.query); got != tt.want {
			t.Errorf("SearchTarget(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestFindAudio(t *testing.T) {
	t.Run("requested format", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "abc.webm"), []byte("src"), 0644)
		os.WriteFile(filepath.Join(dir, "abc.mp3"), []byte("out"), 0644)

		got, err := FindAudio(dir, models.FormatMP3)
		if err != nil {
			t.Fatalf("FindAudio() error = %v", err)
		}
		if filepath.Base(got) != "abc.mp3" {
			t.Errorf("got %s, want abc.mp3", got)
		}
	})

	t.Run("only source left behind", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "abc.webm"), []byte("src"), 0644)

		if _, err := FindAudio(dir, models.FormatMP3); !errors.Is(err, shared.ErrConversionFailure) {
			t.Errorf("expected ErrConversionFailure, got %v", err)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		if _, err := FindAudio(t.TempDir(), models.FormatMP3); !errors.Is(err, shared.ErrResolutionFailure) {
			t.Errorf("expected ErrResolutionFailure, got %v", err)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, err := FindAudio(filepath.Join(t.TempDir(), "nope"), models.FormatMP3); !errors.Is(err, shared.ErrStorage) {
			t.Errorf("expected ErrStorage, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	runErr := errors.New("exit status 1")

	tests := []struct {
		name   string
		err    error
		stderr string
		want   error
	}{
		{"no results", runErr, "ERROR: [youtube:search] no video results", shared.ErrResolutionFailure},
		{"unsupported url", runErr, "ERROR: Unsupported URL: https://example.com", shared.ErrResolutionFailure},
		{"unavailable", runErr, "ERROR: [youtube] abc: Video unavailable", shared.ErrResolutionFailure},
		{"ffmpeg missing", runErr, "ERROR: Postprocessing: ffprobe and ffmpeg not found", shared.ErrConversionFailure},
		{"conversion", runErr, "ERROR: audio conversion failed: Invalid data", shared.ErrConversionFailure},
		{"network", runErr, "ERROR: Unable to download webpage: <urlopen error timed out>", shared.ErrUpstreamUnavailable},
		{"http error", runErr, "ERROR: unable to download video data: HTTP Error 403: Forbidden", shared.ErrUpstreamUnavailable},
		{"unknown failure", runErr, "something odd", shared.ErrUpstreamUnavailable},
		{"not installed", fmt.Errorf("start: %w", os.ErrNotExist), "", shared.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(context.Background(), tt.err, tt.stderr)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("reason is taken from last ERROR line", func(t *testing.T) {
		got := Classify(context.Background(), runErr, "[youtube] x: Downloading\nERROR: first\nERROR: [youtube] x: Video unavailable\n")
		want := "no matching source found: [youtube] x: Video unavailable"
		if got.Error() != want {
			t.Errorf("got %q, want %q", got.Error(), want)
		}
	})

	t.Run("clean run", func(t *testing.T) {
		if got := Classify(context.Background(), nil, "[download] 100%"); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		got := Classify(ctx, runErr, "")
		if !errors.Is(got, shared.ErrUpstreamUnavailable) {
			t.Errorf("expected ErrUpstreamUnavailable, got %v", got)
		}
	})
}

// fakeYTDLP writes a shell script that stands in for yt-dlp. It creates "<id>.<ext>" next to the
// --output template, or prints stderr and fails when fail is non-empty.
func fakeYTDLP(t *testing.T, ext, fail string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}

	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output|-o) out="$2"; shift ;;
    --output=*) out="${1#--output=}" ;;
    --version) echo "2025.01.01"; exit 0 ;;
  esac
  shift
done
`
	if fail != "" {
		script += fmt.Sprintf("echo %q >&2\nexit 1\n", fail)
	} else {
		script += fmt.Sprintf("touch \"$(dirname \"$out\")/dQw4w9WgXcQ.%s\"\n", ext)
	}

	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake: %v", err)
	}
	return path
}

func newTestYTDLP(executable string) *YTDLP {
	return NewYTDLP(shared.DownloadConfig{
		Executable: executable,
		Timeout:    shared.Duration{Duration: 30 * time.Second},
	}, shared.NewLogger(io.Discard))
}

func TestYTDLPDownload(t *testing.T) {
	t.Run("empty query is rejected without running", func(t *testing.T) {
		y := newTestYTDLP(filepath.Join(t.TempDir(), "missing"))
		_, err := y.Download(context.Background(), Request{Query: "   ", Format: models.FormatMP3, WorkDir: t.TempDir()})
		if !errors.Is(err, shared.ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("produces requested file", func(t *testing.T) {
		y := newTestYTDLP(fakeYTDLP(t, "mp3", ""))
		dir := t.TempDir()

		res, err := y.Download(context.Background(), Request{Query: "rick astley", Format: models.FormatMP3, WorkDir: dir})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if res.Path != filepath.Join(dir, "dQw4w9WgXcQ.mp3") {
			t.Errorf("unexpected path %s", res.Path)
		}
	})

	t.Run("tool failure is classified", func(t *testing.T) {
		y := newTestYTDLP(fakeYTDLP(t, "", "ERROR: [youtube:search] no video results"))

		_, err := y.Download(context.Background(), Request{Query: "zzzz", Format: models.FormatMP3, WorkDir: t.TempDir()})
		if !errors.Is(err, shared.ErrResolutionFailure) {
			t.Errorf("expected ErrResolutionFailure, got %v", err)
		}
	})

	t.Run("wrong format produced", func(t *testing.T) {
		y := newTestYTDLP(fakeYTDLP(t, "webm", ""))

		_, err := y.Download(context.Background(), Request{Query: "x", Format: models.FormatMP3, WorkDir: t.TempDir()})
		if !errors.Is(err, shared.ErrConversionFailure) {
			t.Errorf("expected ErrConversionFailure, got %v", err)
		}
	})
}

func TestTools(t *testing.T) {
	ytdlpPath, _ := Tools(filepath.Join(t.TempDir(), "definitely-missing-yt-dlp"))
	if ytdlpPath != "not found" {
		t.Errorf("expected not found, got %s", ytdlpPath)
	}
}
