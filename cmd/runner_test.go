package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/scratch"
	"github.com/desertthunder/rhythm/internal/server"
	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
	tu "github.com/desertthunder/rhythm/internal/testing"
)

func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	config := shared.DefaultConfig()
	config.Download.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	config.Database.Path = filepath.Join(t.TempDir(), "rhythm.db")
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return config
}

func newTestRunner(t *testing.T, opts RunnerOpts) (*Runner, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	if opts.Config == nil {
		opts.Config = testConfig(t)
	}
	if opts.Downloader == nil {
		opts.Downloader = &tu.MockDownloader{}
	}
	opts.Output = output
	opts.Logger = shared.NewLogger(io.Discard)
	return NewRunner(opts), output
}

func run(t *testing.T, r *Runner, args ...string) error {
	t.Helper()
	return newApp(r).Run(context.Background(), append([]string{"rhythm"}, args...))
}

// startServer runs the real HTTP service against a mock downloader.
func startServer(t *testing.T, dl *tu.MockDownloader) *httptest.Server {
	t.Helper()
	logger := shared.NewLogger(io.Discard)

	store, err := scratch.New(t.TempDir(), 10*time.Minute)
	if err != nil {
		t.Fatalf("scratch.New() error = %v", err)
	}
	manager, err := tasks.NewManager(tasks.ManagerOpts{
		Config:     shared.DownloadConfig{MaxConcurrent: 2, Format: "mp3"},
		Downloader: dl,
		Store:      store,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(manager.Close)

	ts := httptest.NewServer(server.New(server.Options{Manager: manager, Logger: logger}).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			api := &services.APIService{}
			dl := &tu.MockDownloader{}
			lookup := &tu.MockLookup{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/etc/rhythm.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				API:        api,
				Downloader: dl,
				Lookup:     lookup,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/etc/rhythm.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.api != api {
				t.Error("expected api to be set")
			}
			if runner.downloader != dl {
				t.Error("expected downloader to be set")
			}
			if runner.lookup != lookup {
				t.Error("expected lookup to be set")
			}
		})

		t.Run("defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.configPath != "config.toml" {
				t.Errorf("expected default config path, got %s", runner.configPath)
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.api == nil || runner.downloader == nil {
				t.Error("expected default API client and downloader")
			}
			if runner.lookup != nil {
				t.Error("expected no lookup without credentials")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})
			data := map[string]string{"key": "value"}

			if err := runner.writeJSON(data, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if expected := `{"key":"value"}` + "\n"; output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			// channels cannot be marshaled to JSON
			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
			if err := runner.writePlain("test"); err == nil {
				t.Fatal("expected error from failing writer")
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, want := range []string{"serve", "download", "sweep", "lookup", "setup", "remote"} {
			if !names[want] {
				t.Errorf("expected %s command to be registered", want)
			}
		}
	})
}

func TestDownloadCommand(t *testing.T) {
	t.Run("copies the file and cleans scratch", func(t *testing.T) {
		dl := &tu.MockDownloader{Body: "AUDIO"}
		runner, output := newTestRunner(t, RunnerOpts{Downloader: dl})
		outDir := t.TempDir()

		if err := run(t, runner, "download", "--output", outDir, "--format", "opus", "My Song"); err != nil {
			t.Fatalf("download error = %v", err)
		}

		if got := tu.MustReadFile(t, filepath.Join(outDir, "My Song.opus")); got != "AUDIO" {
			t.Errorf("unexpected file contents %q", got)
		}
		if !strings.Contains(output.String(), "My Song.opus") {
			t.Errorf("expected destination in output, got %q", output.String())
		}

		entries, _ := os.ReadDir(runner.config.Download.ScratchDir)
		if len(entries) != 0 {
			t.Errorf("expected scratch to be emptied, found %d entries", len(entries))
		}
	})

	t.Run("missing query", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})
		if err := run(t, runner, "download"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("downloader failure surfaces", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{Downloader: &tu.MockDownloader{Err: shared.ErrResolutionFailure}})
		if err := run(t, runner, "download", "--output", t.TempDir(), "nothing"); !errors.Is(err, shared.ErrResolutionFailure) {
			t.Errorf("expected ErrResolutionFailure, got %v", err)
		}
	})
}

func TestSweepCommand(t *testing.T) {
	runner, output := newTestRunner(t, RunnerOpts{})
	dir := runner.config.Download.ScratchDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	old := filepath.Join(dir, "old.mp3")
	fresh := filepath.Join(dir, "fresh.mp3")
	os.WriteFile(old, []byte("old"), 0644)
	os.WriteFile(fresh, []byte("fresh"), 0644)
	past := time.Now().Add(-11 * time.Minute)
	os.Chtimes(old, past, past)

	t.Run("dry run deletes nothing", func(t *testing.T) {
		if err := run(t, runner, "sweep", "--dry-run"); err != nil {
			t.Fatalf("sweep error = %v", err)
		}
		tu.AssertFileExists(t, old)
		if !strings.Contains(output.String(), "expired") {
			t.Errorf("expected expired marker, got %q", output.String())
		}
	})

	t.Run("removes only expired files", func(t *testing.T) {
		if err := run(t, runner, "sweep"); err != nil {
			t.Fatalf("sweep error = %v", err)
		}
		tu.AssertFileMissing(t, old)
		tu.AssertFileExists(t, fresh)
	})

	t.Run("prunes the track cache", func(t *testing.T) {
		if err := run(t, runner, "sweep", "--cache-max-age", "1h"); err != nil {
			t.Fatalf("sweep error = %v", err)
		}
		if !strings.Contains(output.String(), "Dropped 0 cached tracks") {
			t.Errorf("expected cache prune summary, got %q", output.String())
		}
	})
}

func TestLookupCommand(t *testing.T) {
	track := &models.Track{ID: "4uLU6hMCjMI75M1A2tKUQC", Title: "Never Gonna Give You Up", Artists: []string{"Rick Astley"}, Duration: 213}

	t.Run("prints metadata and caches it", func(t *testing.T) {
		lookup := &tu.MockLookup{Tracks: map[string]*models.Track{track.ID: track}}
		runner, output := newTestRunner(t, RunnerOpts{Lookup: lookup})

		for range 2 {
			if err := run(t, runner, "lookup", "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"); err != nil {
				t.Fatalf("lookup error = %v", err)
			}
		}
		if !strings.Contains(output.String(), "Rick Astley - Never Gonna Give You Up audio") {
			t.Errorf("expected search query in output, got %q", output.String())
		}
		if lookup.Calls() != 1 {
			t.Errorf("expected second lookup to come from the cache, calls = %d", lookup.Calls())
		}
	})

	t.Run("rejects plain text", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})
		if err := run(t, runner, "lookup", "just a song"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("requires credentials", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})
		if err := run(t, runner, "lookup", "spotify:track:4uLU6hMCjMI75M1A2tKUQC"); !errors.Is(err, shared.ErrUpstreamUnavailable) {
			t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
		}
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		runner, _ := newTestRunner(t, RunnerOpts{ConfigPath: path})

		if err := run(t, runner, "setup", "config"); err != nil {
			t.Fatalf("setup config error = %v", err)
		}
		if _, err := shared.LoadConfig(path); err != nil {
			t.Errorf("written config does not load: %v", err)
		}

		if err := run(t, runner, "setup", "config"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected existing file to be refused, got %v", err)
		}
		if err := run(t, runner, "setup", "config", "--force"); err != nil {
			t.Errorf("expected --force to overwrite, got %v", err)
		}
	})

	t.Run("database", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})

		if err := run(t, runner, "setup", "database"); err != nil {
			t.Fatalf("setup database error = %v", err)
		}
		tu.AssertFileExists(t, runner.config.Database.Path)

		if err := run(t, runner, "setup", "database", "--rollback"); err != nil {
			t.Errorf("rollback error = %v", err)
		}
	})
}

func TestRemoteCommands(t *testing.T) {
	ts := startServer(t, &tu.MockDownloader{Body: "AUDIO"})

	t.Run("ping", func(t *testing.T) {
		runner, output := newTestRunner(t, RunnerOpts{})
		if err := run(t, runner, "remote", "ping", "--server", ts.URL); err != nil {
			t.Fatalf("ping error = %v", err)
		}
		if !strings.Contains(output.String(), `"service": "rhythm"`) {
			t.Errorf("unexpected ping output %q", output.String())
		}
	})

	t.Run("fetch", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})
		outDir := t.TempDir()

		if err := run(t, runner, "remote", "fetch", "--server", ts.URL, "--output", outDir, "Remote Song"); err != nil {
			t.Fatalf("fetch error = %v", err)
		}
		if got := tu.MustReadFile(t, filepath.Join(outDir, "Remote Song.mp3")); got != "AUDIO" {
			t.Errorf("unexpected file contents %q", got)
		}
	})

	t.Run("fetch reports server errors", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})
		err := run(t, runner, "remote", "fetch", "--server", ts.URL, "--format", "aiff", "song")
		re, ok := services.AsRemoteError(err)
		if !ok || re.Code != models.CodeInvalidRequest {
			t.Errorf("expected INVALID_REQUEST, got %v", err)
		}
	})

	t.Run("start and wait", func(t *testing.T) {
		runner, output := newTestRunner(t, RunnerOpts{})
		if err := run(t, runner, "remote", "start", "--server", ts.URL, "--interval", "10ms", "Background Song"); err != nil {
			t.Fatalf("start error = %v", err)
		}
		if !strings.Contains(output.String(), "Background Song.mp3 is ready") {
			t.Errorf("unexpected output %q", output.String())
		}
	})

	t.Run("batch", func(t *testing.T) {
		runner, output := newTestRunner(t, RunnerOpts{})
		dir := t.TempDir()
		list := filepath.Join(dir, "queries.txt")
		os.WriteFile(list, []byte("# favourites\nfirst song\n\nsecond song\nthird song\n"), 0644)
		outDir := filepath.Join(dir, "out")

		if err := run(t, runner, "remote", "batch", "--server", ts.URL, "--output", outDir, "--manifest", "csv", list); err != nil {
			t.Fatalf("batch error = %v", err)
		}
		for _, name := range []string{"first song.mp3", "second song.mp3", "third song.mp3", "manifest.csv"} {
			tu.AssertFileExists(t, filepath.Join(outDir, name))
		}
		if !strings.Contains(output.String(), "Downloaded: 3/3") {
			t.Errorf("unexpected summary %q", output.String())
		}
	})

	t.Run("batch needs a file", func(t *testing.T) {
		runner, _ := newTestRunner(t, RunnerOpts{})
		if err := run(t, runner, "remote", "batch", "--server", ts.URL); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}
