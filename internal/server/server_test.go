package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/scratch"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
	tu "github.com/desertthunder/rhythm/internal/testing"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	server  *httptest.Server
	manager *tasks.Manager
	dl      *tu.MockDownloader
	clock   *clock
}

func newTestEnv(t *testing.T, dl *tu.MockDownloader, origins ...string) *testEnv {
	t.Helper()

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := scratch.New(t.TempDir(), 10*time.Minute, scratch.WithClock(c.Now))
	if err != nil {
		t.Fatalf("scratch.New() error = %v", err)
	}

	logger := shared.NewLogger(io.Discard)
	m, err := tasks.NewManager(tasks.ManagerOpts{
		Config: shared.DownloadConfig{
			MaxConcurrent:  2,
			AcquireTimeout: shared.Duration{Duration: 50 * time.Millisecond},
			Format:         "mp3",
		},
		Downloader: dl,
		Store:      store,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)

	srv := New(Options{
		Config:     shared.ServerConfig{Host: "127.0.0.1", Port: 5000, AllowedOrigins: origins},
		Manager:    m,
		Executable: "rhythm-test-missing-yt-dlp",
		Logger:     logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, manager: m, dl: dl, clock: c}
}

func (e *testEnv) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestDownload(t *testing.T) {
	t.Run("streams the converted file", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{Body: "ID3AUDIO"})

		resp := env.postJSON(t, "/download", `{"track_query": "Rick Astley - Never Gonna Give You Up", "format": "mp3"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
			t.Errorf("unexpected Content-Type %q", ct)
		}

		_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
		if err != nil || params["filename"] != "Rick Astley - Never Gonna Give You Up.mp3" {
			t.Errorf("unexpected Content-Disposition %q", resp.Header.Get("Content-Disposition"))
		}
		if resp.Header.Get("X-Job-ID") == "" {
			t.Error("expected X-Job-ID header")
		}

		body, _ := io.ReadAll(resp.Body)
		if string(body) != "ID3AUDIO" {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("accepts form and query parameters", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})

		resp, err := http.PostForm(env.server.URL+"/download", url.Values{"q": {"form song"}, "format": {"flac"}})
		if err != nil {
			t.Fatalf("PostForm error = %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/flac" {
			t.Errorf("unexpected response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
		}

		resp2, err := http.Post(env.server.URL+"/download?q=query+song", "", nil)
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			t.Errorf("expected 200 for query parameter, got %d", resp2.StatusCode)
		}
		if got := env.dl.Queries(); len(got) != 2 || got[1] != "query song" {
			t.Errorf("unexpected queries %v", got)
		}
	})

	t.Run("empty query is rejected before any download", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})

		resp := env.postJSON(t, "/download", `{"track_query": "   "}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
		if body := decodeError(t, resp); body.Code != models.CodeInvalidRequest || body.Error == "" {
			t.Errorf("unexpected error body %+v", body)
		}
		if env.dl.Calls() != 0 {
			t.Errorf("expected no downloader calls, got %d", env.dl.Calls())
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})
		resp := env.postJSON(t, "/download", `{"track_query": `)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("failures carry their reason code", func(t *testing.T) {
		tests := []struct {
			name   string
			err    error
			status int
			code   models.Code
		}{
			{"resolution", shared.ErrResolutionFailure, http.StatusNotFound, models.CodeNotFound},
			{"conversion", shared.ErrConversionFailure, http.StatusUnprocessableEntity, models.CodeConversionFailed},
			{"upstream", shared.ErrUpstreamUnavailable, http.StatusBadGateway, models.CodeUpstreamError},
			{"storage", shared.ErrStorage, http.StatusInternalServerError, models.CodeStorageError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := newTestEnv(t, &tu.MockDownloader{Err: tt.err})

				resp := env.postJSON(t, "/download", `{"track_query": "song"}`)
				if resp.StatusCode != tt.status {
					t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
				}
				if body := decodeError(t, resp); body.Code != tt.code {
					t.Errorf("expected code %s, got %s", tt.code, body.Code)
				}
			})
		}
	})

	t.Run("busy server answers 503", func(t *testing.T) {
		gate := make(chan struct{})
		defer close(gate)
		env := newTestEnv(t, &tu.MockDownloader{Gate: gate})

		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := http.Post(env.server.URL+"/download", "application/json", strings.NewReader(`{"track_query": "slow"}`))
				if err == nil {
					resp.Body.Close()
				}
			}()
		}
		for env.dl.Calls() < 2 {
			time.Sleep(time.Millisecond)
		}

		resp := env.postJSON(t, "/download", `{"track_query": "third"}`)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", resp.StatusCode)
		}
		if resp.Header.Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
		if body := decodeError(t, resp); body.Code != models.CodeServerBusy {
			t.Errorf("expected SERVER_BUSY, got %s", body.Code)
		}

		gate <- struct{}{}
		gate <- struct{}{}
		wg.Wait()
	})

	t.Run("wrong method", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})
		resp := env.get(t, "/download")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestBackgroundDownload(t *testing.T) {
	t.Run("start, poll and fetch", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{Body: "OPUS"})

		resp := env.postJSON(t, "/download/start", `{"spotify_url": "plain text song", "format": "opus"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}
		var started map[string]string
		json.NewDecoder(resp.Body).Decode(&started)
		id := started["job_id"]
		if id == "" || started["status_url"] != "/download/status/"+id || started["file_url"] != "/download/file/"+id {
			t.Fatalf("unexpected start response %v", started)
		}

		var snap models.JobSnapshot
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			r := env.get(t, started["status_url"])
			json.NewDecoder(r.Body).Decode(&snap)
			if snap.Status == models.StatusReady {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if snap.Status != models.StatusReady || snap.Progress != 100 {
			t.Fatalf("job never became ready: %+v", snap)
		}

		file := env.get(t, started["file_url"])
		if file.StatusCode != http.StatusOK || file.Header.Get("Content-Type") != "audio/ogg" {
			t.Errorf("unexpected file response %d %q", file.StatusCode, file.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(file.Body)
		if string(body) != "OPUS" {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("file is not ready while running", func(t *testing.T) {
		gate := make(chan struct{})
		defer close(gate)
		env := newTestEnv(t, &tu.MockDownloader{Gate: gate})

		job, err := env.manager.Start(tasks.FetchRequest{Query: "song"})
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		resp := env.get(t, "/download/file/"+job.ID())
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
		if body := decodeError(t, resp); body.Code != models.CodeNotReady {
			t.Errorf("expected NOT_READY, got %s", body.Code)
		}
	})

	t.Run("expired file answers 410", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})

		resp := env.postJSON(t, "/download", `{"track_query": "song"}`)
		id := resp.Header.Get("X-Job-ID")

		env.clock.Advance(10 * time.Minute)
		file := env.get(t, "/download/file/"+id)
		if file.StatusCode != http.StatusGone {
			t.Errorf("expected 410, got %d", file.StatusCode)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})

		for _, path := range []string{"/download/status/missing", "/download/file/missing"} {
			resp := env.get(t, path)
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
			}
		}
	})

	t.Run("invalid start request", func(t *testing.T) {
		env := newTestEnv(t, &tu.MockDownloader{})
		resp := env.postJSON(t, "/download/start", `{"track_query": "song", "format": "aiff"}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &tu.MockDownloader{})

	for _, path := range []string{"/ping", "/health"} {
		t.Run(path, func(t *testing.T) {
			resp := env.get(t, path)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}

			var body map[string]any
			json.NewDecoder(resp.Body).Decode(&body)
			if body["ok"] != true || body["service"] != "rhythm" {
				t.Errorf("unexpected body %v", body)
			}
			if body["ytdlp"] != "not found" {
				t.Errorf("expected missing yt-dlp to be reported, got %v", body["ytdlp"])
			}
			if body["capacity"] != float64(2) || body["active"] != float64(0) {
				t.Errorf("unexpected capacity fields %v", body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &tu.MockDownloader{})
	env.get(t, "/ping")

	deadline := time.Now().Add(time.Second)
	for {
		resp := env.get(t, "/metrics")
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(body), "rhythm_http_requests_total") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected HTTP request metrics in exposition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
