// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/rhythm/internal/downloader"
	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

// MockDownloader is a test double for [downloader.Downloader].
//
// It writes Body (or the query when Body is empty) to "<n>.<ext>" in the request's work dir.
type MockDownloader struct {
	Err   error         // returned instead of producing a file
	Body  string        // file contents
	Delay time.Duration // simulated run time, cut short by ctx
	Gate  chan struct{} // when set, every call waits for it to close

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
	queries   []string
}

func (m *MockDownloader) Download(ctx context.Context, req downloader.Request) (*downloader.Result, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.active++
	m.maxActive = max(m.maxActive, m.active)
	m.queries = append(m.queries, req.Query)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: request cancelled", shared.ErrUpstreamUnavailable)
		}
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: request cancelled", shared.ErrUpstreamUnavailable)
		}
	}

	if req.Progress != nil {
		req.Progress(0.5, "Mock Title")
	}

	if m.Err != nil {
		return nil, m.Err
	}

	body := m.Body
	if body == "" {
		body = req.Query
	}
	path := filepath.Join(req.WorkDir, fmt.Sprintf("%d%s", n, req.Format.Ext()))
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}
	return &downloader.Result{Path: path, Title: "Mock Title"}, nil
}

// Calls returns how many times Download was invoked.
func (m *MockDownloader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MaxActive returns the highest number of overlapping Download calls seen.
func (m *MockDownloader) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Queries returns the queries passed to Download, in call order.
func (m *MockDownloader) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// MockLookup is a test double for [services.TrackLookup]
type MockLookup struct {
	Tracks map[string]*models.Track
	Err    error

	mu    sync.Mutex
	calls int
}

func (m *MockLookup) Name() string { return "spotify" }

func (m *MockLookup) Track(ctx context.Context, id string) (*models.Track, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if t, ok := m.Tracks[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, id)
}

func (m *MockLookup) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

var _ io.ReadCloser = (*FCloser)(nil)

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertFileMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("File should not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
