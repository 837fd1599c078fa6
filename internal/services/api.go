// API client for a running rhythm server
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

// APIService makes requests against the rhythm HTTP API.
type APIService struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIService creates a new API service instance for a rhythm server.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// RemoteError is a structured error body returned by the server.
type RemoteError struct {
	StatusCode int         `json:"-"`
	Code       models.Code `json:"code"`
	Message    string      `json:"error"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Unwrap exposes [shared.ErrAPIRequest] so callers can match any server-side failure.
func (e *RemoteError) Unwrap() error { return shared.ErrAPIRequest }

// Transient reports whether the request may succeed if retried later.
func (e *RemoteError) Transient() bool {
	return e.Code.Transient() || e.StatusCode >= 500
}

// Download is an audio file streamed back from the server. Callers must close Body.
type Download struct {
	JobID       string
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// StartResponse is returned when a background job is accepted.
type StartResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	FileURL   string `json:"file_url"`
}

type fetchRequest struct {
	TrackQuery string `json:"track_query"`
	Format     string `json:"format,omitempty"`
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return a.raw(req)
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.raw(req)
}

func (a *APIService) raw(req *http.Request) (*APIResponse, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}

	var jsonData any
	if err := json.Unmarshal(body, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

// Ping checks server liveness and returns the decoded health document.
func (a *APIService) Ping(ctx context.Context) (map[string]any, error) {
	resp, err := a.Get(ctx, "/ping")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeRemoteError(resp.StatusCode, resp.Body)
	}
	health, ok := resp.JSONData.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected ping response", shared.ErrAPIRequest)
	}
	return health, nil
}

// Fetch requests a download and returns the streamed file. The server holds the
// connection open until the file is ready, so ctx should carry a generous deadline.
func (a *APIService) Fetch(ctx context.Context, query, format string) (*Download, error) {
	data, err := json.Marshal(fetchRequest{TrackQuery: query, Format: format})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/download", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.stream(req)
}

// File downloads the file of a finished background job.
func (a *APIService) File(ctx context.Context, jobID string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/download/file/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return a.stream(req)
}

// stream performs req and hands back the response body when it carries a file.
func (a *APIService) stream(req *http.Request) (*Download, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, decodeRemoteError(resp.StatusCode, body)
	}

	return &Download{
		JobID:       resp.Header.Get("X-Job-ID"),
		Filename:    attachmentName(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
		Body:        resp.Body,
	}, nil
}

// Start submits a background job.
func (a *APIService) Start(ctx context.Context, query, format string) (*StartResponse, error) {
	data, err := json.Marshal(fetchRequest{TrackQuery: query, Format: format})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := a.Post(ctx, "/download/start", data)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, decodeRemoteError(resp.StatusCode, resp.Body)
	}

	var out StartResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Status polls a background job.
func (a *APIService) Status(ctx context.Context, jobID string) (*models.JobSnapshot, error) {
	resp, err := a.Get(ctx, "/download/status/"+url.PathEscape(jobID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeRemoteError(resp.StatusCode, resp.Body)
	}

	var snap models.JobSnapshot
	if err := json.Unmarshal(resp.Body, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &snap, nil
}

func decodeRemoteError(status int, body []byte) error {
	re := &RemoteError{StatusCode: status}
	if err := json.Unmarshal(body, re); err != nil || re.Message == "" {
		re.Message = strings.TrimSpace(string(body))
		if re.Message == "" {
			re.Message = http.StatusText(status)
		}
	}
	return re
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// AsRemoteError unwraps err into a [RemoteError] when it came from the server.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}
