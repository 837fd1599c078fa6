package server

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
)

// maxBodyBytes bounds request bodies; a track query is a line of text.
const maxBodyBytes = 64 << 10

// DownloadHandler serves the synchronous and background download endpoints.
type DownloadHandler struct {
	manager *tasks.Manager
	logger  *log.Logger
}

// NewDownloadHandler creates a DownloadHandler backed by manager.
func NewDownloadHandler(manager *tasks.Manager, logger *log.Logger) *DownloadHandler {
	return &DownloadHandler{manager: manager, logger: logger}
}

func (h *DownloadHandler) Routes() []Route {
	return []Route{
		{http.MethodPost, "/download", h.Download},
		{http.MethodPost, "/download/start", h.Start},
		{http.MethodGet, "/download/status/{id}", h.Status},
		{http.MethodGet, "/download/file/{id}", h.File},
	}
}

// downloadBody is the JSON request body. spotify_url is accepted as an alias of track_query.
type downloadBody struct {
	TrackQuery string `json:"track_query"`
	SpotifyURL string `json:"spotify_url"`
	Format     string `json:"format"`
}

// Download runs the pipeline within the request and streams the file back.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	req, err := parseFetchRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.manager.Fetch(r.Context(), req)
	if err != nil {
		if job != nil {
			w.Header().Set("X-Job-ID", job.ID())
		}
		writeError(w, err)
		return
	}

	f, info, err := h.manager.OpenJob(job)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	serveAudio(w, r, job, f, info)
}

// Start accepts a background job.
func (h *DownloadHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, err := parseFetchRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.manager.Start(req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.ID(),
		"status_url": "/download/status/" + job.ID(),
		"file_url":   "/download/file/" + job.ID(),
	})
}

// Status reports a job's progress.
func (h *DownloadHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// File streams the file of a finished background job.
func (h *DownloadHandler) File(w http.ResponseWriter, r *http.Request) {
	f, info, job, err := h.manager.Open(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	serveAudio(w, r, job, f, info)
}

func serveAudio(w http.ResponseWriter, r *http.Request, job *models.DownloadJob, f *os.File, info fs.FileInfo) {
	h := w.Header()
	h.Set("Content-Type", job.Format().ContentType())
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": job.Filename()}))
	h.Set("X-Job-ID", job.ID())
	h.Set("Cache-Control", "no-store")

	http.ServeContent(w, r, job.Filename(), info.ModTime(), f)
}

// parseFetchRequest reads the query and format from a JSON body, a form body, or the URL query.
func parseFetchRequest(w http.ResponseWriter, r *http.Request) (tasks.FetchRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body downloadBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			return tasks.FetchRequest{}, fmt.Errorf("%w: malformed JSON body: %v", shared.ErrInvalidRequest, err)
		}
		query := body.TrackQuery
		if strings.TrimSpace(query) == "" {
			query = body.SpotifyURL
		}
		return tasks.FetchRequest{Query: query, Format: body.Format}, nil
	}

	if err := r.ParseForm(); err != nil {
		return tasks.FetchRequest{}, fmt.Errorf("%w: %v", shared.ErrInvalidRequest, err)
	}
	query := firstNonEmpty(r.Form.Get("track_query"), r.Form.Get("q"), r.Form.Get("spotify_url"))
	return tasks.FetchRequest{Query: query, Format: r.Form.Get("format")}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
