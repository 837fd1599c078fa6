package server

import (
	"net/http"

	"github.com/desertthunder/rhythm/internal/downloader"
	"github.com/desertthunder/rhythm/internal/tasks"
)

// HealthHandler reports liveness, tool availability and download capacity.
type HealthHandler struct {
	manager    *tasks.Manager
	executable string
}

func NewHealthHandler(manager *tasks.Manager, executable string) *HealthHandler {
	return &HealthHandler{manager: manager, executable: executable}
}

func (h *HealthHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/ping", h.Health},
		{http.MethodGet, "/health", h.Health},
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ytdlpPath, ffmpegPath := downloader.Tools(h.executable)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"service":  "rhythm",
		"ytdlp":    ytdlpPath,
		"ffmpeg":   ffmpegPath,
		"active":   h.manager.Active(),
		"capacity": h.manager.Capacity(),
	})
}
