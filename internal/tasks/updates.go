package tasks

import (
	"fmt"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
	Failed  bool   // The step reported an error
}

// Operation phase enumeration
type Phase int

const (
	FetchTrack Phase = iota
	SaveTrack
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case FetchTrack:
		return "fetch_track"
	case SaveTrack:
		return "save_track"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchingUpdate(step, total int, query string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchTrack,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching: %s...", step, total, query),
	}
}

func savedUpdate(step, total int, item models.BatchItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveTrack,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%s)", step, total, item.File, shared.FormatBytes(item.Size)),
		Data:    item,
	}
}

func failedUpdate(step, total int, item models.BatchItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveTrack,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, item.Query, item.Error),
		Data:    item,
		Failed:  true,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Manifest written to %s", path),
	}
}
