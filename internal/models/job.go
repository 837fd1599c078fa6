package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is a step of the [DownloadJob] state machine.
type Status string

const (
	StatusRequested Status = "queued"
	StatusResolving Status = "downloading"
	StatusReady     Status = "done"
	StatusFailed    Status = "error"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusExpired
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRequested:
		return next == StatusResolving || next == StatusFailed
	case StatusResolving:
		return next == StatusReady || next == StatusFailed
	case StatusReady:
		return next == StatusExpired
	default:
		return false
	}
}

// Format is an output audio format understood by the external downloader.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatM4A  Format = "m4a"
	FormatOpus Format = "opus"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
)

var contentTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatM4A:  "audio/mp4",
	FormatOpus: "audio/ogg",
	FormatFLAC: "audio/flac",
	FormatWAV:  "audio/wav",
}

// ParseFormat normalizes s into a [Format], defaulting to fallback when s is empty.
func ParseFormat(s string, fallback Format) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, ".")))
	if s == "" {
		return fallback, nil
	}
	f := Format(s)
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("unsupported format %q", s)
	}
	return f, nil
}

// ContentType returns the MIME type served for files of this format.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Ext returns the file extension including the leading dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// DownloadJob is one track query resolved into one audio file in scratch storage.
//
// Jobs are never persisted. A job is written by exactly one pipeline goroutine
// and read by HTTP handlers, so all access goes through the accessor methods.
type DownloadJob struct {
	mu sync.RWMutex

	id         string
	trackQuery string
	format     Format
	status     Status
	progress   float64
	message    string
	filePath   string
	filename   string
	track      *Track
	code       Code
	err        string
	requested  time.Time
	createdAt  time.Time
	servedN    int
}

// NewDownloadJob creates a job in the Requested state.
func NewDownloadJob(id, query string, format Format, now time.Time) *DownloadJob {
	return &DownloadJob{
		id:         id,
		trackQuery: query,
		format:     format,
		status:     StatusRequested,
		message:    "Queued…",
		requested:  now,
	}
}

func (j *DownloadJob) ID() string { return j.id }
func (j *DownloadJob) TrackQuery() string { return j.trackQuery }
func (j *DownloadJob) Format() Format { return j.format }

// RequestedAt returns when the job was accepted.
func (j *DownloadJob) RequestedAt() time.Time { return j.requested }

func (j *DownloadJob) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *DownloadJob) FilePath() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.filePath
}

func (j *DownloadJob) Filename() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.filename
}

// CreatedAt returns when the job's file was created; zero until the job is Ready.
func (j *DownloadJob) CreatedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.createdAt
}

func (j *DownloadJob) Track() *Track {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.track
}

// Served returns how many times the file was handed to a caller.
func (j *DownloadJob) Served() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.servedN
}

// SetTrack records resolved metadata for the query.
func (j *DownloadJob) SetTrack(t *Track) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.track = t
}

// Progress updates the progress percentage and message of a job in flight.
//
// Updates on a job that already left Resolving are dropped.
func (j *DownloadJob) Progress(pct float64, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusResolving {
		return
	}
	if pct > j.progress {
		j.progress = min(pct, 99)
	}
	if message != "" {
		j.message = message
	}
}

// Resolving moves the job from Requested to Resolving.
func (j *DownloadJob) Resolving() error {
	return j.transition(StatusResolving, func() {
		j.message = "Finding audio source…"
		j.progress = 10
	})
}

// Ready marks the job complete with its final file.
func (j *DownloadJob) Ready(path, filename string, createdAt time.Time) error {
	return j.transition(StatusReady, func() {
		j.filePath = path
		j.filename = filename
		j.createdAt = createdAt
		j.progress = 100
		j.message = "Ready"
	})
}

// Fail marks the job failed with a reason code and human-readable message.
func (j *DownloadJob) Fail(code Code, reason string) error {
	return j.transition(StatusFailed, func() {
		j.code = code
		j.err = reason
		j.message = "Failed"
	})
}

// Expire marks a Ready job as expired; its file must no longer be served.
func (j *DownloadJob) Expire() error {
	return j.transition(StatusExpired, func() {
		j.message = "Expired"
	})
}

// MarkServed counts one delivery of the job's file.
func (j *DownloadJob) MarkServed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.servedN++
}

// IsExpired reports whether a Ready job's file is at least retention old at now.
func (j *DownloadJob) IsExpired(now time.Time, retention time.Duration) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.status == StatusExpired {
		return true
	}
	if j.status != StatusReady {
		return false
	}
	return now.Sub(j.createdAt) >= retention
}

func (j *DownloadJob) transition(next Status, apply func()) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.CanTransition(next) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", j.id, j.status, next)
	}
	j.status = next
	apply()
	return nil
}

// JobSnapshot is the JSON view of a [DownloadJob] returned by the status endpoint.
type JobSnapshot struct {
	ID       string  `json:"id"`
	Query    string  `json:"track_query"`
	Format   Format  `json:"format"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Filename string  `json:"filename,omitempty"`
	Code     Code    `json:"code,omitempty"`
	Error    string  `json:"error,omitempty"`
	Track    *Track  `json:"track,omitempty"`
}

// Snapshot returns a consistent copy of the job for serialization.
func (j *DownloadJob) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobSnapshot{
		ID:       j.id,
		Query:    j.trackQuery,
		Format:   j.format,
		Status:   j.status,
		Progress: j.progress,
		Message:  j.message,
		Filename: j.filename,
		Code:     j.code,
		Error:    j.err,
		Track:    j.track,
	}
}
