package models

import "time"

// BatchItem is the outcome of fetching one query in a batch.
type BatchItem struct {
	Index    int           `json:"index"`
	Query    string        `json:"query"`
	Success  bool          `json:"success"`
	File     string        `json:"file,omitempty"`
	Size     int64         `json:"size,omitempty"`
	JobID    string        `json:"job_id,omitempty"`
	Code     Code          `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BatchReport summarizes a batch fetch for the manifest.
type BatchReport struct {
	Server    string      `json:"server"`
	Format    Format      `json:"format"`
	OutputDir string      `json:"output_dir"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Started   time.Time   `json:"started"`
	Finished  time.Time   `json:"finished"`
	Items     []BatchItem `json:"items"`
}
