// package formatter renders batch download reports and track metadata (JSON, CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

// Formats lists the manifest formats accepted by [WriteBatchManifest].
var Formats = []string{"json", "csv", "markdown", "txt"}

// BatchToCSV converts a BatchReport to CSV with columns: Index, Query, Status, File, Size, JobID, Code, Error, Seconds
func BatchToCSV(report *models.BatchReport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Index", "Query", "Status", "File", "Size", "JobID", "Code", "Error", "Seconds"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, item := range report.Items {
		record := []string{
			strconv.Itoa(item.Index + 1),
			item.Query,
			statusWord(item.Success),
			item.File,
			strconv.FormatInt(item.Size, 10),
			item.JobID,
			string(item.Code),
			item.Error,
			strconv.FormatFloat(item.Duration.Seconds(), 'f', 1, 64),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// BatchToMarkdown converts a BatchReport to a Markdown summary with a results table
func BatchToMarkdown(report *models.BatchReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Batch download\n\n")
	if report.Server != "" {
		buf.WriteString(fmt.Sprintf("**Server**: %s\n", report.Server))
	}
	buf.WriteString(fmt.Sprintf("**Format**: %s\n", report.Format))
	buf.WriteString(fmt.Sprintf("**Downloaded**: %d of %d\n", report.Succeeded, report.Total))
	buf.WriteString(fmt.Sprintf("**Elapsed**: %s\n\n", elapsed(report)))

	buf.WriteString("| # | Query | Result | Size |\n")
	buf.WriteString("|---|-------|--------|------|\n")
	for _, item := range report.Items {
		result := "✗ " + item.Error
		size := "-"
		if item.Success {
			result = "✓ " + item.File
			size = shared.FormatBytes(item.Size)
		}
		buf.WriteString(fmt.Sprintf("| %d | %s | %s | %s |\n", item.Index+1, escapeCell(item.Query), escapeCell(result), size))
	}

	return buf.Bytes(), nil
}

// BatchToText converts a BatchReport to plain text, one line per query
func BatchToText(report *models.BatchReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Downloaded %d of %d (%d failed) in %s\n\n", report.Succeeded, report.Total, report.Failed, elapsed(report)))

	for _, item := range report.Items {
		if item.Success {
			buf.WriteString(fmt.Sprintf("%d. ✓ %s -> %s\n", item.Index+1, item.Query, item.File))
			continue
		}
		buf.WriteString(fmt.Sprintf("%d. ✗ %s: %s\n", item.Index+1, item.Query, item.Error))
	}

	return buf.Bytes(), nil
}

// WriteBatchManifest writes report into dir as manifest.{json,csv,md,txt} and returns the path.
func WriteBatchManifest(report *models.BatchReport, format, dir string) (string, error) {
	var (
		data []byte
		err  error
		ext  string
	)

	switch format {
	case "csv":
		data, err = BatchToCSV(report)
		ext = "csv"
	case "markdown", "md":
		data, err = BatchToMarkdown(report)
		ext = "md"
	case "txt":
		data, err = BatchToText(report)
		ext = "txt"
	case "json", "":
		data, err = shared.MarshalJSON(report, true)
		ext = "json"
	default:
		return "", fmt.Errorf("%w: unknown manifest format %q", shared.ErrInvalidInput, format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to render manifest: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(dir, "manifest."+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// TrackToText renders resolved track metadata for terminal output
func TrackToText(track *models.Track) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("Title:    %s\n", track.Title))
	buf.WriteString(fmt.Sprintf("Artist:   %s\n", track.Artist()))
	if track.Album != "" {
		buf.WriteString(fmt.Sprintf("Album:    %s\n", track.Album))
	}
	if track.Duration > 0 {
		buf.WriteString(fmt.Sprintf("Duration: %s\n", shared.FormatDuration(track.Duration)))
	}
	if track.ISRC != "" {
		buf.WriteString(fmt.Sprintf("ISRC:     %s\n", track.ISRC))
	}
	buf.WriteString(fmt.Sprintf("Search:   %s\n", track.SearchQuery()))

	return buf.String()
}

func statusWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func elapsed(report *models.BatchReport) string {
	if report.Finished.IsZero() || report.Started.IsZero() {
		return "-"
	}
	return report.Finished.Sub(report.Started).Round(time.Second).String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
