package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
)

// RemotePing prints the server's health report.
func (r *Runner) RemotePing(ctx context.Context, cmd *cli.Command) error {
	health, err := r.remote(cmd).Ping(ctx)
	if err != nil {
		return err
	}
	return r.writeJSON(health, true)
}

// RemoteFetch downloads one query through the server into --output.
func (r *Runner) RemoteFetch(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: query is required", shared.ErrMissingArgument)
	}

	r.writePlain("Fetching %s...\n", query)
	dl, err := r.remote(cmd).Fetch(ctx, query, cmd.String("format"))
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	return r.saveDownload(dl, cmd.String("output"), query, cmd.String("format"))
}

// RemoteStart submits a background job and, with --wait, follows it to completion.
func (r *Runner) RemoteStart(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: query is required", shared.ErrMissingArgument)
	}
	api := r.remote(cmd)

	started, err := api.Start(ctx, query, cmd.String("format"))
	if err != nil {
		return err
	}
	r.writePlain("Job %s accepted\n", started.JobID)
	if !cmd.Bool("wait") {
		return r.writeJSON(started, true)
	}

	ticker := time.NewTicker(cmd.Duration("interval"))
	defer ticker.Stop()

	for {
		snap, err := api.Status(ctx, started.JobID)
		if err != nil {
			return err
		}
		r.writePlain("%s %s %s\n", r.palette.Progress(snap.Progress, 20), r.palette.Status(snap.Status), snap.Message)

		switch snap.Status {
		case models.StatusReady:
			r.writePlain("%s\n", r.palette.OK("%s is ready at %s", snap.Filename, started.FileURL))
			return nil
		case models.StatusFailed:
			return &services.RemoteError{Code: snap.Code, Message: snap.Error}
		case models.StatusExpired:
			return fmt.Errorf("%w: job %s", shared.ErrExpired, started.JobID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RemoteBatch downloads every query in a file with bounded concurrency.
func (r *Runner) RemoteBatch(ctx context.Context, cmd *cli.Command) error {
	queries, err := readQueries(cmd.StringArg("file"))
	if err != nil {
		return err
	}

	api := r.remote(cmd)
	opts := tasks.BatchOpts{
		Server:         cmd.String("server"),
		Format:         cmd.String("format"),
		OutputDir:      cmd.String("output"),
		Concurrency:    cmd.Int("concurrency"),
		RateLimit:      cmd.Float("rate-limit"),
		ManifestFormat: cmd.String("manifest"),
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			switch {
			case update.Failed:
				r.writePlain("%s\n", r.palette.Fail("%s", update.Message))
			case update.Phase == tasks.SaveTrack:
				r.writePlain("%s\n", r.palette.OK("%s", update.Message))
			default:
				r.writePlain("%s\n", update.Message)
			}
		}
	}()

	report, err := tasks.RunBatch(ctx, progressCh, api, queries, opts)
	close(progressCh)
	<-done

	if report != nil {
		r.writePlain("\n")
		r.writePlainHeader("Batch Complete")
		r.writePlain("Downloaded: %d/%d\n", report.Succeeded, report.Total)
		r.writePlain("Output: %s\n", report.OutputDir)
		if report.Failed > 0 {
			r.writePlain("%s\n", r.palette.Warn("Failed: %d (see manifest)", report.Failed))
		}
	}
	return err
}

func (r *Runner) saveDownload(dl *services.Download, dir, query, format string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	name := filepath.Base(dl.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = shared.SafeFilename(query, 80, "track") + "." + format
	}
	dest := filepath.Join(dir, name)

	if err := copyTo(dest, dl.Body); err != nil {
		return err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return err
	}
	r.writePlain("%s\n", r.palette.OK("%s (%s)", dest, shared.FormatBytes(info.Size())))
	return nil
}

// readQueries reads one query per line from path, or stdin for "-".
func readQueries(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: query file is required", shared.ErrMissingArgument)
	}

	var src io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open query file: %w", err)
		}
		defer f.Close()
		src = f
	}

	var queries []string
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		queries = append(queries, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	return queries, nil
}
