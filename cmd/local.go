package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/formatter"
	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
)

// Download runs the pipeline locally and copies the result into --output.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: query is required", shared.ErrMissingArgument)
	}
	outDir := cmd.String("output")

	repo, closeDB, err := r.openCache()
	if err != nil {
		r.logger.Debug("track cache disabled", "error", err)
	}
	defer closeDB()

	manager, err := r.newManager(r.newResolver(repo))
	if err != nil {
		return err
	}
	defer manager.Close()

	r.writePlain("Downloading %s...\n", query)
	job, err := manager.Fetch(ctx, tasks.FetchRequest{Query: query, Format: cmd.String("format")})
	if err != nil {
		return err
	}
	defer manager.Store().Discard(job.ID())

	f, info, err := manager.OpenJob(job)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	dest := filepath.Join(outDir, job.Filename())
	if err := copyTo(dest, f); err != nil {
		return err
	}

	r.writePlain("%s\n", r.palette.OK("%s (%s)", dest, shared.FormatBytes(info.Size())))
	return nil
}

// Sweep deletes expired scratch files once, optionally pruning the track cache.
func (r *Runner) Sweep(ctx context.Context, cmd *cli.Command) error {
	store, err := r.newStore()
	if err != nil {
		return err
	}

	if cmd.Bool("dry-run") {
		entries, err := store.List()
		if err != nil {
			return err
		}
		r.writePlainHeader(fmt.Sprintf("Scratch: %s", store.Dir()))
		for _, e := range entries {
			age := store.Now().Sub(e.ModTime).Truncate(time.Second)
			line := fmt.Sprintf("%-48s %10s  age %s", e.Name, shared.FormatBytes(e.Size), age)
			if e.Expired {
				line = r.palette.Warn("%s  (expired)", line)
			}
			r.writePlain("%s\n", line)
		}
		r.writePlain("%d entries\n", len(entries))
		return nil
	}

	sweeper := tasks.NewSweeper(store, nil, 0, r.logger)
	res := sweeper.SweepOnce(store.Now())
	r.writePlain("%s\n", r.palette.OK("Removed %d of %d entries, freed %s", res.Removed, res.Scanned, shared.FormatBytes(res.Freed)))
	for _, err := range res.Errors {
		r.writePlain("%s\n", r.palette.Fail("%v", err))
	}

	if maxAge := cmd.Duration("cache-max-age"); maxAge > 0 {
		repo, closeDB, err := r.openCache()
		if err != nil {
			return err
		}
		defer closeDB()

		n, err := repo.DeleteOlderThan(time.Now().Add(-maxAge))
		if err != nil {
			return err
		}
		r.writePlain("%s\n", r.palette.OK("Dropped %d cached tracks", n))
	}
	return nil
}

// Lookup prints the metadata and search query for a Spotify track.
func (r *Runner) Lookup(ctx context.Context, cmd *cli.Command) error {
	id, ok := services.ParseSpotifyID(cmd.StringArg("track"))
	if !ok {
		return fmt.Errorf("%w: expected a Spotify track URL, URI or ID", shared.ErrInvalidInput)
	}

	repo, closeDB, err := r.openCache()
	if err != nil {
		r.logger.Debug("track cache disabled", "error", err)
	}
	defer closeDB()

	track, err := r.newResolver(repo).Lookup(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(track, true)
	}
	r.writePlain("%s", formatter.TrackToText(track))
	return nil
}

func copyTo(dest string, src io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}
