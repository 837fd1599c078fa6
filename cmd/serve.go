package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/downloader"
	"github.com/desertthunder/rhythm/internal/metrics"
	"github.com/desertthunder/rhythm/internal/server"
	"github.com/desertthunder/rhythm/internal/tasks"
)

// Serve runs the HTTP service and the retention sweeper until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if port := cmd.Int("port"); port > 0 {
		r.config.Server.Port = port
	}
	metrics.MustRegister()

	repo, closeDB, err := r.openCache()
	if err != nil {
		r.logger.Warn("track cache disabled", "error", err)
	}
	defer closeDB()

	ytdlpPath, ffmpegPath := downloader.Tools(r.config.Download.Executable)
	r.logger.Info("external tools", "yt-dlp", ytdlpPath, "ffmpeg", ffmpegPath)
	if ytdlpPath == "not found" {
		r.logger.Warn("yt-dlp is not installed; every download will fail until it is")
	}
	if r.lookup == nil {
		r.logger.Warn("spotify credentials not set; track links will be rejected")
	}

	manager, err := r.newManager(r.newResolver(repo))
	if err != nil {
		return fmt.Errorf("failed to start download manager: %w", err)
	}
	defer manager.Close()

	sweeper := tasks.NewSweeper(manager.Store(), manager, r.config.Download.SweepInterval.Duration, r.logger)
	go sweeper.Run(ctx)

	srv := server.New(server.Options{
		Config:     r.config.Server,
		Manager:    manager,
		Executable: r.config.Download.Executable,
		Logger:     r.logger,
	})

	r.logger.Info("rhythm ready",
		"scratch", manager.Store().Dir(),
		"retention", manager.Store().Retention(),
		"capacity", manager.Capacity(),
	)
	return srv.ListenAndServe(ctx)
}
