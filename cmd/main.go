package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
)

func main() {
	bootLogger := shared.NewLogger(nil)
	if err := shared.LoadDotEnv(".env"); err != nil {
		bootLogger.Warn("ignoring .env", "error", err)
	}

	configPath := os.Getenv("RHYTHM_CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		if !errors.Is(err, shared.ErrMissingConfig) {
			bootLogger.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		}
		config = shared.DefaultConfig()
	}
	config.ApplyEnv(os.LookupEnv)

	logger := shared.NewServiceLogger(config.Log)
	if err := config.Validate(); err != nil {
		logger.Fatalf("configuration error: %v", err)
	}

	var lookup services.TrackLookup
	if config.HasSpotifyCredentials() {
		svc, err := services.NewSpotifyService(map[string]string{
			"client_id":     config.Credentials.Spotify.ClientID,
			"client_secret": config.Credentials.Spotify.ClientSecret,
		})
		if err != nil {
			logger.Warn("spotify lookups disabled", "error", err)
		} else {
			lookup = svc
		}
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		Lookup:     lookup,
		API:        services.NewAPIService(os.Getenv("RHYTHM_SERVER"), nil),
		Logger:     logger,
	})

	if err := newApp(runner).Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		logger.Fatalf("application error: %v", err)
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:     "rhythm",
		Usage:    "Download tracks as audio files through yt-dlp, with a 10 minute scratch retention",
		Version:  "0.1.0",
		Commands: r.register(),
	}
}
