// submodule cmd contains command definitions
package main

import (
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/formatter"
)

// serveCommand runs the HTTP download service
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the download job service",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (overrides server.port)",
			},
		},
		Action: r.Serve,
	}
}

// downloadCommand runs the pipeline once without a server
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"dl"},
		Usage:     "Download a single track query locally",
		ArgsUsage: "<query | spotify url>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Audio format (mp3, m4a, opus, flac, wav)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Destination directory",
				Value:   ".",
			},
		},
		Action: r.Download,
	}
}

// sweepCommand enforces retention once
func sweepCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete scratch files older than the retention window",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "List scratch contents without deleting",
			},
			&cli.DurationFlag{
				Name:  "cache-max-age",
				Usage: "Also drop cached track metadata older than this (0 keeps everything)",
			},
		},
		Action: r.Sweep,
	}
}

// lookupCommand resolves provider metadata
func lookupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Resolve a Spotify track link to its metadata and search query",
		ArgsUsage: "<spotify url | uri | id>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "track"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Lookup,
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create configuration and initialize the track cache",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write a config file from the bundled template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   r.configPath,
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize the database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// remoteCommand talks to a running rhythm server
func remoteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Client for a running rhythm server",
		Commands: []*cli.Command{
			{
				Name:   "ping",
				Usage:  "Check server health and tool availability",
				Flags:  []cli.Flag{serverFlag()},
				Action: r.RemotePing,
			},
			{
				Name:      "fetch",
				Usage:     "Download one query through the server",
				ArgsUsage: "<query>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "query"},
				},
				Flags: []cli.Flag{
					serverFlag(),
					formatFlag(),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Destination directory",
						Value:   ".",
					},
				},
				Action: r.RemoteFetch,
			},
			{
				Name:      "start",
				Usage:     "Start a background job and follow its progress",
				ArgsUsage: "<query>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "query"},
				},
				Flags: []cli.Flag{
					serverFlag(),
					formatFlag(),
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Poll until the job finishes",
						Value: true,
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Status polling interval",
						Value: time.Second,
					},
				},
				Action: r.RemoteStart,
			},
			{
				Name:      "batch",
				Usage:     "Download every query in a file (one per line, - for stdin)",
				ArgsUsage: "<file>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "file"},
				},
				Flags: []cli.Flag{
					serverFlag(),
					formatFlag(),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Destination directory (default: rhythm_batch_{epoch})",
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Aliases: []string{"n"},
						Usage:   "Requests in flight",
						Value:   2,
					},
					&cli.FloatFlag{
						Name:  "rate-limit",
						Usage: "Request starts per second (0 is unlimited)",
					},
					&cli.StringFlag{
						Name:  "manifest",
						Usage: "Manifest format (" + strings.Join(formatter.Formats, ", ") + ")",
						Value: "json",
					},
				},
				Action: r.RemoteBatch,
			},
		},
	}
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Server URL",
		Sources: cli.EnvVars("RHYTHM_SERVER"),
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Audio format (mp3, m4a, opus, flac, wav)",
		Value:   "mp3",
	}
}
