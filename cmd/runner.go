package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/downloader"
	"github.com/desertthunder/rhythm/internal/repositories"
	"github.com/desertthunder/rhythm/internal/scratch"
	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
	"github.com/desertthunder/rhythm/internal/ui"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	api        *services.APIService
	downloader downloader.Downloader
	lookup     services.TrackLookup
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	palette    *ui.Palette
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	API        *services.APIService
	Downloader downloader.Downloader // defaults to yt-dlp built from Config
	Lookup     services.TrackLookup  // Spotify metadata; nil disables link resolution
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = "config.toml"
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.API == nil {
		opts.API = services.NewAPIService("", opts.HTTPClient)
	}
	if opts.Downloader == nil {
		opts.Downloader = downloader.NewYTDLP(opts.Config.Download, opts.Logger)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		api:        opts.API,
		downloader: opts.Downloader,
		lookup:     opts.Lookup,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		palette:    ui.Default,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, downloadCommand, sweepCommand, lookupCommand, setupCommand, remoteCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// remote returns the API client for the --server flag, falling back to the default client.
func (r *Runner) remote(cmd *cli.Command) *services.APIService {
	if server := cmd.String("server"); server != "" {
		return services.NewAPIService(server, r.httpClient)
	}
	return r.api
}

// openCache opens the track metadata cache. The returned close function is always safe to call.
func (r *Runner) openCache() (*repositories.TrackRepository, func(), error) {
	noop := func() {}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, noop, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repositories.NewTrackRepository(db), func() { db.Close() }, nil
}

// newResolver builds a query resolver; repo may be nil when the cache is unavailable.
func (r *Runner) newResolver(repo *repositories.TrackRepository) *tasks.Resolver {
	var cache tasks.TrackCache
	if repo != nil {
		cache = repositories.NewTrackCacheAdapter(repo)
	}
	return tasks.NewResolver(r.lookup, cache, r.logger)
}

func (r *Runner) newStore() (*scratch.Store, error) {
	return scratch.New(r.config.Download.ScratchDir, r.config.Download.Retention.Duration)
}

func (r *Runner) newManager(resolver *tasks.Resolver) (*tasks.Manager, error) {
	store, err := r.newStore()
	if err != nil {
		return nil, err
	}
	return tasks.NewManager(tasks.ManagerOpts{
		Config:     r.config.Download,
		Downloader: r.downloader,
		Store:      store,
		Resolver:   resolver,
		Logger:     r.logger,
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", r.palette.Title("%s", title))
	r.writePlain("═══════════════════════════════════════\n")
}
