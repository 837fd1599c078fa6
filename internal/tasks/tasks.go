package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/rhythm/internal/downloader"
	"github.com/desertthunder/rhythm/internal/metrics"
	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/scratch"
	"github.com/desertthunder/rhythm/internal/shared"
)

// filenameMax bounds the suggested download name, extension excluded.
const filenameMax = 80

// FetchRequest is one download request as received from a client.
type FetchRequest struct {
	Query  string
	Format string
}

// ManagerOpts contains the dependencies of a [Manager].
type ManagerOpts struct {
	Config     shared.DownloadConfig
	Downloader downloader.Downloader
	Store      *scratch.Store
	Resolver   *Resolver // optional; queries are used verbatim without one
	Logger     *log.Logger
}

// Manager runs download jobs against a bounded pool of external invocations.
type Manager struct {
	cfg      shared.DownloadConfig
	dl       downloader.Downloader
	store    *scratch.Store
	resolver *Resolver
	logger   *log.Logger

	format  models.Format
	slots   chan struct{}
	limiter *rate.Limiter
	jobs    sync.Map // id -> *models.DownloadJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager from opts.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Downloader == nil {
		return nil, fmt.Errorf("%w: downloader is required", shared.ErrInvalidConfig)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: scratch store is required", shared.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(nil, nil, opts.Logger)
	}

	format, err := models.ParseFormat(opts.Config.Format, models.FormatMP3)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}

	capacity := max(opts.Config.MaxConcurrent, 1)
	limit := rate.Inf
	if opts.Config.RateLimit > 0 {
		limit = rate.Limit(opts.Config.RateLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      opts.Config,
		dl:       opts.Downloader,
		store:    opts.Store,
		resolver: opts.Resolver,
		logger:   opts.Logger,
		format:   format,
		slots:    make(chan struct{}, capacity),
		limiter:  rate.NewLimiter(limit, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Store returns the scratch store files are promoted into.
func (m *Manager) Store() *scratch.Store { return m.store }

// Active returns the number of external invocations currently holding a slot.
func (m *Manager) Active() int { return len(m.slots) }

// Capacity returns the maximum number of concurrent external invocations.
func (m *Manager) Capacity() int { return cap(m.slots) }

// Fetch runs the whole pipeline for req and returns the job once it is Ready.
//
// On failure the returned job (when one was created) is in the Failed state and err
// carries the classified cause. ctx cancellation aborts the external invocation.
func (m *Manager) Fetch(ctx context.Context, req FetchRequest) (*models.DownloadJob, error) {
	job, err := m.newJob(req)
	if err != nil {
		return nil, err
	}
	return job, m.run(ctx, job)
}

// Start validates req and runs the pipeline in the background.
func (m *Manager) Start(req FetchRequest) (*models.DownloadJob, error) {
	job, err := m.newJob(req)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.ctx, job)
	}()
	return job, nil
}

// Get returns the job registered under id.
func (m *Manager) Get(id string) (*models.DownloadJob, error) {
	v, ok := m.jobs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return v.(*models.DownloadJob), nil
}

// Open returns the file of the Ready job id for streaming. Callers must close the file.
func (m *Manager) Open(id string) (*os.File, fs.FileInfo, *models.DownloadJob, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, nil, nil, err
	}
	f, info, err := m.OpenJob(job)
	return f, info, job, err
}

// OpenJob opens job's file, refusing it once the retention window has passed.
func (m *Manager) OpenJob(job *models.DownloadJob) (*os.File, fs.FileInfo, error) {
	switch job.Status() {
	case models.StatusReady:
	case models.StatusExpired:
		return nil, nil, shared.ErrExpired
	default:
		return nil, nil, fmt.Errorf("%w: %s is %s", shared.ErrJobNotReady, job.ID(), job.Status())
	}

	if job.IsExpired(m.store.Now(), m.store.Retention()) {
		job.Expire()
		return nil, nil, shared.ErrExpired
	}

	f, info, err := m.store.Open(job.FilePath())
	if errors.Is(err, shared.ErrExpired) {
		job.Expire()
	}
	if err != nil {
		return nil, nil, err
	}

	job.MarkServed()
	return f, info, nil
}

// Jobs returns a snapshot of every registered job, newest first.
func (m *Manager) Jobs() []models.JobSnapshot {
	type entry struct {
		at   time.Time
		snap models.JobSnapshot
	}
	var entries []entry
	m.jobs.Range(func(_, v any) bool {
		job := v.(*models.DownloadJob)
		entries = append(entries, entry{at: job.RequestedAt(), snap: job.Snapshot()})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })

	out := make([]models.JobSnapshot, len(entries))
	for i, e := range entries {
		out[i] = e.snap
	}
	return out
}

// Prune expires Ready jobs past the retention window and forgets finished jobs older than it.
// It returns the number of jobs removed from the registry.
func (m *Manager) Prune(now time.Time) int {
	retention := m.store.Retention()
	removed := 0

	m.jobs.Range(func(k, v any) bool {
		job := v.(*models.DownloadJob)
		if job.Status() == models.StatusReady && job.IsExpired(now, retention) {
			job.Expire()
		}
		if job.Status().IsTerminal() && now.Sub(job.RequestedAt()) >= retention {
			m.jobs.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// Close cancels background jobs and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) newJob(req FetchRequest) (*models.DownloadJob, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: track query is required", shared.ErrInvalidRequest)
	}

	format, err := models.ParseFormat(req.Format, m.format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidRequest, err)
	}

	job := models.NewDownloadJob(shared.GenerateID(), query, format, m.store.Now())
	m.jobs.Store(job.ID(), job)
	return job, nil
}

// run drives job from Requested to Ready or Failed.
func (m *Manager) run(ctx context.Context, job *models.DownloadJob) error {
	logger := shared.WithLogger(m.logger, "job", job.ID())
	logger.Info("download requested", "query", job.TrackQuery(), "format", job.Format())

	err := m.pipeline(ctx, job, logger)
	elapsed := m.store.Now().Sub(job.RequestedAt())

	if err != nil {
		code, _ := models.CodeFor(err)
		job.Fail(code, err.Error())
		metrics.ObserveDownload(string(job.Format()), string(code), elapsed)
		if code.Transient() {
			logger.Warn("download failed", "code", code, "err", err)
		} else {
			logger.Info("download rejected", "code", code, "err", err)
		}
		return err
	}

	metrics.ObserveDownload(string(job.Format()), "ready", elapsed)
	logger.Info("download ready", "file", job.Filename(), "elapsed", elapsed)
	return nil
}

func (m *Manager) pipeline(ctx context.Context, job *models.DownloadJob, logger *log.Logger) error {
	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := job.Resolving(); err != nil {
		return err
	}

	search, track, err := m.resolver.Resolve(ctx, job.TrackQuery())
	if err != nil {
		return err
	}
	if track != nil {
		job.SetTrack(track)
		job.Progress(15, "Found "+track.DisplayName())
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: request cancelled", shared.ErrUpstreamUnavailable)
	}

	workDir, err := m.store.WorkDir(job.ID())
	if err != nil {
		return err
	}

	metrics.DownloadStarted()
	res, err := m.dl.Download(ctx, downloader.Request{
		Query:   search,
		Format:  job.Format(),
		WorkDir: workDir,
		Progress: func(fraction float64, _ string) {
			job.Progress(15+fraction*75, "Downloading…")
		},
	})
	metrics.DownloadFinished()

	if err != nil {
		m.discard(job, logger)
		return err
	}

	job.Progress(95, "Saving…")
	path, created, err := m.store.Promote(job.ID(), res.Path, job.Format().Ext())
	if err != nil {
		m.discard(job, logger)
		return err
	}

	return job.Ready(path, SuggestedFilename(track, job.TrackQuery(), job.Format()), created)
}

// acquire takes a downloader slot, waiting at most the configured acquire timeout.
func (m *Manager) acquire(ctx context.Context) (func(), error) {
	release := func() { <-m.slots }

	select {
	case m.slots <- struct{}{}:
		return release, nil
	default:
	}

	wait := m.cfg.AcquireTimeout.Duration
	if wait <= 0 {
		return nil, fmt.Errorf("%w: all %d download slots are in use", shared.ErrServerBusy, cap(m.slots))
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case m.slots <- struct{}{}:
		return release, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: all %d download slots are in use", shared.ErrServerBusy, cap(m.slots))
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: request cancelled", shared.ErrUpstreamUnavailable)
	}
}

func (m *Manager) discard(job *models.DownloadJob, logger *log.Logger) {
	if err := m.store.Discard(job.ID()); err != nil {
		logger.Warn("failed to clean up after failed download", "err", err)
	}
}

// SuggestedFilename returns the download name offered to clients: "Artist - Title.ext" when the
// track is known, the sanitized query otherwise.
func SuggestedFilename(track *models.Track, query string, format models.Format) string {
	fallback := shared.SafeFilename(query, filenameMax, "track")
	name := fallback
	if track != nil {
		name = shared.SafeFilename(track.DisplayName(), filenameMax, fallback)
	}
	return name + format.Ext()
}
