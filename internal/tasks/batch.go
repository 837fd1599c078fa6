package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/rhythm/internal/formatter"
	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/services"
	"github.com/desertthunder/rhythm/internal/shared"
)

// Fetcher downloads one query from a rhythm server; implemented by [services.APIService].
type Fetcher interface {
	Fetch(ctx context.Context, query, format string) (*services.Download, error)
}

// BatchOpts contains configuration for a batch fetch.
type BatchOpts struct {
	Server         string  // Server URL recorded in the manifest
	Format         string  // Audio format requested for every query
	OutputDir      string  // Destination directory (default: rhythm_batch_{epoch})
	Concurrency    int     // Requests in flight (default: 2)
	RateLimit      float64 // Request starts per second (default: unlimited)
	ManifestFormat string  // json, csv, markdown, txt
}

// RunBatch fetches every query with bounded concurrency, saving files into opts.OutputDir.
//
// Failed queries are recorded and skipped. The returned report keeps the input order.
func RunBatch(ctx context.Context, prog chan<- ProgressUpdate, f Fetcher, queries []string, opts BatchOpts) (*models.BatchReport, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: fetcher not initialized", shared.ErrServiceUnavailable)
	}

	queries = cleanQueries(queries)
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no queries given", shared.ErrMissingArgument)
	}

	format, err := models.ParseFormat(opts.Format, models.FormatMP3)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("rhythm_batch_%d", time.Now().Unix())
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	report := &models.BatchReport{
		Server:    opts.Server,
		Format:    format,
		OutputDir: opts.OutputDir,
		Total:     len(queries),
		Started:   time.Now(),
		Items:     make([]models.BatchItem, len(queries)),
	}

	limiter := rate.NewLimiter(limit, 1)
	names := &nameClaims{taken: map[string]bool{}}

	jobs := make(chan int)
	results := make(chan models.BatchItem, len(queries))

	var wg sync.WaitGroup
	for range min(opts.Concurrency, len(queries)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- fetchOne(ctx, f, i, queries[i], format, opts.OutputDir, names)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, q := range queries {
			if err := limiter.Wait(ctx); err != nil {
				for j := i; j < len(queries); j++ {
					results <- cancelledItem(j, queries[j])
				}
				return
			}
			sendProgress(prog, fetchingUpdate(i+1, len(queries), q))
			jobs <- i
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for item := range results {
		completed++
		report.Items[item.Index] = item
		if item.Success {
			report.Succeeded++
			sendProgress(prog, savedUpdate(completed, len(queries), item))
		} else {
			report.Failed++
			sendProgress(prog, failedUpdate(completed, len(queries), item))
		}
	}
	report.Finished = time.Now()

	manifestFormat := opts.ManifestFormat
	if manifestFormat == "" {
		manifestFormat = "json"
	}
	path, err := formatter.WriteBatchManifest(report, manifestFormat, opts.OutputDir)
	if err != nil {
		return report, fmt.Errorf("batch completed but failed to write manifest: %w", err)
	}
	sendProgress(prog, manifestUpdate(path))
	return report, nil
}

// fetchOne downloads a single query and saves it under a unique name in dir.
func fetchOne(ctx context.Context, f Fetcher, index int, query string, format models.Format, dir string, names *nameClaims) models.BatchItem {
	started := time.Now()
	item := models.BatchItem{Index: index, Query: query}

	fail := func(err error) models.BatchItem {
		item.Error = err.Error()
		if re, ok := services.AsRemoteError(err); ok {
			item.Code = re.Code
			item.Error = re.Message
		}
		item.Duration = time.Since(started)
		return item
	}

	dl, err := f.Fetch(ctx, query, string(format))
	if err != nil {
		return fail(err)
	}
	defer dl.Body.Close()
	item.JobID = dl.JobID

	base := strings.TrimSuffix(dl.Filename, filepath.Ext(dl.Filename))
	name := names.claim(shared.SafeFilename(base, filenameMax, shared.SafeFilename(query, filenameMax, "track")), format.Ext())
	dest := filepath.Join(dir, name)

	size, err := saveAtomic(dest, dl.Body)
	if err != nil {
		names.release(name)
		return fail(err)
	}

	item.Success = true
	item.File = name
	item.Size = size
	item.Duration = time.Since(started)
	return item
}

// saveAtomic streams r into dest through a temporary file so partial downloads never appear.
func saveAtomic(dest string, r io.Reader) (int64, error) {
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Base(tmp), err)
	}

	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to save %s: %w", filepath.Base(dest), err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to save %s: %w", filepath.Base(dest), err)
	}
	return n, nil
}

func cancelledItem(index int, query string) models.BatchItem {
	return models.BatchItem{Index: index, Query: query, Error: "cancelled"}
}

func cleanQueries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" || strings.HasPrefix(q, "#") {
			continue
		}
		out = append(out, q)
	}
	return out
}

// nameClaims hands out unique file names within one batch.
type nameClaims struct {
	mu    sync.Mutex
	taken map[string]bool
}

func (c *nameClaims) claim(base, ext string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := base + ext
	for n := 2; c.taken[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
	c.taken[strings.ToLower(name)] = true
	return name
}

func (c *nameClaims) release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taken, strings.ToLower(name))
}
