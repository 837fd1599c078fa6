// Package scratch manages the temporary directory holding produced audio files.
//
// Every job gets its own work directory (".work-<id>") where the external downloader writes,
// and the finished file is promoted to "<id><ext>" at the top level. File age is tracked by
// modification time, which [Store.Promote] resets to the store's clock so that the retention
// window starts at creation regardless of what the downloader stamped on the file.
//
// [Store.Sweep] deletes files and stale work directories at least one retention window old.
// Deletion is best-effort: failures are collected in [SweepResult] and never returned as errors.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/rhythm/internal/shared"
)

const workPrefix = ".work-"

// Store is a scratch directory with a fixed retention window.
type Store struct {
	dir       string
	retention time.Duration
	now       func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock replaces [time.Now] as the store's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New prepares dir (creating it when missing) and returns a [Store] over it.
func New(dir string, retention time.Duration, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: scratch directory is required", shared.ErrInvalidConfig)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive", shared.ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	s := &Store{dir: dir, retention: retention, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the scratch directory.
func (s *Store) Dir() string { return s.dir }

// Retention returns the retention window.
func (s *Store) Retention() time.Duration { return s.retention }

// Now returns the current time on the store's clock.
func (s *Store) Now() time.Time { return s.now() }

// Path returns the final location of the file for id.
func (s *Store) Path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

// WorkDir creates and returns the private work directory for id.
func (s *Store) WorkDir(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, workPrefix+id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create work dir: %v", shared.ErrStorage, err)
	}
	return dir, nil
}

// Promote moves src into its final location for id, stamps it with the current time
// and removes the work directory.
func (s *Store) Promote(id, src, ext string) (string, time.Time, error) {
	if err := validID(id); err != nil {
		return "", time.Time{}, err
	}
	dest := s.Path(id, ext)

	if err := os.Rename(src, dest); err != nil {
		if err := copyFile(src, dest); err != nil {
			os.Remove(dest)
			return "", time.Time{}, fmt.Errorf("%w: promote %s: %v", shared.ErrStorage, filepath.Base(src), err)
		}
	}

	created := s.now()
	if err := os.Chtimes(dest, created, created); err != nil {
		os.Remove(dest)
		return "", time.Time{}, fmt.Errorf("%w: stamp %s: %v", shared.ErrStorage, filepath.Base(dest), err)
	}

	os.RemoveAll(filepath.Join(s.dir, workPrefix+id))
	return dest, created, nil
}

// Discard removes everything written for id. Used on failed jobs so no orphans remain.
func (s *Store) Discard(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	var errs []error
	if err := os.RemoveAll(filepath.Join(s.dir, workPrefix+id)); err != nil {
		errs = append(errs, err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, id+".*"))
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: discard %s: %v", shared.ErrStorage, id, err)
	}
	return nil
}

// Open opens a promoted file for reading.
//
// Files that are gone or at least one retention window old report [shared.ErrExpired].
func (s *Store) Open(path string) (*os.File, fs.FileInfo, error) {
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return nil, nil, fmt.Errorf("%w: %s is outside scratch storage", shared.ErrStorage, path)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, shared.ErrExpired
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}
	if s.expired(info, s.now()) {
		f.Close()
		return nil, nil, shared.ErrExpired
	}
	return f, info, nil
}

// Entry describes one item in scratch storage.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	Work    bool // in-progress work directory
	Expired bool
}

// List returns the current contents of scratch storage.
func (s *Store) List() ([]Entry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	now := s.now()
	var out []Entry
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		work := e.IsDir() && strings.HasPrefix(e.Name(), workPrefix)
		if e.IsDir() && !work {
			continue
		}
		out = append(out, Entry{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Work:    work,
			Expired: s.expired(info, now),
		})
	}
	return out, nil
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	Scanned int
	Removed int
	Kept    int
	Missing int // already gone when the sweep reached them
	Freed   int64
	Errors  []error
}

// Sweep deletes every file and work directory whose age at now is at least the retention window.
func (s *Store) Sweep(now time.Time) SweepResult {
	var res SweepResult

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("%w: read %s: %v", shared.ErrStorage, s.dir, err))
		return res
	}

	for _, e := range entries {
		work := e.IsDir() && strings.HasPrefix(e.Name(), workPrefix)
		if e.IsDir() && !work {
			continue
		}
		res.Scanned++

		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			res.Missing++
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%w: stat %s: %v", shared.ErrStorage, e.Name(), err))
			continue
		}

		if !s.expired(info, now) {
			res.Kept++
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		if work {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}

		switch {
		case errors.Is(err, fs.ErrNotExist):
			res.Missing++
		case err != nil:
			res.Errors = append(res.Errors, fmt.Errorf("%w: remove %s: %v", shared.ErrStorage, e.Name(), err))
		default:
			res.Removed++
			res.Freed += info.Size()
		}
	}

	return res
}

func (s *Store) expired(info fs.FileInfo, now time.Time) bool {
	return now.Sub(info.ModTime()) >= s.retention
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: invalid job id %q", shared.ErrInvalidRequest, id)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
