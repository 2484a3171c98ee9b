package loudness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
)

// ErrAlreadyInProgress reports a scan requested for a path that is being
// scanned right now. Callers match it with errors.Is.
var ErrAlreadyInProgress = errors.New("analysis already in progress")

// DefaultWorkers bounds concurrent batch scans. Two keeps a batch moving
// without starving live playback of CPU.
const DefaultWorkers = 2

// Runner coordinates loudness scans: a worker pool for batches, a per-path
// in-flight guard so the same file is never decoded twice concurrently,
// and a write-through report cache.
type Runner struct {
	registry *audio.CodecRegistry
	fsys     afero.Fs
	store    *Store // nil disables caching
	workers  int
	pool     *audio.InstancePool

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewRunner creates a runner with its own decoder instance pool, sized one
// past the worker count so a silence probe for a transition is not starved
// by a full batch.
func NewRunner(registry *audio.CodecRegistry, fsys afero.Fs, store *Store, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{
		registry: registry,
		fsys:     fsys,
		store:    store,
		workers:  workers,
		pool:     audio.NewInstancePool(workers + 1),
		inflight: make(map[string]struct{}),
	}
}

// Analyze returns the report for path, from cache when the file has not
// changed since it was last scanned. A concurrent request for the same
// path fails with ErrAlreadyInProgress rather than starting a duplicate
// decode pass.
func (r *Runner) Analyze(ctx context.Context, path string) (*Report, error) {
	path = filepath.Clean(path)

	if err := r.begin(path); err != nil {
		return nil, err
	}
	defer r.end(path)

	size, modified, statErr := r.statKey(path)
	if statErr == nil && r.store != nil {
		if report, ok, err := r.store.Get(path, size, modified); err != nil {
			slog.Warn("loudness cache read failed", "path", path, "error", err)
		} else if ok {
			slog.Debug("loudness cache hit", "path", path)
			return report, nil
		}
	}

	report, err := Scan(ctx, r.registry, r.fsys, r.pool, path)
	if err != nil {
		return nil, err
	}

	if statErr == nil && r.store != nil {
		if err := r.store.Put(report, size, modified); err != nil {
			slog.Warn("loudness cache write failed", "path", path, "error", err)
		}
	}
	return report, nil
}

// BatchResult pairs one input path with its report or failure.
type BatchResult struct {
	Path   string
	Report *Report
	Err    error
}

// AnalyzeBatch scans paths over the worker pool and returns results in
// input order. A failed file lands in its own result and never aborts the
// rest; cancelling ctx fails the remaining files with the context error.
func (r *Runner) AnalyzeBatch(ctx context.Context, paths []string) []BatchResult {
	results := make([]BatchResult, len(paths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report, err := r.Analyze(ctx, paths[i])
				results[i] = BatchResult{Path: paths[i], Report: report, Err: err}
			}
		}()
	}

	cancelled := -1
feed:
	for i := range paths {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = i
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled >= 0 {
		// Everything from the failed send onward was never dispatched.
		for i := cancelled; i < len(paths); i++ {
			results[i] = BatchResult{Path: paths[i], Err: ctx.Err()}
		}
	}

	failures := 0
	for i := range results {
		if results[i].Err != nil {
			failures++
		}
	}
	slog.Info("loudness batch finished",
		"files", len(paths),
		"failures", failures,
		"workers", r.workers)
	return results
}

// FindSilenceStart runs the trailing-silence scan on the runner's decoder
// pool. It takes no in-flight slot: the probe is short and transitions
// need it even while a batch is scanning the same file.
func (r *Runner) FindSilenceStart(ctx context.Context, path string, thresholdDB float64, window time.Duration) (time.Duration, bool, error) {
	return FindSilenceStart(ctx, r.registry, r.fsys, r.pool, filepath.Clean(path), thresholdDB, window)
}

func (r *Runner) begin(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[path]; busy {
		slog.Warn("duplicate analysis rejected", "path", path)
		return fmt.Errorf("analyze %s: %w", path, ErrAlreadyInProgress)
	}
	r.inflight[path] = struct{}{}
	return nil
}

func (r *Runner) end(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, path)
}

func (r *Runner) statKey(path string) (size, modified int64, err error) {
	info, err := r.fsys.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return info.Size(), info.ModTime().UnixMilli(), nil
}
