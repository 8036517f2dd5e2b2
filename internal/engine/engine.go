// Package engine drives download jobs through yt-dlp: argument building,
// supervised runs, downloader and format fallbacks, conversion of fallback
// output and the best-effort metadata pipeline.
package engine

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/logs"
	"mediafetch/internal/model"
	"mediafetch/internal/registry"
	"mediafetch/internal/runstore"
	"mediafetch/internal/ytdlp"
)

const defaultProgressInterval = 500 * time.Millisecond

var (
	ErrJobNotFound       = registry.ErrNotFound
	ErrJobRunning        = errors.New("job is already running")
	ErrInvalidTransition = errors.New("job cannot be started from its current status")
)

// SettingsSource supplies the current settings and preset lookup. It is read
// on every run so edits take effect without a restart.
type SettingsSource interface {
	Settings() config.Settings
	Preset(id string) config.Preset
}

type Options struct {
	Registry *registry.Registry
	Journal  *logs.Journal
	Settings SettingsSource

	// Tools defaults to a resolver over the settings' bin directory.
	Tools      *ytdlp.Resolver
	HTTPClient *http.Client

	ProgressInterval time.Duration
}

type Engine struct {
	registry *registry.Registry
	journal  *logs.Journal
	settings SettingsSource
	tools    *ytdlp.Resolver
	http     *http.Client

	progressInterval time.Duration

	wg sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a registry")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("engine requires a settings source")
	}
	e := &Engine{
		registry:         opts.Registry,
		journal:          opts.Journal,
		settings:         opts.Settings,
		tools:            opts.Tools,
		http:             opts.HTTPClient,
		progressInterval: opts.ProgressInterval,
	}
	if e.journal == nil {
		e.journal = logs.Discard()
	}
	if e.http == nil {
		e.http = &http.Client{}
	}
	if e.progressInterval <= 0 {
		e.progressInterval = defaultProgressInterval
	}
	return e, nil
}

func (e *Engine) resolver() *ytdlp.Resolver {
	if e.tools != nil {
		return e.tools
	}
	return ytdlp.NewResolver(e.settings.Settings().BinDir())
}

// StartDownload begins or resumes a job in the background. Errors are
// returned synchronously for unknown jobs, jobs already running and jobs
// whose status does not allow a start.
func (e *Engine) StartDownload(jobID string) error {
	lock, job, err := e.claim(jobID)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(lock, jobID)
		e.execute(job)
	}()
	return nil
}

// RunDownload is StartDownload on the calling goroutine. It returns the
// job as it stood when the run finished.
func (e *Engine) RunDownload(jobID string) (model.Job, error) {
	lock, job, err := e.claim(jobID)
	if err != nil {
		return model.Job{}, err
	}
	defer e.release(lock, jobID)
	return e.execute(job), nil
}

// Retry restarts a failed job.
func (e *Engine) Retry(jobID string) error {
	e.journal.Info(jobID, "Retry requested")
	return e.StartDownload(jobID)
}

// Remove deletes the job from the registry and its thumbnails from disk.
func (e *Engine) Remove(jobID string) bool {
	_, ok := e.registry.Remove(jobID)
	e.removeThumbnails(jobID)
	e.journal.Clear(jobID)
	return ok
}

// Wait blocks until every background run and metadata pipeline has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) claim(jobID string) (runstore.JobLock, model.Job, error) {
	job, ok := e.registry.Get(jobID)
	if !ok {
		return runstore.JobLock{}, model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	lock, err := runstore.AcquireJobLock(e.settings.Settings().LockDir(), jobID)
	if err != nil {
		if errors.Is(err, runstore.ErrLocked) {
			return runstore.JobLock{}, model.Job{}, fmt.Errorf("%w: %w", ErrJobRunning, err)
		}
		return runstore.JobLock{}, model.Job{}, err
	}
	// Re-read under the lock: a run that just finished may have moved it.
	job, ok = e.registry.Get(jobID)
	if !ok {
		_ = lock.Release()
		return runstore.JobLock{}, model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !job.Status.CanStart() {
		_ = lock.Release()
		if job.Status == model.StatusDownloading {
			return runstore.JobLock{}, model.Job{}, fmt.Errorf("%w: %s", ErrJobRunning, jobID)
		}
		terr := &model.TransitionError{JobID: jobID, From: job.Status, To: model.StatusDownloading}
		return runstore.JobLock{}, model.Job{}, fmt.Errorf("%w: %w", ErrInvalidTransition, terr)
	}
	return lock, job, nil
}

func (e *Engine) release(lock runstore.JobLock, jobID string) {
	if err := lock.Release(); err != nil {
		e.journal.Warn(jobID, "Failed to release job lock: "+err.Error())
	}
}

// merge applies p and logs instead of failing: the job may have been
// removed while its run was in flight.
func (e *Engine) merge(jobID string, p model.Patch) {
	if _, err := e.registry.Merge(jobID, p); err != nil {
		e.journal.Debug(jobID, "Job update dropped: "+err.Error())
	}
}

func (e *Engine) job(jobID string) model.Job {
	job, _ := e.registry.Get(jobID)
	return job
}
