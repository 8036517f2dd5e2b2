// Package api exposes the job queue over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediafetch/internal/config"
	"mediafetch/internal/engine"
	"mediafetch/internal/logs"
	"mediafetch/internal/model"
	"mediafetch/internal/registry"
)

var errNotRetryable = errors.New("only failed jobs can be retried")

// LogHistory serves persisted journal entries that may have been evicted
// from memory.
type LogHistory interface {
	Logs(jobID string, limit int) ([]logs.Entry, error)
}

type Options struct {
	Engine         *engine.Engine
	Registry       *registry.Registry
	Journal        *logs.Journal
	Presets        *config.Catalog
	History        LogHistory
	MaxConcurrency int
	Logger         *log.Logger
}

// Server owns the concurrency limit: the engine itself never caps runs.
type Server struct {
	engine   *engine.Engine
	registry *registry.Registry
	journal  *logs.Journal
	presets  *config.Catalog
	history  LogHistory
	logger   *log.Logger

	sem  chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu        sync.Mutex
	scheduled map[string]bool
}

func New(opts Options) *Server {
	n := opts.MaxConcurrency
	if n <= 0 {
		n = config.DefaultMaxConcurrency
	}
	s := &Server{
		engine:    opts.Engine,
		registry:  opts.Registry,
		journal:   opts.Journal,
		presets:   opts.Presets,
		history:   opts.History,
		logger:    opts.Logger,
		sem:       make(chan struct{}, n),
		done:      make(chan struct{}),
		scheduled: map[string]bool{},
	}
	if s.journal == nil {
		s.journal = logs.Discard()
	}
	if s.logger == nil {
		s.logger = s.journal.Logger()
	}
	if s.presets == nil {
		s.presets = config.NewCatalog(nil)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/presets", s.handlePresets)
	r.Get("/events", s.handleEvents)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleCreateJob)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleDeleteJob)
			r.Post("/start", s.handleStartJob)
			r.Post("/retry", s.handleRetryJob)
			r.Post("/metadata", s.handleFetchMetadata)
			r.Get("/logs", s.handleJobLogs)
		})
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then drains scheduled runs.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close stops queued starts from launching and waits for in-flight runs.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Wait blocks until every scheduled run and metadata request has finished.
func (s *Server) Wait() {
	s.wg.Wait()
	if s.engine != nil {
		s.engine.Wait()
	}
}

// schedule queues a run behind the concurrency semaphore. Validation
// happens synchronously so callers get a precise status code.
func (s *Server) schedule(id string, retry bool) error {
	job, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrJobNotFound, id)
	}
	if retry && job.Status != model.StatusFailed {
		return errNotRetryable
	}
	if job.Status == model.StatusDownloading {
		return fmt.Errorf("%w: %s", engine.ErrJobRunning, id)
	}
	if !job.Status.CanStart() {
		terr := &model.TransitionError{JobID: id, From: job.Status, To: model.StatusDownloading}
		return fmt.Errorf("%w: %w", engine.ErrInvalidTransition, terr)
	}

	s.mu.Lock()
	if s.scheduled[id] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", engine.ErrJobRunning, id)
	}
	s.scheduled[id] = true
	s.mu.Unlock()

	if retry {
		s.journal.Info(id, "Retry requested")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.scheduled, id)
			s.mu.Unlock()
		}()
		select {
		case s.sem <- struct{}{}:
		case <-s.done:
			return
		}
		defer func() { <-s.sem }()
		if _, err := s.engine.RunDownload(id); err != nil {
			s.logger.Warn("run not started", "job", id, "err", err)
		}
	}()
	return nil
}

type createJobRequest struct {
	URL       string          `json:"url"`
	PresetID  string          `json:"presetId"`
	Overrides model.Overrides `json:"overrides"`
	Start     bool            `json:"start"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.presets.List())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.PresetID != "" {
		if _, ok := s.presets.Get(req.PresetID); !ok {
			writeError(w, http.StatusBadRequest, "unknown preset "+req.PresetID)
			return
		}
	}
	job, err := s.registry.Add(req.URL, req.PresetID, req.Overrides)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Start {
		if err := s.schedule(job.ID, false); err != nil {
			s.writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, chi.URLParam(r, "id"), false)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, chi.URLParam(r, "id"), true)
}

func (s *Server) startJob(w http.ResponseWriter, id string, retry bool) {
	if err := s.schedule(id, retry); err != nil {
		s.writeEngineError(w, err)
		return
	}
	job, _ := s.registry.Get(id)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleFetchMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.FetchMetadata(context.Background(), id); err != nil {
			s.logger.Warn("metadata failed", "job", id, "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.history != nil {
		entries, err := s.history.Logs(id, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}
	writeJSON(w, http.StatusOK, s.journal.Entries(id))
}

// handleEvents streams job snapshots as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, cancel := s.registry.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			name := "job"
			var payload any = ev.Job
			if ev.Removed {
				name = "removed"
				payload = map[string]any{"id": ev.Job.ID, "removed": true}
			}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrJobRunning),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, errNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
