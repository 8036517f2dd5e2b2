// Package registry holds the shared Job collection. Every mutation is a
// field-level merge; readers always receive copies.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"mediafetch/internal/model"
)

var ErrNotFound = errors.New("job not found")

const interruptedDetail = "Interrupted before completion"

// Sink persists or forwards job snapshots. Calls arrive in merge order.
type Sink interface {
	SaveJob(model.Job) error
	DeleteJob(id string) error
}

// Event is delivered to subscribers after every merge or removal.
type Event struct {
	Job     model.Job
	Removed bool
}

type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	order []string

	// notifyMu keeps sink and subscriber delivery in merge order without
	// blocking readers while sinks run.
	notifyMu sync.Mutex
	sinks    []Sink
	subs     map[int]chan Event
	nextSub  int

	now    func() time.Time
	logger *log.Logger
}

type Option func(*Registry)

func WithSink(s Sink) Option {
	return func(r *Registry) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:   make(map[string]*model.Job),
		subs:   make(map[int]chan Event),
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add creates a Queued job.
func (r *Registry) Add(url, presetID string, overrides model.Overrides) (model.Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return model.Job{}, fmt.Errorf("job URL is required")
	}
	now := r.now()
	job := model.Job{
		ID:              uuid.NewString(),
		URL:             url,
		PresetID:        strings.TrimSpace(presetID),
		Status:          model.StatusQueued,
		ThumbnailStatus: model.ThumbnailPending,
		Overrides:       overrides,
		CreatedAt:       now,
		StatusChangedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = &job
	r.order = append(r.order, job.ID)
	snap := job
	r.notifyMu.Lock()
	r.mu.Unlock()
	r.publish(Event{Job: snap})
	r.notifyMu.Unlock()
	return snap, nil
}

// Restore loads previously persisted jobs. Jobs that were mid-run when the
// previous process stopped are marked Failed so they can be retried, unless
// running reports that another live process still owns them.
func (r *Registry) Restore(jobs []model.Job, running func(id string) bool) []model.Job {
	interrupted := []model.Job{}
	r.mu.Lock()
	for _, j := range jobs {
		if strings.TrimSpace(j.ID) == "" {
			continue
		}
		if !model.IsKnownStatus(j.Status) {
			r.logger.Warn("skipping persisted job with unknown status", "job", j.ID, "status", j.Status)
			continue
		}
		job := j
		if job.Status.IsActive() && (running == nil || !running(job.ID)) {
			model.Patch{
				Status:       model.Ptr(model.StatusFailed),
				StatusDetail: model.Ptr(interruptedDetail),
			}.Apply(&job, r.now())
			interrupted = append(interrupted, job)
		}
		if _, exists := r.jobs[job.ID]; !exists {
			r.order = append(r.order, job.ID)
		}
		r.jobs[job.ID] = &job
	}
	r.notifyMu.Lock()
	r.mu.Unlock()
	for _, j := range interrupted {
		r.publish(Event{Job: j})
	}
	r.notifyMu.Unlock()
	return interrupted
}

func (r *Registry) Get(id string) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *j, true
}

// List returns jobs in insertion order.
func (r *Registry) List() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Job, 0, len(r.order))
	for _, id := range r.order {
		if j, ok := r.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	return out
}

// Merge applies p to the job. A status write must follow the transition
// table; a rejected patch leaves the job unchanged.
func (r *Registry) Merge(id string, p model.Patch) (model.Job, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return model.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != nil {
		if err := model.CheckTransition(*j, *p.Status); err != nil {
			r.mu.Unlock()
			return *j, err
		}
	}
	p.Apply(j, r.now())
	snap := *j
	r.notifyMu.Lock()
	r.mu.Unlock()
	r.publish(Event{Job: snap})
	r.notifyMu.Unlock()
	return snap, nil
}

func (r *Registry) Remove(id string) (model.Job, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return model.Job{}, false
	}
	snap := *j
	delete(r.jobs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.notifyMu.Lock()
	r.mu.Unlock()
	r.publish(Event{Job: snap, Removed: true})
	r.notifyMu.Unlock()
	return snap, true
}

// Subscribe returns a channel of events. Delivery is lossy: when the buffer
// is full the event is dropped for that subscriber.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	r.notifyMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.notifyMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.notifyMu.Lock()
			delete(r.subs, id)
			close(ch)
			r.notifyMu.Unlock()
		})
	}
}

// publish must be called with notifyMu held.
func (r *Registry) publish(ev Event) {
	for _, s := range r.sinks {
		var err error
		if ev.Removed {
			err = s.DeleteJob(ev.Job.ID)
		} else {
			err = s.SaveJob(ev.Job)
		}
		if err != nil {
			r.logger.Warn("job sink failed", "job", ev.Job.ID, "err", err)
		}
	}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
