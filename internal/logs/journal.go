// Package logs is the per-job diagnostic journal.
package logs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const DefaultMaxEntries = 1000

type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	JobID     string    `json:"job_id,omitempty"`
}

// Sink receives every entry after it has been recorded.
type Sink interface {
	AppendLog(Entry) error
}

// Journal keeps the newest entries in memory and mirrors them to a
// structured logger and any sinks. It is safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
	max     int
	logger  *log.Logger
	sinks   []Sink
}

func NewLogger(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "mediafetch",
	})
	if lvl, err := log.ParseLevel(strings.TrimSpace(level)); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func NewJournal(logger *log.Logger, maxEntries int) *Journal {
	if logger == nil {
		logger = NewLogger(io.Discard, "")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Journal{logger: logger, max: maxEntries}
}

// Discard returns a journal that only keeps entries in memory.
func Discard() *Journal {
	return NewJournal(nil, 0)
}

func (j *Journal) AddSink(s Sink) {
	j.mu.Lock()
	j.sinks = append(j.sinks, s)
	j.mu.Unlock()
}

func (j *Journal) Logger() *log.Logger {
	return j.logger
}

func (j *Journal) Add(level Level, jobID, message string) Entry {
	j.mu.Lock()
	j.nextID++
	e := Entry{
		ID:        j.nextID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		JobID:     jobID,
	}
	j.entries = append(j.entries, e)
	if over := len(j.entries) - j.max; over > 0 {
		j.entries = append(j.entries[:0:0], j.entries[over:]...)
	}
	sinks := append([]Sink(nil), j.sinks...)
	j.mu.Unlock()

	j.mirror(e)
	for _, s := range sinks {
		if err := s.AppendLog(e); err != nil {
			j.logger.Warn("log sink failed", "err", err)
		}
	}
	return e
}

func (j *Journal) mirror(e Entry) {
	keyvals := []any{}
	if e.JobID != "" {
		keyvals = append(keyvals, "job", e.JobID)
	}
	switch e.Level {
	case LevelDebug:
		j.logger.Debug(e.Message, keyvals...)
	case LevelWarn:
		j.logger.Warn(e.Message, keyvals...)
	case LevelError:
		j.logger.Error(e.Message, keyvals...)
	default:
		j.logger.Info(e.Message, keyvals...)
	}
}

func (j *Journal) Debug(jobID, msg string) { j.Add(LevelDebug, jobID, msg) }
func (j *Journal) Info(jobID, msg string)  { j.Add(LevelInfo, jobID, msg) }
func (j *Journal) Warn(jobID, msg string)  { j.Add(LevelWarn, jobID, msg) }
func (j *Journal) Error(jobID, msg string) { j.Add(LevelError, jobID, msg) }

// Entries returns a copy of the retained entries, filtered by job when jobID
// is not empty.
func (j *Journal) Entries(jobID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func (j *Journal) Clear(jobID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.entries[:0]
	for _, e := range j.entries {
		if jobID != "" && e.JobID != jobID {
			kept = append(kept, e)
		}
	}
	j.entries = kept
}
