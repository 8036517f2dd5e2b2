// Package store persists jobs and journal entries.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mediafetch/internal/logs"
	"mediafetch/internal/model"
	"mediafetch/internal/runstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS logs_job_id ON logs (job_id, id);
`

var ErrNotFound = errors.New("not found")

// SQLite stores the job table and the journal. It implements both
// registry.Sink and logs.Sink.
type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	if err := runstore.Mkdir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveJob(job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = s.db.Exec(`
INSERT INTO jobs (id, url, status, created_at, updated_at, data)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	url = excluded.url,
	status = excluded.status,
	updated_at = excluded.updated_at,
	data = excluded.data`,
		job.ID, job.URL, string(job.Status), job.CreatedAt.UnixMilli(), time.Now().UnixMilli(), string(data))
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLite) DeleteJob(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM logs WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete logs for %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLite) Job(id string) (model.Job, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return model.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// LoadJobs returns every stored job in creation order.
func (s *SQLite) LoadJobs() ([]model.Job, error) {
	rows, err := s.db.Query(`SELECT id, data FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job model.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLite) AppendLog(e logs.Entry) error {
	if e.JobID == "" {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		e.JobID, string(e.Level), e.Message, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("append log for %s: %w", e.JobID, err)
	}
	return nil
}

// Logs returns the persisted journal for one job, oldest first. A limit of
// zero or less returns everything.
func (s *SQLite) Logs(jobID string, limit int) ([]logs.Entry, error) {
	query := `SELECT id, level, message, created_at FROM logs WHERE job_id = ? ORDER BY id`
	args := []any{jobID}
	if limit > 0 {
		query = `SELECT id, level, message, created_at FROM (
	SELECT id, level, message, created_at FROM logs WHERE job_id = ? ORDER BY id DESC LIMIT ?
) ORDER BY id`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load logs for %s: %w", jobID, err)
	}
	defer rows.Close()

	out := []logs.Entry{}
	for rows.Next() {
		var (
			e       logs.Entry
			level   string
			created int64
		)
		if err := rows.Scan(&e.ID, &level, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.JobID = jobID
		e.Level = logs.Level(level)
		e.Timestamp = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
