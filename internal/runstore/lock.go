package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const jobLockOwnerFile = "owner.json"

// ErrLocked is returned when another run holds the job lock.
var ErrLocked = errors.New("job is locked")

type JobLock struct {
	lockDir string
}

type jobLockOwner struct {
	JobID     string `json:"job_id"`
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireJobLock creates <root>/<jobID>.lock. Directory creation is atomic,
// so concurrent callers in this or another process see ErrLocked.
func AcquireJobLock(root, jobID string) (JobLock, error) {
	root = strings.TrimSpace(root)
	jobID = strings.TrimSpace(jobID)
	if root == "" {
		return JobLock{}, fmt.Errorf("lock directory is required")
	}
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return JobLock{}, fmt.Errorf("invalid job id %q", jobID)
	}
	if err := Mkdir(root); err != nil {
		return JobLock{}, err
	}

	lockDir := filepath.Join(root, jobID+".lock")
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, jobLockOwnerFile)
			var owner jobLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return JobLock{}, fmt.Errorf(
					"%w: %s (pid=%d created_at=%s host=%s)",
					ErrLocked, jobID, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return JobLock{}, fmt.Errorf("%w: %s", ErrLocked, jobID)
		}
		return JobLock{}, fmt.Errorf("acquire job lock for %s: %w", jobID, err)
	}

	owner := jobLockOwner{
		JobID:     jobID,
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, jobLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return JobLock{}, fmt.Errorf("write job lock owner for %s: %w", jobID, err)
	}

	return JobLock{lockDir: lockDir}, nil
}

func (l JobLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, jobLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release job lock %s: %w", l.lockDir, err)
	}
	return nil
}

// JobLockHeld reports whether a live process owns the lock for jobID.
func JobLockHeld(root, jobID string) bool {
	lockDir := filepath.Join(root, jobID+".lock")
	info, err := os.Stat(lockDir)
	if err != nil || !info.IsDir() {
		return false
	}
	return !lockIsStale(lockDir, info.ModTime())
}

// ClearStaleJobLocks removes locks whose owning process is gone, as left
// behind by a crash.
func ClearStaleJobLocks(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock directory %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		lockDir := filepath.Join(root, e.Name())
		if !lockIsStale(lockDir, info.ModTime()) {
			continue
		}
		if err := os.RemoveAll(lockDir); err != nil {
			return fmt.Errorf("remove stale lock %s: %w", e.Name(), err)
		}
	}
	return nil
}

// An owner file is written right after the directory, so a lock without one
// is only stale once it is clearly not being created.
func lockIsStale(lockDir string, modTime time.Time) bool {
	var owner jobLockOwner
	if err := ReadJSON(filepath.Join(lockDir, jobLockOwnerFile), &owner); err != nil || owner.PID <= 0 {
		return time.Since(modTime) > time.Minute
	}
	if owner.Hostname != "" && owner.Hostname != hostnameOrUnknown() {
		return false
	}
	return !processAlive(owner.PID)
}

func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
