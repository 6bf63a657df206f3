package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FileName is the lock file created in a job's working directory.
const FileName = ".cd4pe-agent.lock"

// ErrLocked means another agent process is running a job in the same
// working directory.
var ErrLocked = errors.New("working directory is locked by another job")

// LockedError reports who holds the lock.
type LockedError struct {
	Path   string
	Holder string // "<pid> <job instance id>" as written by the holder
}

func (e *LockedError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("%s: %s", ErrLocked, e.Path)
	}
	return fmt.Sprintf("%s: %s (held by %s)", ErrLocked, e.Path, e.Holder)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// JobLock is an exclusive flock(2) on a working directory's lock file.
// Keep the lock alive by keeping the file descriptor open.
type JobLock struct {
	path string
	f    *os.File
}

// Acquire takes the lock for workingDir without blocking and records the
// current PID and job instance ID in the lock file.
func Acquire(workingDir, jobInstanceID string) (*JobLock, error) {
	if workingDir == "" {
		return nil, fmt.Errorf("working directory is empty")
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	lockPath := filepath.Join(workingDir, FileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &LockedError{Path: lockPath, Holder: readHolder(lockPath)}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &JobLock{path: lockPath, f: f}
	if err := l.writeHolder(jobInstanceID); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *JobLock) writeHolder(jobInstanceID string) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(l.f, "%d %s\n", os.Getpid(), jobInstanceID); err != nil {
		return fmt.Errorf("write lock holder: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func readHolder(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (l *JobLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with a waiting acquirer.
func (l *JobLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
