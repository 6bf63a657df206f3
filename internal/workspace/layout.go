package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ArchiveName is the job bundle file written into the working directory.
	ArchiveName = "cd4pe_job.tar.gz"

	// JobDirName is the top-level directory inside the bundle.
	JobDirName = "cd4pe_job"
)

// Layout describes the on-disk shape of one job run:
//
//	<working_dir>/cd4pe_job.tar.gz
//	<working_dir>/cd4pe_job/jobs/unix/<STAGE>
//	<working_dir>/cd4pe_job/repo
type Layout struct {
	WorkingDir string
}

// New resolves workingDir to an absolute, cleaned path.
func New(workingDir string) (Layout, error) {
	trimmed := strings.TrimSpace(workingDir)
	if trimmed == "" {
		return Layout{}, fmt.Errorf("working directory is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve working directory %q: %w", workingDir, err)
	}
	return Layout{WorkingDir: abs}, nil
}

func (l Layout) ArchivePath() string { return filepath.Join(l.WorkingDir, ArchiveName) }
func (l Layout) JobDir() string      { return filepath.Join(l.WorkingDir, JobDirName) }
func (l Layout) JobsDir() string     { return filepath.Join(l.JobDir(), "jobs", "unix") }
func (l Layout) RepoDir() string     { return filepath.Join(l.JobDir(), "repo") }

// ScriptPath is the location of a stage script on the host.
func (l Layout) ScriptPath(stage string) string {
	return filepath.Join(l.JobsDir(), stage)
}

// HasScript reports whether a stage script exists as a regular file.
func (l Layout) HasScript(stage string) bool {
	info, err := os.Stat(l.ScriptPath(stage))
	return err == nil && info.Mode().IsRegular()
}

// Prepare creates the working directory if it does not exist.
func (l Layout) Prepare() error {
	info, err := os.Stat(l.WorkingDir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("working directory %q is not a directory", l.WorkingDir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat working directory: %w", err)
	}
	if err := os.MkdirAll(l.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	return nil
}

// Reset removes the unpacked job tree left by a previous run.
func (l Layout) Reset() error {
	if err := os.RemoveAll(l.JobDir()); err != nil {
		return fmt.Errorf("remove stale job directory: %w", err)
	}
	return nil
}

// Clean removes the archive and the unpacked job tree.
func (l Layout) Clean() error {
	if err := l.Reset(); err != nil {
		return err
	}
	if err := os.Remove(l.ArchivePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove job archive: %w", err)
	}
	return nil
}
