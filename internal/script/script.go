// Package script runs job stage scripts on the host or inside a container
// and captures their combined output and exit code.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/mattjoyce/cd4pe-agent/internal/log"
	"github.com/mattjoyce/cd4pe-agent/internal/workspace"
)

const (
	// StartFailureCode is reported when a script process cannot be started.
	StartFailureCode = 127

	// maxOutputBytes caps the combined output kept per stage.
	maxOutputBytes = 1024 * 1024

	truncatedNote = "\n[output truncated]"

	// DefaultRuntime is the container CLI used when none is configured.
	DefaultRuntime = "docker"

	// ContainerJobsDir is where the jobs directory is mounted in the container.
	ContainerJobsDir = "/cd4pe_job"

	// ContainerRepoDir is where the control repo is mounted in the container.
	ContainerRepoDir = "/repo"
)

// Result is the outcome of one stage script.
type Result struct {
	ExitCode int
	Output   string
}

// Executor runs the script for a stage.
type Executor interface {
	Run(stage string) Result
}

// Local runs stage scripts directly on the host with the control repo as
// working directory.
type Local struct {
	Layout workspace.Layout
	Env    []string
}

// Run executes <jobs>/<stage>.
func (l Local) Run(stage string) Result {
	cmd := exec.Command(l.Layout.ScriptPath(stage))
	cmd.Dir = l.Layout.RepoDir()
	cmd.Env = l.Env
	return run(cmd, stage)
}

// Container runs stage scripts inside a container image with the jobs and
// repo directories bind-mounted.
type Container struct {
	Layout  workspace.Layout
	Env     []string
	Image   string
	RunArgs []string
	Runtime string
}

// Args returns the runtime arguments for a stage, in order:
// run, extra run args, repo mount, jobs mount, image, script path.
func (c Container) Args(stage string) []string {
	args := make([]string, 0, len(c.RunArgs)+7)
	args = append(args, "run")
	args = append(args, c.RunArgs...)
	args = append(args,
		"-v", c.Layout.RepoDir()+":"+ContainerRepoDir,
		"-v", c.Layout.JobsDir()+":"+ContainerJobsDir,
		c.Image,
		ContainerJobsDir+"/"+stage,
	)
	return args
}

// Run executes the stage script through the container runtime.
func (c Container) Run(stage string) Result {
	runtime := c.Runtime
	if runtime == "" {
		runtime = DefaultRuntime
	}
	cmd := exec.Command(runtime, c.Args(stage)...)
	cmd.Env = c.Env
	return run(cmd, stage)
}

func run(cmd *exec.Cmd, stage string) Result {
	logger := log.WithComponent("script").With("stage", stage)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("starting stage script", "path", cmd.Path, "args", cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		logger.Warn("stage script failed to start", "error", err)
		return Result{ExitCode: StartFailureCode, Output: err.Error()}
	}

	err := cmd.Wait()
	output := truncateOutput(out.String())
	if err == nil {
		logger.Debug("stage script finished", "exit_code", 0)
		return Result{ExitCode: 0, Output: output}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		logger.Debug("stage script finished", "exit_code", code)
		return Result{ExitCode: code, Output: output}
	}

	logger.Warn("stage script wait failed", "error", err)
	return Result{ExitCode: StartFailureCode, Output: joinNonEmpty(output, err.Error())}
}

// truncateOutput keeps at most maxOutputBytes of s, cut on a rune boundary,
// and marks the cut.
func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedNote
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// Describe is a one-line description of where an executor runs stages.
func Describe(e Executor) string {
	switch v := e.(type) {
	case Container:
		return fmt.Sprintf("container image %s", v.Image)
	case Local:
		return "local host"
	default:
		return fmt.Sprintf("%T", e)
	}
}
