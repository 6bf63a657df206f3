// Package job runs one CD4PE deployment job: fetch the bundle, execute the
// JOB script, then the matching follow-up script, and report the results.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe"
	"github.com/mattjoyce/cd4pe-agent/internal/config"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
	"github.com/mattjoyce/cd4pe-agent/internal/script"
	"github.com/mattjoyce/cd4pe-agent/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks github.com/mattjoyce/cd4pe-agent/internal/job BundleFetcher,Recorder

// BundleFetcher downloads the job archive to target.
type BundleFetcher interface {
	FetchJobBundle(ctx context.Context, target string) (*cd4pe.Response, error)
}

// Recorder persists the outcome of a run.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every run, including ones that end in an error.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithExecutor replaces the executor chosen from the job parameters.
func WithExecutor(e script.Executor) Option {
	return func(o *Orchestrator) { o.executor = e }
}

// WithBaseEnv sets the environment the job variables are layered on.
// Defaults to os.Environ().
func WithBaseEnv(env []string) Option {
	return func(o *Orchestrator) { o.baseEnv = env }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs a single job. It is not safe for concurrent use.
type Orchestrator struct {
	params   config.JobParams
	layout   workspace.Layout
	fetcher  BundleFetcher
	progress *log.Progress
	executor script.Executor
	recorder Recorder
	baseEnv  []string
	env      []string
	now      func() time.Time
	logger   *slog.Logger
}

// New validates params and prepares an orchestrator. Nothing is fetched
// or executed until Run.
func New(params config.JobParams, fetcher BundleFetcher, progress *log.Progress, opts ...Option) (*Orchestrator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("job: bundle fetcher is required")
	}

	layout, err := workspace.New(params.WorkingDir)
	if err != nil {
		return nil, err
	}

	logger := log.WithJob(params.JobInstanceID).With("component", "job")
	if progress == nil {
		progress = log.NewProgress(logger)
	}

	o := &Orchestrator{
		params:   params,
		layout:   layout,
		fetcher:  fetcher,
		progress: progress,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.baseEnv == nil {
		o.baseEnv = os.Environ()
	}
	env, err := params.Environment(o.baseEnv)
	if err != nil {
		return nil, err
	}
	o.env = env

	if o.executor == nil {
		o.executor = o.defaultExecutor()
	}
	return o, nil
}

func (o *Orchestrator) defaultExecutor() script.Executor {
	if o.params.DockerImage != "" {
		return script.Container{
			Layout:  o.layout,
			Env:     o.env,
			Image:   o.params.DockerImage,
			RunArgs: o.params.DockerRunArgs,
		}
	}
	return script.Local{Layout: o.layout, Env: o.env}
}

// Layout returns the working-directory layout for this job.
func (o *Orchestrator) Layout() workspace.Layout { return o.layout }

// Progress returns the run's progress log.
func (o *Orchestrator) Progress() *log.Progress { return o.progress }

// Run fetches the bundle, runs JOB and its follow-up stage, and returns
// the report. Script failures are part of the report; the error is
// reserved for configuration, transport, API and filesystem failures.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	outcome := Outcome{
		JobInstanceID: o.params.JobInstanceID,
		Owner:         o.params.Owner,
		Image:         o.params.DockerImage,
		StartedAt:     o.now(),
	}

	report, digest, err := o.run(ctx)

	outcome.FinishedAt = o.now()
	outcome.Report = report
	outcome.BundleDigest = digest
	outcome.Logs = o.progress.Lines()
	outcome.Status = statusFor(report, err)
	if err != nil {
		outcome.Error = err.Error()
		o.logger.Error("job run failed", "error", err)
	} else {
		o.logger.Info("job run finished", "status", outcome.Status,
			"duration_ms", outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds())
	}

	if o.recorder != nil {
		// a failed record must not hide the run's own result
		if recErr := o.recorder.Record(context.WithoutCancel(ctx), outcome); recErr != nil {
			o.logger.Warn("failed to record job run", "error", recErr)
		}
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context) (Report, string, error) {
	digest, err := o.fetch(ctx)
	if err != nil {
		return nil, digest, err
	}

	report := Report{}
	result := o.execute(StageJob)
	report[StageJob.Key()] = result

	next := NextStage(result.ExitCode)
	if o.layout.HasScript(string(next)) {
		o.progress.Push("%s script specified.", next)
		report[next.Key()] = o.execute(next)
	} else {
		o.logger.Debug("no follow-up script in bundle", "stage", next)
	}
	return report, digest, nil
}

func (o *Orchestrator) fetch(ctx context.Context) (string, error) {
	if err := o.layout.Prepare(); err != nil {
		return "", err
	}

	// Nothing from an earlier run may be unpacked in place of this job's bundle.
	if err := o.layout.Clean(); err != nil {
		return "", err
	}

	archive := o.layout.ArchivePath()
	o.logger.Debug("fetching job bundle", "path", archive)
	resp, err := o.fetcher.FetchJobBundle(ctx, archive)
	if err != nil {
		return "", fmt.Errorf("fetch job bundle: %w", err)
	}
	// Only a 2xx carries an archive.
	if resp.Class != cd4pe.ClassSuccess {
		return "", cd4pe.NewAPIError(cd4pe.BundleOp, resp)
	}

	digest, err := workspace.Digest(archive)
	if err != nil {
		return "", fmt.Errorf("digest job bundle: %w", err)
	}

	unpacked, err := o.layout.Unpack(ctx)
	if err != nil {
		return digest, fmt.Errorf("unpack job bundle: %w", err)
	}
	o.logger.Info("job bundle unpacked",
		"digest", digest, "files", unpacked.Files, "bytes", unpacked.Bytes)
	return digest, nil
}

func (o *Orchestrator) execute(stage Stage) StageResult {
	o.progress.Push("Executing %s manifest.", stage)
	if o.params.DockerImage != "" {
		o.progress.Push("Docker image specified. Running %s manifest on docker image: %s.", stage, o.params.DockerImage)
	} else {
		o.progress.Push("No docker image specified. Running %s manifest directly on machine.", stage)
	}

	o.logger.Debug("running stage", "stage", stage, "on", script.Describe(o.executor))
	res := o.executor.Run(string(stage))
	if res.ExitCode == 0 {
		o.progress.Push("%s succeeded!", stage)
	} else {
		o.progress.Push("%s failed with exit code: %d: %s", stage, res.ExitCode, res.Output)
	}
	return StageResult{ExitCode: res.ExitCode, Message: res.Output}
}
