package job_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe"
	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe/cd4petest"
	"github.com/mattjoyce/cd4pe-agent/internal/config"
	"github.com/mattjoyce/cd4pe-agent/internal/job"
	"github.com/mattjoyce/cd4pe-agent/internal/job/mocks"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
	"github.com/mattjoyce/cd4pe-agent/internal/script"
)

var testEnv = []string{"PATH=/usr/bin:/bin"}

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func noSleep(context.Context, time.Duration) error { return nil }

func newClient(t *testing.T, params config.JobParams) *cd4pe.Client {
	t.Helper()
	cfg, err := params.DeploymentConfig()
	require.NoError(t, err)
	return cd4pe.New(cfg, cd4pe.WithSleeper(noSleep))
}

// serveBundle returns a fetcher stub that writes archive to the target.
func serveBundle(archive []byte) func(context.Context, string) (*cd4pe.Response, error) {
	return func(_ context.Context, target string) (*cd4pe.Response, error) {
		if err := os.WriteFile(target, archive, 0o644); err != nil {
			return nil, err
		}
		return &cd4pe.Response{Class: cd4pe.ClassSuccess, StatusCode: 200}, nil
	}
}

func validParams(wd string) config.JobParams {
	return config.JobParams{
		Endpoint:      "http://cd4pe.example:8080",
		Token:         "tok",
		Owner:         "ops",
		JobInstanceID: "42",
		WorkingDir:    wd,
	}
}

func TestNewMissingTokenFetchesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockBundleFetcher(ctrl)
	// no EXPECT: any fetch fails the test

	params := validParams(t.TempDir())
	params.Token = ""

	o, err := job.New(params, fetcher, nil)
	require.Error(t, err)
	assert.Nil(t, o)
	assert.True(t, errors.Is(err, config.ErrConfigurationMissing))

	var missing *config.MissingValueError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, config.EnvJobToken, missing.Name)
}

func TestNewRejectsMalformedEnvVars(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	params := validParams(t.TempDir())
	params.EnvVars = []string{"NOEQUALS"}

	_, err := job.New(params, mocks.NewMockBundleFetcher(ctrl), nil)
	assert.Error(t, err)
}

func TestRunRoundTrip(t *testing.T) {
	srv := cd4petest.New(t, "ops", "secret")
	srv.SetBundle(cd4petest.Bundle(t,
		cd4petest.Script("JOB", "#!/bin/sh\nexit 0\n"),
		cd4petest.Script("AFTER_JOB_SUCCESS", "#!/bin/sh\nprintf done\n"),
		cd4petest.Script("AFTER_JOB_FAILURE", "#!/bin/sh\nprintf never\n"),
	))

	params := srv.JobParams("1001", t.TempDir())
	progress := log.NewProgress(nil)
	o, err := job.New(params, newClient(t, params), progress, job.WithBaseEnv(testEnv))
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, job.Report{
		"job":               {ExitCode: 0, Message: ""},
		"after_job_success": {ExitCode: 0, Message: "done"},
	}, report)

	assert.Equal(t, []string{
		"Executing JOB manifest.",
		"No docker image specified. Running JOB manifest directly on machine.",
		"JOB succeeded!",
		"AFTER_JOB_SUCCESS script specified.",
		"Executing AFTER_JOB_SUCCESS manifest.",
		"No docker image specified. Running AFTER_JOB_SUCCESS manifest directly on machine.",
		"AFTER_JOB_SUCCESS succeeded!",
	}, progress.Lines())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, cd4petest.BundleOp, reqs[0].Op)
	assert.Equal(t, "1001", reqs[0].Query.Get("jobInstanceId"))
}

func TestRunFailureWithoutFollowUpScript(t *testing.T) {
	srv := cd4petest.New(t, "ops", "secret")
	srv.SetBundle(cd4petest.Bundle(t,
		cd4petest.Script("JOB", "#!/bin/sh\nprintf boom\nexit 2\n"),
		cd4petest.Script("AFTER_JOB_SUCCESS", "#!/bin/sh\nprintf done\n"),
	))

	params := srv.JobParams("7", t.TempDir())
	progress := log.NewProgress(nil)
	o, err := job.New(params, newClient(t, params), progress, job.WithBaseEnv(testEnv))
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, job.Report{"job": {ExitCode: 2, Message: "boom"}}, report)
	lines := progress.Lines()
	assert.Equal(t, "JOB failed with exit code: 2: boom", lines[len(lines)-1])
}

func TestRunFailureFollowUpSeesJobEnvironment(t *testing.T) {
	srv := cd4petest.New(t, "ops", "secret")
	srv.SetBundle(cd4petest.Bundle(t,
		cd4petest.Script("JOB", "#!/bin/sh\nexit 1\n"),
		cd4petest.Script("AFTER_JOB_FAILURE", "#!/bin/sh\nprintf '%s/%s/%s' \"$JOB_INSTANCE_ID\" \"$JOB_OWNER\" \"$EXTRA\"\nexit 0\n"),
	))

	params := srv.JobParams("99", t.TempDir())
	params.EnvVars = []string{"EXTRA=a=b"}
	o, err := job.New(params, newClient(t, params), nil, job.WithBaseEnv(testEnv))
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report, 2)
	assert.Equal(t, 1, report["job"].ExitCode)
	assert.Equal(t, job.StageResult{ExitCode: 0, Message: "99/ops/a=b"}, report["after_job_failure"])
}

func TestRunIgnoresStaleScriptsFromPreviousRun(t *testing.T) {
	wd := t.TempDir()
	stale := filepath.Join(wd, "cd4pe_job", "jobs", "unix", "AFTER_JOB_FAILURE")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("#!/bin/sh\nprintf stale\n"), 0o755))

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	fetcher := mocks.NewMockBundleFetcher(ctrl)
	fetcher.EXPECT().FetchJobBundle(gomock.Any(), filepath.Join(wd, "cd4pe_job.tar.gz")).
		DoAndReturn(serveBundle(cd4petest.Bundle(t, cd4petest.Script("JOB", "#!/bin/sh\nexit 3\n"))))

	o, err := job.New(validParams(wd), fetcher, nil, job.WithBaseEnv(testEnv))
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.Report{"job": {ExitCode: 3, Message: ""}}, report)
}

func TestRunBundleNotFound(t *testing.T) {
	srv := cd4petest.New(t, "ops", "secret")

	params := srv.JobParams("404", t.TempDir())
	progress := log.NewProgress(nil)
	o, err := job.New(params, newClient(t, params), progress, job.WithBaseEnv(testEnv))
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)

	var apiErr *cd4pe.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, cd4pe.BundleOp, apiErr.Op)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "job not found")
	assert.Zero(t, progress.Len())
}

func TestRunRejectsBundleResponsesWithoutArchive(t *testing.T) {
	tests := []struct {
		name  string
		reply cd4petest.Reply
	}{
		{name: "found", reply: cd4petest.Reply{Status: 302, Body: "moved"}},
		{name: "not modified", reply: cd4petest.Reply{Status: 304}},
		{name: "bad request", reply: cd4petest.Reply{Status: 400, Body: "bad job id"}},
		{name: "forbidden", reply: cd4petest.Reply{Status: 403, Body: "no access"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wd := t.TempDir()
			// A previous job's archive and tree are still on disk.
			stale := cd4petest.Bundle(t, cd4petest.Script("JOB", "#!/bin/sh\nprintf STALE-PREVIOUS-JOB\n"))
			require.NoError(t, os.WriteFile(filepath.Join(wd, "cd4pe_job.tar.gz"), stale, 0o644))
			staleScript := filepath.Join(wd, "cd4pe_job", "jobs", "unix", "JOB")
			require.NoError(t, os.MkdirAll(filepath.Dir(staleScript), 0o755))
			require.NoError(t, os.WriteFile(staleScript, []byte("#!/bin/sh\nprintf STALE-PREVIOUS-JOB\n"), 0o755))

			srv := cd4petest.New(t, "ops", "secret")
			srv.Reply(tt.reply)

			params := srv.JobParams("8", wd)
			progress := log.NewProgress(nil)
			o, err := job.New(params, newClient(t, params), progress, job.WithBaseEnv(testEnv))
			require.NoError(t, err)

			report, err := o.Run(context.Background())
			require.Error(t, err)
			assert.Nil(t, report)
			assert.Zero(t, progress.Len(), "no stage may run")

			var apiErr *cd4pe.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, cd4pe.BundleOp, apiErr.Op)
			assert.Equal(t, tt.reply.Status, apiErr.StatusCode)
			assert.Equal(t, tt.reply.Body, apiErr.Body)

			assert.NoFileExists(t, filepath.Join(wd, "cd4pe_job.tar.gz"))
			assert.NoDirExists(t, filepath.Join(wd, "cd4pe_job"))
			assert.Len(t, srv.Requests(), 1)
		})
	}
}

func TestRunServerExhausted(t *testing.T) {
	srv := cd4petest.New(t, "ops", "secret")
	srv.Reply(
		cd4petest.Reply{Status: 500, Body: "a"},
		cd4petest.Reply{Status: 502, Body: "b"},
		cd4petest.Reply{Status: 503, Body: "c"},
	)

	params := srv.JobParams("5", t.TempDir())
	o, err := job.New(params, newClient(t, params), nil, job.WithBaseEnv(testEnv))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	var exhausted *cd4pe.ServerExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, srv.Requests(), 3)
}

type recordingExecutor struct {
	stages []string
	codes  map[string]int
}

func (e *recordingExecutor) Run(stage string) script.Result {
	e.stages = append(e.stages, stage)
	return script.Result{ExitCode: e.codes[stage], Output: stage + " output"}
}

func TestRunWithDockerImageLogsContainerLines(t *testing.T) {
	wd := t.TempDir()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockBundleFetcher(ctrl)
	fetcher.EXPECT().FetchJobBundle(gomock.Any(), gomock.Any()).
		DoAndReturn(serveBundle(cd4petest.Bundle(t,
			cd4petest.Script("JOB", "#!/bin/sh\n"),
			cd4petest.Script("AFTER_JOB_FAILURE", "#!/bin/sh\n"),
		)))

	params := validParams(wd)
	params.DockerImage = "puppet/pdk"
	exec := &recordingExecutor{codes: map[string]int{"JOB": 4}}
	progress := log.NewProgress(nil)

	o, err := job.New(params, fetcher, progress, job.WithExecutor(exec))
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"JOB", "AFTER_JOB_FAILURE"}, exec.stages)
	assert.Equal(t, job.StageResult{ExitCode: 4, Message: "JOB output"}, report["job"])
	assert.Contains(t, progress.Lines(),
		"Docker image specified. Running JOB manifest on docker image: puppet/pdk.")
	assert.Contains(t, progress.Lines(), "JOB failed with exit code: 4: JOB output")
}

func TestRunRecordsOutcome(t *testing.T) {
	wd := t.TempDir()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockBundleFetcher(ctrl)
	fetcher.EXPECT().FetchJobBundle(gomock.Any(), gomock.Any()).
		DoAndReturn(serveBundle(cd4petest.Bundle(t, cd4petest.Script("JOB", "#!/bin/sh\nprintf ok\n"))))

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return start.Add(time.Duration(calls-1) * time.Second)
	}

	var got job.Outcome
	recorder := mocks.NewMockRecorder(ctrl)
	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, o job.Outcome) error {
			got = o
			return nil
		})

	o, err := job.New(validParams(wd), fetcher, nil,
		job.WithBaseEnv(testEnv), job.WithRecorder(recorder), job.WithClock(clock))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "42", got.JobInstanceID)
	assert.Equal(t, "ops", got.Owner)
	assert.Equal(t, job.StatusSucceeded, got.Status)
	assert.Equal(t, "ok", got.Report["job"].Message)
	assert.Len(t, got.BundleDigest, 64)
	assert.NotEmpty(t, got.Logs)
	assert.Equal(t, start, got.StartedAt)
	assert.Equal(t, start.Add(time.Second), got.FinishedAt)
	assert.Empty(t, got.Error)
}

func TestRunRecordsFatalErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	connErr := &cd4pe.ConnectionError{Service: "http://cd4pe.example:8080", Err: errors.New("refused")}
	fetcher := mocks.NewMockBundleFetcher(ctrl)
	fetcher.EXPECT().FetchJobBundle(gomock.Any(), gomock.Any()).Return(nil, connErr)

	var got job.Outcome
	recorder := mocks.NewMockRecorder(ctrl)
	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, o job.Outcome) error {
			got = o
			return errors.New("disk full")
		})

	o, err := job.New(validParams(t.TempDir()), fetcher, nil, job.WithRecorder(recorder))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	var ce *cd4pe.ConnectionError
	require.True(t, errors.As(err, &ce))

	assert.Equal(t, job.StatusError, got.Status)
	assert.Contains(t, got.Error, "refused")
	assert.Nil(t, got.Report)
}
