package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe"
	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe/cd4petest"
	"github.com/mattjoyce/cd4pe-agent/internal/job"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
	"github.com/mattjoyce/cd4pe-agent/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func sequentialIDs(s *Store, ids ...string) {
	i := 0
	s.newID = func() string {
		id := ids[i]
		i++
		return id
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func outcome(instance string, offset time.Duration, status job.Status) job.Outcome {
	return job.Outcome{
		JobInstanceID: instance,
		Owner:         "ops",
		Status:        status,
		Report: job.Report{
			"job":               {ExitCode: 0, Message: "built"},
			"after_job_success": {ExitCode: 0, Message: "done"},
		},
		Logs:         []string{"Executing JOB manifest.", "JOB succeeded!"},
		BundleDigest: "abc123",
		StartedAt:    t0.Add(offset),
		FinishedAt:   t0.Add(offset + 1500*time.Millisecond),
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, outcome("17", 0, job.StatusSucceeded))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := s.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, run.ID)
	assert.Equal(t, "17", run.JobInstanceID)
	assert.Equal(t, job.StatusSucceeded, run.Status)
	assert.Equal(t, "done", run.Report["after_job_success"].Message)
	assert.Equal(t, []string{"Executing JOB manifest.", "JOB succeeded!"}, run.Logs)
	assert.Equal(t, "abc123", run.BundleDigest)
	assert.True(t, run.StartedAt.Equal(t0))
	assert.Equal(t, 1500*time.Millisecond, run.Duration())
}

func TestRecordStoresErrorRunsWithoutReport(t *testing.T) {
	s := openStore(t)
	sequentialIDs(s, "run-err")
	ctx := context.Background()

	o := job.Outcome{
		JobInstanceID: "9",
		Owner:         "ops",
		Status:        job.StatusError,
		Error:         "GetJobScriptAndControlRepo failed: Message: nope Code: 404",
		StartedAt:     t0,
		FinishedAt:    t0,
	}
	require.NoError(t, s.Record(ctx, o))

	run, err := s.Get(ctx, "run-err")
	require.NoError(t, err)
	assert.Nil(t, run.Report)
	assert.Empty(t, run.Logs)
	assert.Equal(t, job.StatusError, run.Status)
	assert.Contains(t, run.Error, "404")
}

func TestGetByPrefix(t *testing.T) {
	s := openStore(t)
	sequentialIDs(s, "aaaa-1111", "aaaa-2222", "bbbb-3333")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, outcome("1", time.Duration(i)*time.Minute, job.StatusSucceeded))
		require.NoError(t, err)
	}

	run, err := s.Get(ctx, "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbb-3333", run.ID)

	_, err = s.Get(ctx, "aaaa")
	assert.ErrorContains(t, err, "ambiguous")

	run, err = s.Get(ctx, "aaaa-1111")
	require.NoError(t, err)
	assert.Equal(t, "aaaa-1111", run.ID)

	_, err = s.Get(ctx, "zzzz")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Get(ctx, "  ")
	assert.Error(t, err)
}

func TestListNewestFirstWithFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, outcome("1", 0, job.StatusSucceeded))
	require.NoError(t, err)
	_, err = s.Insert(ctx, outcome("2", time.Minute, job.StatusFailed))
	require.NoError(t, err)
	// sub-second offset must still sort after the whole-second run above
	_, err = s.Insert(ctx, outcome("1", time.Minute+250*time.Millisecond, job.StatusFailed))
	require.NoError(t, err)

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1", all[0].JobInstanceID)
	assert.Equal(t, job.StatusFailed, all[0].Status)
	assert.Equal(t, "2", all[1].JobInstanceID)

	byInstance, err := s.List(ctx, Filter{JobInstanceID: "1"})
	require.NoError(t, err)
	assert.Len(t, byInstance, 2)

	failed, err := s.List(ctx, Filter{Status: job.StatusFailed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "1", failed[0].JobInstanceID)

	latest, err := s.Latest(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, latest.Status)

	_, err = s.Latest(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreRecordsOrchestratorRuns(t *testing.T) {
	s := openStore(t)
	srv := cd4petest.New(t, "ops", "secret")
	srv.SetBundle(cd4petest.Bundle(t,
		cd4petest.Script("JOB", "#!/bin/sh\nprintf nope\nexit 1\n"),
		cd4petest.Script("AFTER_JOB_FAILURE", "#!/bin/sh\nprintf rolled back\n"),
	))

	params := srv.JobParams("314", t.TempDir())
	cfg, err := params.DeploymentConfig()
	require.NoError(t, err)

	o, err := job.New(params, cd4pe.New(cfg), nil,
		job.WithBaseEnv([]string{"PATH=/usr/bin:/bin"}), job.WithRecorder(s))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	run, err := s.Latest(context.Background(), "314")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, run.Status)
	assert.Equal(t, "rolled back", run.Report["after_job_failure"].Message)
	assert.Len(t, run.BundleDigest, 64)
	assert.Contains(t, run.Logs, "AFTER_JOB_FAILURE script specified.")
	assert.Contains(t, run.Logs, fmt.Sprintf("JOB failed with exit code: %d: %s", 1, "nope"))
}
