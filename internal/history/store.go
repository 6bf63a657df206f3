// Package history keeps a local record of every job run on this agent.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/cd4pe-agent/internal/job"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("run not found")

// Run is one recorded job run.
type Run struct {
	ID            string     `json:"id"`
	JobInstanceID string     `json:"job_instance_id"`
	Owner         string     `json:"owner"`
	Status        job.Status `json:"status"`
	Report        job.Report `json:"report,omitempty"`
	Logs          []string   `json:"logs"`
	BundleDigest  string     `json:"bundle_digest,omitempty"`
	DockerImage   string     `json:"docker_image,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}

// Duration is the wall-clock time of the run.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Filter narrows List results.
type Filter struct {
	JobInstanceID string
	Status        job.Status
	Limit         int
}

// Store persists runs in SQLite.
type Store struct {
	db    *sql.DB
	newID func() string
}

// NewStore wraps an open database bootstrapped by storage.OpenSQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: func() string { return uuid.New().String() }}
}

// Record implements job.Recorder.
func (s *Store) Record(ctx context.Context, o job.Outcome) error {
	_, err := s.Insert(ctx, o)
	return err
}

// Insert stores an outcome and returns the new run ID.
func (s *Store) Insert(ctx context.Context, o job.Outcome) (string, error) {
	id := s.newID()

	var reportJSON sql.NullString
	var jobExit, followExit sql.NullInt64
	var followStage sql.NullString
	if o.Report != nil {
		data, err := json.Marshal(o.Report)
		if err != nil {
			return "", fmt.Errorf("marshal report: %w", err)
		}
		reportJSON = sql.NullString{String: string(data), Valid: true}
		if res, ok := o.Report.Job(); ok {
			jobExit = sql.NullInt64{Int64: int64(res.ExitCode), Valid: true}
		}
		if stage, res, ok := o.Report.FollowUp(); ok {
			followStage = sql.NullString{String: string(stage), Valid: true}
			followExit = sql.NullInt64{Int64: int64(res.ExitCode), Valid: true}
		}
	}

	logs := o.Logs
	if logs == nil {
		logs = []string{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return "", fmt.Errorf("marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO job_runs(id, job_instance_id, owner, status, job_exit_code, followup_stage, followup_exit,
                     report, logs, bundle_digest, docker_image, last_error, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, o.JobInstanceID, o.Owner, string(o.Status), jobExit, followStage, followExit,
		reportJSON, string(logsJSON), nullString(o.BundleDigest), nullString(o.Image), nullString(o.Error),
		o.StartedAt.UTC().Format(timeLayout), o.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert job run: %w", err)
	}

	log.WithComponent("history").Debug("job run recorded", "run_id", id, "job_instance_id", o.JobInstanceID, "status", o.Status)
	return id, nil
}

const selectRun = `
SELECT id, job_instance_id, owner, status, report, logs, bundle_digest, docker_image, last_error, started_at, finished_at
FROM job_runs`

// Get returns the run with the given ID. A unique ID prefix is accepted.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("run id is required")
	}

	rows, err := s.db.QueryContext(ctx, selectRun+` WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2;`,
		id, stripLikeWildcards(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("query run %q: %w", id, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	case runs[0].ID == id || len(runs) == 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// Latest returns the most recent run of a job instance.
func (s *Store) Latest(ctx context.Context, jobInstanceID string) (*Run, error) {
	runs, err := s.List(ctx, Filter{JobInstanceID: jobInstanceID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("job instance %q: %w", jobInstanceID, ErrNotFound)
	}
	return &runs[0], nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.JobInstanceID != "" {
		where = append(where, "job_instance_id = ?")
		args = append(args, f.JobInstanceID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := selectRun
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                      Run
			status                 string
			report                 sql.NullString
			logs                   string
			digest, image, lastErr sql.NullString
			startedAt, finishedAt  string
		)
		if err := rows.Scan(&r.ID, &r.JobInstanceID, &r.Owner, &status, &report, &logs,
			&digest, &image, &lastErr, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		r.Status = job.Status(status)
		r.BundleDigest = digest.String
		r.DockerImage = image.String
		r.Error = lastErr.String

		if report.Valid {
			if err := json.Unmarshal([]byte(report.String), &r.Report); err != nil {
				return nil, fmt.Errorf("decode report for run %s: %w", r.ID, err)
			}
		}
		if err := json.Unmarshal([]byte(logs), &r.Logs); err != nil {
			return nil, fmt.Errorf("decode logs for run %s: %w", r.ID, err)
		}

		var err error
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at for run %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stripLikeWildcards(s string) string {
	return strings.NewReplacer(`%`, ``, `_`, ``).Replace(s)
}
