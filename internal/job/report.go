package job

import (
	"encoding/json"
	"time"
)

// StageResult is the report entry for one executed stage.
type StageResult struct {
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// Report maps stage keys (job, after_job_success, after_job_failure) to
// their results. At most one follow-up key is present.
type Report map[string]StageResult

// Job returns the JOB stage result.
func (r Report) Job() (StageResult, bool) {
	res, ok := r[StageJob.Key()]
	return res, ok
}

// FollowUp returns the follow-up stage that ran, if any.
func (r Report) FollowUp() (Stage, StageResult, bool) {
	for _, s := range []Stage{StageAfterSuccess, StageAfterFailure} {
		if res, ok := r[s.Key()]; ok {
			return s, res, true
		}
	}
	return "", StageResult{}, false
}

// Succeeded reports whether every recorded stage exited zero.
func (r Report) Succeeded() bool {
	if len(r) == 0 {
		return false
	}
	for _, res := range r {
		if res.ExitCode != 0 {
			return false
		}
	}
	return true
}

// JSON encodes the report as a JSON object.
func (r Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Status is the overall outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// Outcome is everything known about one finished run. It is handed to a
// Recorder whether or not the run completed.
type Outcome struct {
	JobInstanceID string
	Owner         string
	Status        Status
	Report        Report
	Logs          []string
	BundleDigest  string
	Image         string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

func statusFor(report Report, err error) Status {
	switch {
	case err != nil:
		return StatusError
	case report.Succeeded():
		return StatusSucceeded
	default:
		return StatusFailed
	}
}
