package job

import "strings"

// Stage names a script in the job bundle.
type Stage string

const (
	StageJob          Stage = "JOB"
	StageAfterSuccess Stage = "AFTER_JOB_SUCCESS"
	StageAfterFailure Stage = "AFTER_JOB_FAILURE"
)

// Key is the report key for the stage.
func (s Stage) Key() string {
	return strings.ToLower(string(s))
}

// NextStage picks the follow-up stage for the JOB exit code.
func NextStage(exitCode int) Stage {
	if exitCode == 0 {
		return StageAfterSuccess
	}
	return StageAfterFailure
}
