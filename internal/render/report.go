package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/cd4pe-agent/internal/history"
	"github.com/mattjoyce/cd4pe-agent/internal/job"
)

// stageOrder is the display order of report keys.
var stageOrder = []job.Stage{job.StageJob, job.StageAfterSuccess, job.StageAfterFailure}

// JobReport renders a report as one block per executed stage.
func JobReport(r job.Report, theme Theme) string {
	var out strings.Builder
	for _, stage := range stageOrder {
		res, ok := r[stage.Key()]
		if !ok {
			continue
		}
		fmt.Fprintf(&out, "%s %s\n", pad(theme.Header.Render(stage.Key()), 18), theme.exitCode(res.ExitCode))
		writeIndented(&out, res.Message, "    ")
	}
	return out.String()
}

// ReportJSON returns the report as indented JSON.
func ReportJSON(r job.Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// RunReport renders a full description of one recorded run.
func RunReport(run history.Run, theme Theme) string {
	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", theme.Title.Render("Job Run"))
	fmt.Fprintf(&out, "Run ID        : %s\n", run.ID)
	fmt.Fprintf(&out, "Job instance  : %s\n", run.JobInstanceID)
	fmt.Fprintf(&out, "Owner         : %s\n", run.Owner)
	fmt.Fprintf(&out, "Status        : %s\n", theme.status(string(run.Status)))
	fmt.Fprintf(&out, "Docker image  : %s\n", renderUnset(run.DockerImage, "<none>"))
	fmt.Fprintf(&out, "Bundle digest : %s\n", renderUnset(run.BundleDigest, "<unknown>"))
	fmt.Fprintf(&out, "Started       : %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration      : %s\n", run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(&out, "Error         : %s\n", theme.StatusError.Render(run.Error))
	}
	fmt.Fprintf(&out, "\n")

	if len(run.Report) > 0 {
		fmt.Fprintf(&out, "%s\n", theme.Header.Render("Stages"))
		out.WriteString(JobReport(run.Report, theme))
		fmt.Fprintf(&out, "\n")
	}

	fmt.Fprintf(&out, "%s\n", theme.Header.Render("Log"))
	if len(run.Logs) == 0 {
		fmt.Fprintf(&out, "  %s\n", theme.Dim.Render("<empty>"))
	}
	for _, line := range run.Logs {
		fmt.Fprintf(&out, "  - %s\n", line)
	}

	return strings.TrimRight(out.String(), "\n") + "\n"
}

// RunJSON returns the machine-readable form of a recorded run.
func RunJSON(run history.Run) (string, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json run: %w", err)
	}
	return string(data), nil
}

// PrettyJSON indents a JSON document; anything else is returned as-is.
func PrettyJSON(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func writeIndented(out *strings.Builder, text, indent string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(out, "%s%s\n", indent, line)
	}
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
