package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/cd4pe-agent/internal/history"
	"github.com/mattjoyce/cd4pe-agent/internal/job"
)

var historyColumns = []struct {
	title string
	width int
}{
	{"RUN", 10},
	{"JOB INSTANCE", 14},
	{"STATUS", 11},
	{"JOB", 9},
	{"FOLLOW-UP", 27},
	{"STARTED", 21},
	{"DURATION", 0},
}

// HistoryTable renders runs as an aligned table, newest first as given.
func HistoryTable(runs []history.Run, theme Theme) string {
	if len(runs) == 0 {
		return theme.Dim.Render("no job runs recorded") + "\n"
	}

	var out strings.Builder
	header := make([]string, len(historyColumns))
	for i, col := range historyColumns {
		header[i] = theme.Header.Render(col.title)
	}
	writeRow(&out, header)

	for _, run := range runs {
		writeRow(&out, []string{
			shortID(run.ID),
			run.JobInstanceID,
			theme.status(string(run.Status)),
			jobCell(run.Report, theme),
			followUpCell(run.Report, theme),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Duration().Round(time.Millisecond).String(),
		})
	}
	return out.String()
}

func writeRow(out *strings.Builder, cells []string) {
	for i, cell := range cells {
		if w := historyColumns[i].width; w > 0 {
			cell = pad(cell, w)
		}
		out.WriteString(cell)
	}
	out.WriteString("\n")
}

func jobCell(r job.Report, theme Theme) string {
	res, ok := r.Job()
	if !ok {
		return theme.Dim.Render("-")
	}
	return theme.exitCode(res.ExitCode)
}

func followUpCell(r job.Report, theme Theme) string {
	stage, res, ok := r.FollowUp()
	if !ok {
		return theme.Dim.Render("-")
	}
	return fmt.Sprintf("%s %s", stage.Key(), theme.exitCode(res.ExitCode))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
