// Package render formats job reports and run history for the terminal and
// as JSON.
package render

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styles used for human-readable output.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusFailed lipgloss.Style
	StatusError  lipgloss.Style

	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusError:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// NewPlainTheme renders without any styling, for pipes and NO_COLOR.
func NewPlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		StatusOK:     plain,
		StatusFailed: plain,
		StatusError:  plain,
		Title:        plain,
		Header:       plain,
		Dim:          plain,
	}
}

func (t Theme) exitCode(code int) string {
	if code == 0 {
		return t.StatusOK.Render("exit 0")
	}
	return t.StatusFailed.Render("exit " + strconv.Itoa(code))
}

func (t Theme) status(s string) string {
	switch s {
	case "succeeded":
		return t.StatusOK.Render(s)
	case "failed":
		return t.StatusFailed.Render(s)
	default:
		return t.StatusError.Render(s)
	}
}
