package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/machflow/envsmith/internal/ir"
)

// noColor disables ANSI styling in command output.
var noColor bool

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle = lipgloss.NewStyle().Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

func render(style lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

// renderStageEvent prints one progress line per finished stage.
func renderStageEvent(w io.Writer, ev ir.StageEvent) {
	switch ev.Status {
	case "started":
		fmt.Fprintf(w, "==> %s\n", render(labelStyle, string(ev.Stage)))
	case "completed":
		fmt.Fprintf(w, "    %s %s\n", render(okStyle, "ok"), formatDuration(ev.Duration))
	case "skipped":
		fmt.Fprintf(w, "==> %s %s\n", render(labelStyle, string(ev.Stage)), render(skipStyle, "skipped"))
	case "failed":
		fmt.Fprintf(w, "    %s %s\n", render(failStyle, "FAILED"), formatDuration(ev.Duration))
	}
}

// renderRunSummary prints the final report of a run.
func renderRunSummary(w io.Writer, run *ir.Run) {
	if run == nil {
		return
	}
	status := render(okStyle, "done")
	if !run.Done() {
		status = render(failStyle, "failed at "+string(run.FailedStage))
	}

	lines := []string{
		fmt.Sprintf("%s %s", render(labelStyle, "Environment:"), run.Environment),
		fmt.Sprintf("%s %s", render(labelStyle, "Profile:    "), run.Profile),
		fmt.Sprintf("%s %s", render(labelStyle, "Manager:    "), run.Manager),
	}
	if run.Outcome != "" {
		lines = append(lines, fmt.Sprintf("%s %s", render(labelStyle, "Previous:   "), describeOutcome(run.Outcome)))
	}
	lines = append(lines,
		fmt.Sprintf("%s %s", render(labelStyle, "Status:     "), status),
		fmt.Sprintf("%s %s", render(labelStyle, "Run:        "), run.ID),
	)
	if !run.Finished.IsZero() {
		lines = append(lines, fmt.Sprintf("%s %s", render(labelStyle, "Duration:   "), formatDuration(run.Finished.Sub(run.Started))))
	}

	body := strings.Join(lines, "\n")
	if noColor {
		fmt.Fprintf(w, "\n%s\n", body)
		return
	}
	fmt.Fprintf(w, "\n%s\n", boxStyle.Render(body))
}

func describeOutcome(o ir.Outcome) string {
	switch o {
	case ir.OutcomeRemoved:
		return "removed and recreated"
	case ir.OutcomeAbsent:
		return "none, created fresh"
	}
	return string(o)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
