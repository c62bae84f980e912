package telegraph

import (
	"fmt"
	"sort"
	"strings"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// Submission summarises a batch of proposed changes for chat.
type Submission struct {
	Project      string
	SubmittedBy  string
	Role         string
	SubmissionID string
	Counts       map[string]int // change type -> count
}

// FormatSubmission formats a new submission waiting for review.
func FormatSubmission(s Submission) FormattedEvent {
	total := 0
	types := make([]string, 0, len(s.Counts))
	for t, n := range s.Counts {
		total += n
		types = append(types, t)
	}
	sort.Strings(types)

	noun := "changes"
	if total == 1 {
		noun = "change"
	}

	var lines []string
	for _, t := range types {
		lines = append(lines, fmt.Sprintf("%s: %d", strings.ReplaceAll(t, "_", " "), s.Counts[t]))
	}

	return FormattedEvent{
		Title:    fmt.Sprintf("%d %s submitted to %s", total, noun, s.Project),
		Body:     strings.Join(lines, "\n"),
		Severity: "info",
		Color:    severityColor("info"),
		Fields: []Field{
			{Name: "Submitted by", Value: fmt.Sprintf("%s (%s)", s.SubmittedBy, s.Role), Short: true},
			{Name: "Submission", Value: s.SubmissionID, Short: true},
		},
	}
}

// ScriptRun summarises a periodic script execution.
type ScriptRun struct {
	Project string
	Name    string
	Passed  bool
	Output  string
}

// FormatScriptRun formats a periodic script result. Output is truncated.
func FormatScriptRun(r ScriptRun) FormattedEvent {
	severity, verb := "success", "passed"
	if !r.Passed {
		severity, verb = "error", "failed"
	}
	out := strings.TrimSpace(r.Output)
	if len(out) > 500 {
		out = out[:500] + "..."
	}
	return FormattedEvent{
		Title:    fmt.Sprintf("Script %s %s in %s", r.Name, verb, r.Project),
		Body:     out,
		Severity: severity,
		Color:    severityColor(severity),
	}
}
