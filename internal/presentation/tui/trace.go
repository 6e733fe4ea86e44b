package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// TraceMarkdown renders a trace as a Markdown report: a header with the run status
// and patient, then one table row per step in execution order.
func TraceMarkdown(t *domain.Trace) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run `%s`\n\n", t.RunID)
	fmt.Fprintf(&sb, "- **Journey:** `%s`\n", t.JourneyID)
	fmt.Fprintf(&sb, "- **Status:** %s\n", statusBadge(t.Status))
	fmt.Fprintf(&sb, "- **Started:** %s\n", t.StartedAt.Format(time.RFC3339))
	if t.FinishedAt != nil {
		fmt.Fprintf(&sb, "- **Finished:** %s (%s)\n", t.FinishedAt.Format(time.RFC3339), t.FinishedAt.Sub(t.StartedAt).Round(time.Millisecond))
	}
	if t.CurrentNodeID != "" {
		fmt.Fprintf(&sb, "- **Current node:** `%s`\n", t.CurrentNodeID)
	}
	p := t.PatientContext
	fmt.Fprintf(&sb, "- **Patient:** `%s` (age %g, %s, %s)\n\n", p.ID, p.Age, p.Language, p.Condition)

	if len(t.Steps) == 0 {
		sb.WriteString("_No steps recorded._\n")
		return sb.String()
	}

	sb.WriteString("| # | Node | Type | Started | Duration | Result |\n")
	sb.WriteString("|---|------|------|---------|----------|--------|\n")
	for _, s := range t.Steps {
		duration := "open"
		if s.FinishedAt != nil {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(&sb, "| %d | `%s` | %s | %s | %s | %s |\n",
			s.Seq, s.NodeID, s.Type, s.StartedAt.Format(time.TimeOnly), duration, resultCell(s.Result))
	}
	return sb.String()
}

func statusBadge(s domain.TraceStatus) string {
	switch s {
	case domain.StatusCompleted:
		return "✅ completed"
	case domain.StatusFailed:
		return "❌ failed"
	default:
		return "⏳ in progress"
	}
}

// resultCell flattens a step result into "key=value" pairs in key order.
func resultCell(r domain.StepResult) string {
	if r == nil {
		return ""
	}
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, valueString(r[k])))
	}
	return strings.ReplaceAll(strings.Join(parts, ", "), "|", "\\|")
}

func valueString(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}
