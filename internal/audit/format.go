package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.SessionID
	if label == "" {
		label = "all sessions"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Session: %s | No entries found.\n", label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s | %s to %s UTC\n",
		label,
		formatDateTime(result.Summary.FirstTimestamp),
		formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		stage := e.Stage
		if stage == "" {
			stage = "-"
		}
		fmt.Fprintf(&b, "%-10s %-8s %-10s %-50s", formatTimeOnly(e.Timestamp),
			strings.ToUpper(e.Decision), truncate(stage, 10), truncate(e.URL, 50))
		if e.Reason != "" {
			fmt.Fprintf(&b, "  [%s]", e.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	var parts []string
	for _, c := range []struct {
		n     int
		label string
	}{
		{s.AllowCount, "allow"},
		{s.BlockCount, "block"},
		{s.ReissueCount, "reissue"},
		{s.CancelCount, "cancel"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return fmt.Sprintf("Summary: %s | Sessions: %d\n", strings.Join(parts, ", "), s.Sessions)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
