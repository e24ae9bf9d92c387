package diagnosis

import (
	"fmt"
	"strings"
)

var severityHeadline = map[Severity]string{
	SeverityHigh:   "Severity: HIGH - immediate action required",
	SeverityMedium: "Severity: MEDIUM - monitor closely",
	SeverityLow:    "Severity: LOW - condition is normal",
}

// Render formats a result as plain text lines.
func Render(result Result) []string {
	lines := []string{severityHeadline[result.Severity], "", "Recommended actions:"}
	for i, rec := range result.Recommendations {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, rec.Text))
	}

	s := result.Summary
	lines = append(lines, "", "Summary:",
		fmt.Sprintf("- points: %d", s.Points),
		fmt.Sprintf("- max anomaly score: %.2f", s.MaxScore),
		fmt.Sprintf("- average anomaly score: %.2f", s.AvgScore),
	)
	if len(s.Sensors) > 0 {
		lines = append(lines, "", "Anomalous sensors:")
		for _, peak := range s.Sensors {
			lines = append(lines, fmt.Sprintf("- %s: %.2f", peak.Sensor, peak.Score))
		}
	}
	if len(s.Events) > 0 {
		lines = append(lines, "", "Events:")
		for _, count := range s.Events {
			lines = append(lines, fmt.Sprintf("- %s: %d", count.Identifier, count.Count))
		}
	}
	if len(s.SimilarCases) > 0 {
		lines = append(lines, "", "Similar past cases:")
		for _, action := range s.SimilarCases {
			parts := []string{action.Date.Format("2006-01-02")}
			if action.Symptom != "" {
				parts = append(parts, action.Symptom)
			}
			if action.Treatment != "" {
				parts = append(parts, action.Treatment)
			}
			lines = append(lines, "- "+strings.Join(parts, " | "))
		}
	}
	return lines
}
