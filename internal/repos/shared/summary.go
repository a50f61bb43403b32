package shared

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SummaryFormat selects how the end-of-run summary is rendered.
type SummaryFormat string

// Supported summary formats.
const (
	SummaryFormatText SummaryFormat = "text"
	SummaryFormatYAML SummaryFormat = "yaml"
)

// Summary counter names recorded by a run.
const (
	CounterTagsSelected  = "tags.selected"
	CounterTagsRelocated = "tags.relocated"
	CounterTagsFailed    = "tags.failed"
	CounterTagsRestored  = "tags.restored"
	CounterTagsPlanned   = "tags.planned"
	CounterCommitsFolded = "commits.squashed"
	CounterBranchPushed  = "branch.pushed"
)

const unsupportedSummaryFormatTemplate = "unsupported summary format %q"

// SummaryData captures aggregated reporter metrics.
type SummaryData struct {
	RunIdentifier        string             `yaml:"run_id,omitempty"`
	Counters             map[string]int     `yaml:"counters"`
	EventCounts          map[string]int     `yaml:"events"`
	LevelCounts          map[EventLevel]int `yaml:"levels"`
	StageDurations       map[string]int64   `yaml:"stage_durations_ms"`
	FailedTags           map[string]string  `yaml:"failed_tags,omitempty"`
	DurationHuman        string             `yaml:"duration_human"`
	DurationMilliseconds int64              `yaml:"duration_ms"`
}

// ParseSummaryFormat normalizes a configured summary format. Empty values select text.
func ParseSummaryFormat(rawValue string) (SummaryFormat, error) {
	switch SummaryFormat(strings.ToLower(strings.TrimSpace(rawValue))) {
	case "", SummaryFormatText:
		return SummaryFormatText, nil
	case SummaryFormatYAML:
		return SummaryFormatYAML, nil
	default:
		return "", fmt.Errorf(unsupportedSummaryFormatTemplate, rawValue)
	}
}

// RenderSummary renders the summary, newline terminated.
func RenderSummary(data SummaryData, format SummaryFormat) (string, error) {
	switch format {
	case SummaryFormatYAML:
		encoded, encodeError := yaml.Marshal(data)
		if encodeError != nil {
			return "", encodeError
		}
		return string(encoded), nil
	case SummaryFormatText, "":
		return RenderSummaryLine(data) + "\n", nil
	default:
		return "", fmt.Errorf(unsupportedSummaryFormatTemplate, string(format))
	}
}

// RenderSummaryLine returns the single summary line printed after a run.
func RenderSummaryLine(data SummaryData) string {
	parts := []string{"Summary:"}

	for _, counterName := range []string{CounterTagsSelected, CounterTagsRelocated, CounterTagsFailed} {
		parts = append(parts, fmt.Sprintf("%s=%d", counterName, data.Counters[counterName]))
	}

	remaining := make([]string, 0, len(data.Counters))
	for counterName := range data.Counters {
		switch counterName {
		case CounterTagsSelected, CounterTagsRelocated, CounterTagsFailed:
			continue
		}
		remaining = append(remaining, counterName)
	}
	sort.Strings(remaining)
	for _, counterName := range remaining {
		parts = append(parts, fmt.Sprintf("%s=%d", counterName, data.Counters[counterName]))
	}

	if len(data.FailedTags) > 0 {
		failedTags := make([]string, 0, len(data.FailedTags))
		for tagName, previousTarget := range data.FailedTags {
			failedTags = append(failedTags, tagName+"@"+previousTarget)
		}
		sort.Strings(failedTags)
		parts = append(parts, fmt.Sprintf("failed_tags=%s", strings.Join(failedTags, ",")))
	}

	parts = append(parts, fmt.Sprintf("%s=%d", EventLevelWarn, data.LevelCounts[EventLevelWarn]))
	parts = append(parts, fmt.Sprintf("%s=%d", EventLevelError, data.LevelCounts[EventLevelError]))

	durationHuman := strings.TrimSpace(data.DurationHuman)
	if durationHuman == "" {
		durationHuman = "0s"
	}
	parts = append(parts, fmt.Sprintf("duration_human=%s", durationHuman))
	parts = append(parts, fmt.Sprintf("duration_ms=%d", data.DurationMilliseconds))
	if len(data.RunIdentifier) > 0 {
		parts = append(parts, fmt.Sprintf("run_id=%s", data.RunIdentifier))
	}

	return strings.Join(parts, " ")
}
