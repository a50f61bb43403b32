package shared

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStructuredReporterFormatsConsoleLines(t *testing.T) {
	currentTime := time.Date(2025, time.January, 5, 10, 15, 0, 0, time.UTC)
	output := &bytes.Buffer{}
	errorOutput := &bytes.Buffer{}

	reporter := NewStructuredReporter(output, errorOutput, WithNowProvider(func() time.Time { return currentTime }))

	reporter.Report(Event{
		Code:    EventCodeTagRelocated,
		Message: "v1.2.0 moved",
		Details: map[string]string{"tag": "v1.2.0", "commit": "abc1234"},
	})
	reporter.Report(Event{
		Level:   EventLevelError,
		Code:    EventCodeTagRelocationFailed,
		Message: "v1.3.0 failed",
	})

	require.Equal(t, "10:15:00 INFO  TAG_RELOCATED          v1.2.0 moved | commit=abc1234 tag=v1.2.0\n", output.String())
	require.Equal(t, "10:15:00 ERROR TAG_RELOCATION_FAILED  v1.3.0 failed\n", errorOutput.String())
}

func TestStructuredReporterWithoutTimestamps(t *testing.T) {
	output := &bytes.Buffer{}
	reporter := NewStructuredReporter(output, nil, WithTimestamps(false))

	reporter.Report(Event{Level: EventLevelWarn, Code: "tag remote missing"})

	require.Equal(t, "WARN  TAG_REMOTE_MISSING\n", output.String())
}

func TestStructuredReporterSummaryCountsAndFormatsDuration(t *testing.T) {
	currentTime := time.Date(2025, time.January, 5, 10, 15, 0, 0, time.UTC)
	now := func() time.Time {
		return currentTime
	}

	output := &bytes.Buffer{}
	reporter := NewStructuredReporter(output, &bytes.Buffer{}, WithNowProvider(now), WithRunIdentifier("run-1"))

	reporter.RecordCount(CounterTagsSelected, 5)
	reporter.RecordCount(CounterTagsRelocated, 4)
	reporter.RecordCount(CounterTagsFailed, 1)
	reporter.RecordCount(CounterCommitsFolded, 3)
	reporter.Report(Event{Level: EventLevelError, Code: EventCodeTagRelocationFailed})
	reporter.RecordStageDuration("relocate", 250*time.Millisecond)

	currentTime = currentTime.Add(1500 * time.Millisecond)

	require.NoError(t, reporter.PrintSummary(SummaryFormatText))
	require.Equal(t,
		"Summary: tags.selected=5 tags.relocated=4 tags.failed=1 commits.squashed=3 WARN=0 ERROR=1 duration_human=1.5s duration_ms=1500 run_id=run-1\n",
		output.String(),
	)

	data := reporter.SummaryData()
	require.Equal(t, int64(250), data.StageDurations["relocate"])
	require.Equal(t, 1, data.EventCounts[EventCodeTagRelocationFailed])
}

func TestStructuredReporterYAMLSummary(t *testing.T) {
	output := &bytes.Buffer{}
	reporter := NewStructuredReporter(output, nil, WithRunIdentifier("run-2"))
	reporter.RecordCount(CounterTagsSelected, 2)

	require.NoError(t, reporter.PrintSummary(SummaryFormatYAML))

	var decoded SummaryData
	require.NoError(t, yaml.Unmarshal(output.Bytes(), &decoded))
	require.Equal(t, "run-2", decoded.RunIdentifier)
	require.Equal(t, 2, decoded.Counters[CounterTagsSelected])
}

func TestStructuredReporterListsFailedTagsWithPreviousTargets(t *testing.T) {
	output := &bytes.Buffer{}
	reporter := NewStructuredReporter(output, nil, WithNowProvider(func() time.Time { return time.Time{} }))
	reporter.RecordCount(CounterTagsSelected, 3)
	reporter.RecordCount(CounterTagsFailed, 2)
	reporter.RecordFailedTag("v1.2.0", "bbbbbbb")
	reporter.RecordFailedTag(" v1.1.0 ", "aaaaaaa")
	reporter.RecordFailedTag("  ", "ignored")

	require.NoError(t, reporter.PrintSummary(SummaryFormatText))
	require.Contains(t, output.String(), "tags.failed=2 failed_tags=v1.1.0@aaaaaaa,v1.2.0@bbbbbbb WARN=0")

	output.Reset()
	require.NoError(t, reporter.PrintSummary(SummaryFormatYAML))
	var decoded SummaryData
	require.NoError(t, yaml.Unmarshal(output.Bytes(), &decoded))
	require.Equal(t, map[string]string{"v1.1.0": "aaaaaaa", "v1.2.0": "bbbbbbb"}, decoded.FailedTags)
}

func TestStructuredReporterConcurrentReports(t *testing.T) {
	output := &bytes.Buffer{}
	reporter := NewStructuredReporter(output, nil)

	var waitGroup sync.WaitGroup
	for workerIndex := 0; workerIndex < 8; workerIndex++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for iteration := 0; iteration < 25; iteration++ {
				reporter.Report(Event{Code: EventCodeTagRelocated})
				reporter.RecordCount(CounterTagsRelocated, 1)
			}
		}()
	}
	waitGroup.Wait()

	data := reporter.SummaryData()
	require.Equal(t, 200, data.Counters[CounterTagsRelocated])
	require.Equal(t, 200, data.EventCounts[EventCodeTagRelocated])
	require.Len(t, strings.Split(strings.TrimSpace(output.String()), "\n"), 200)
}

func TestParseSummaryFormat(t *testing.T) {
	testCases := []struct {
		input       string
		expected    SummaryFormat
		expectError bool
	}{
		{input: "", expected: SummaryFormatText},
		{input: "TEXT", expected: SummaryFormatText},
		{input: " yaml ", expected: SummaryFormatYAML},
		{input: "json", expectError: true},
	}

	for _, testCase := range testCases {
		format, parseError := ParseSummaryFormat(testCase.input)
		if testCase.expectError {
			require.Error(t, parseError)
			continue
		}
		require.NoError(t, parseError)
		require.Equal(t, testCase.expected, format)
	}
}
