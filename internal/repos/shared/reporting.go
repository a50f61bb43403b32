package shared

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultLevelFieldWidth = 5
	defaultEventFieldWidth = 22
	defaultTimestampLayout = "15:04:05"
	unknownEventCode       = "UNKNOWN"
)

// EventLevel describes the severity of a reported event.
type EventLevel string

// Supported event levels.
const (
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// Event codes emitted by a squash-and-retag run.
const (
	EventCodeRunStarted          = "RUN_STARTED"
	EventCodeRemoteSynced        = "REMOTE_SYNCED"
	EventCodeBaseResolved        = "BASE_RESOLVED"
	EventCodeNothingToDo         = "NOTHING_TO_DO"
	EventCodeBackupCreated       = "BACKUP_CREATED"
	EventCodeSquashCommitted     = "SQUASH_COMMITTED"
	EventCodeTagsSelected        = "TAGS_SELECTED"
	EventCodeTagRelocated        = "TAG_RELOCATED"
	EventCodeTagRemoteMissing    = "TAG_REMOTE_MISSING"
	EventCodeTagRelocationFailed = "TAG_RELOCATION_FAILED"
	EventCodeTagRestored         = "TAG_RESTORED"
	EventCodeTagVerified         = "TAG_VERIFIED"
	EventCodeBranchPushed        = "BRANCH_PUSHED"
	EventCodeRunFailed           = "RUN_FAILED"
	EventCodeReleaseTagged       = "RELEASE_TAGGED"
	EventCodeReleasePushed       = "RELEASE_PUSHED"
)

// Event codes emitted in dry-run mode in place of the actions they describe.
const (
	EventCodeBackupPlanned        = "BACKUP_PLANNED"
	EventCodeSquashPlanned        = "SQUASH_PLANNED"
	EventCodeTagRelocationPlanned = "TAG_RELOCATION_PLANNED"
	EventCodeBranchPushPlanned    = "BRANCH_PUSH_PLANNED"
	EventCodeReleaseTagPlanned    = "RELEASE_TAG_PLANNED"
)

// Event captures the structured information associated with a run step.
type Event struct {
	Timestamp      time.Time
	Level          EventLevel
	Code           string
	RepositoryPath string
	Message        string
	Details        map[string]string
}

// Reporter emits structured events.
type Reporter interface {
	Report(event Event)
}

// SummaryReporter augments Reporter with counters, stage timings and summary output.
type SummaryReporter interface {
	Reporter
	RecordCount(counterName string, delta int)
	RecordStageDuration(stageName string, duration time.Duration)
	RecordFailedTag(tagName string, previousTarget string)
	SummaryData() SummaryData
	PrintSummary(format SummaryFormat) error
}

// ReporterOption customises StructuredReporter behaviour.
type ReporterOption func(*StructuredReporter)

// WithNowProvider overrides the time source used for timestamps and duration calculations.
func WithNowProvider(provider func() time.Time) ReporterOption {
	return func(reporter *StructuredReporter) {
		if provider != nil {
			reporter.now = provider
			reporter.startTime = provider()
		}
	}
}

// WithRunIdentifier attaches the run identifier to the summary.
func WithRunIdentifier(runIdentifier string) ReporterOption {
	return func(reporter *StructuredReporter) {
		reporter.runIdentifier = strings.TrimSpace(runIdentifier)
	}
}

// WithTimestamps toggles the leading timestamp column on console lines.
func WithTimestamps(enabled bool) ReporterOption {
	return func(reporter *StructuredReporter) {
		reporter.includeTimestamps = enabled
	}
}

// StructuredReporter writes one console line per event and aggregates counters for the summary.
type StructuredReporter struct {
	outputWriter      io.Writer
	errorWriter       io.Writer
	includeTimestamps bool
	runIdentifier     string
	now               func() time.Time

	mutex          sync.Mutex
	startTime      time.Time
	eventCounts    map[string]int
	levelCounts    map[EventLevel]int
	counters       map[string]int
	stageDurations map[string]time.Duration
	failedTags     map[string]string
}

// NewStructuredReporter constructs a StructuredReporter that writes to the provided sinks.
func NewStructuredReporter(output io.Writer, errors io.Writer, options ...ReporterOption) *StructuredReporter {
	if output == nil {
		output = os.Stdout
	}
	if errors == nil {
		errors = output
	}

	reporter := &StructuredReporter{
		outputWriter:      output,
		errorWriter:       errors,
		includeTimestamps: true,
		now:               time.Now,
		startTime:         time.Now(),
		eventCounts:       make(map[string]int),
		levelCounts:       make(map[EventLevel]int),
		counters:          make(map[string]int),
		stageDurations:    make(map[string]time.Duration),
		failedTags:        make(map[string]string),
	}

	for _, option := range options {
		option(reporter)
	}

	return reporter
}

// Report prints the event and updates the event and level counters. Safe for concurrent use.
func (reporter *StructuredReporter) Report(event Event) {
	if reporter == nil {
		return
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = reporter.now()
	}

	level := normalizeLevel(event.Level)
	code := normalizeCode(event.Code)

	reporter.eventCounts[code]++
	reporter.levelCounts[level]++

	writer := reporter.outputWriter
	if level == EventLevelError {
		writer = reporter.errorWriter
	}
	fmt.Fprintln(writer, reporter.formatLine(timestamp, level, code, strings.TrimSpace(event.Message), event.Details))
}

// RecordCount adds delta to a named summary counter.
func (reporter *StructuredReporter) RecordCount(counterName string, delta int) {
	if reporter == nil {
		return
	}
	trimmedName := strings.TrimSpace(counterName)
	if len(trimmedName) == 0 {
		return
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	reporter.counters[trimmedName] += delta
}

// RecordStageDuration accumulates the time spent in a run phase.
func (reporter *StructuredReporter) RecordStageDuration(stageName string, duration time.Duration) {
	if reporter == nil {
		return
	}
	trimmedName := strings.TrimSpace(stageName)
	if len(trimmedName) == 0 {
		return
	}
	if duration < 0 {
		duration = 0
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	reporter.stageDurations[trimmedName] += duration
}

// RecordFailedTag remembers a tag that was not relocated and the commit it pointed at before the run.
func (reporter *StructuredReporter) RecordFailedTag(tagName string, previousTarget string) {
	if reporter == nil {
		return
	}
	trimmedName := strings.TrimSpace(tagName)
	if len(trimmedName) == 0 {
		return
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	reporter.failedTags[trimmedName] = strings.TrimSpace(previousTarget)
}

// SummaryData produces a serializable snapshot of reporter metrics.
func (reporter *StructuredReporter) SummaryData() SummaryData {
	if reporter == nil {
		return SummaryData{
			Counters:       map[string]int{},
			EventCounts:    map[string]int{},
			LevelCounts:    map[EventLevel]int{},
			StageDurations: map[string]int64{},
			DurationHuman:  "0s",
		}
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	duration := reporter.now().Sub(reporter.startTime)
	stageDurations := make(map[string]int64, len(reporter.stageDurations))
	for name, total := range reporter.stageDurations {
		stageDurations[name] = durationMilliseconds(total)
	}

	return SummaryData{
		RunIdentifier:        reporter.runIdentifier,
		Counters:             cloneCounts(reporter.counters),
		EventCounts:          cloneCounts(reporter.eventCounts),
		LevelCounts:          cloneLevelCounts(reporter.levelCounts),
		StageDurations:       stageDurations,
		FailedTags:           cloneTargets(reporter.failedTags),
		DurationHuman:        formatDuration(duration),
		DurationMilliseconds: durationMilliseconds(duration),
	}
}

// PrintSummary writes the summary to the primary output writer in the requested format.
func (reporter *StructuredReporter) PrintSummary(format SummaryFormat) error {
	if reporter == nil {
		return nil
	}
	rendered, renderError := RenderSummary(reporter.SummaryData(), format)
	if renderError != nil {
		return renderError
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	_, writeError := io.WriteString(reporter.outputWriter, rendered)
	return writeError
}

func (reporter *StructuredReporter) formatLine(timestamp time.Time, level EventLevel, code string, message string, details map[string]string) string {
	fields := make([]string, 0, 4)
	if reporter.includeTimestamps {
		fields = append(fields, timestamp.Format(defaultTimestampLayout))
	}
	fields = append(fields, fmt.Sprintf("%-*s", defaultLevelFieldWidth, string(level)))
	fields = append(fields, fmt.Sprintf("%-*s", defaultEventFieldWidth, code))
	if len(message) > 0 {
		fields = append(fields, message)
	}
	line := strings.TrimRight(strings.Join(fields, " "), " ")
	if pairs := formatDetails(details); len(pairs) > 0 {
		line = line + " | " + pairs
	}
	return line
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, details[key]))
	}
	return strings.Join(pairs, " ")
}

func cloneCounts(source map[string]int) map[string]int {
	target := make(map[string]int, len(source))
	for key, value := range source {
		target[key] = value
	}
	return target
}

func cloneTargets(source map[string]string) map[string]string {
	target := make(map[string]string, len(source))
	for key, value := range source {
		target[key] = value
	}
	return target
}

func cloneLevelCounts(source map[EventLevel]int) map[EventLevel]int {
	target := make(map[EventLevel]int, len(source))
	for key, value := range source {
		target[key] = value
	}
	return target
}

func formatDuration(value time.Duration) string {
	if value < 0 {
		value = 0
	}
	rounded := value.Round(time.Millisecond)
	if rounded == 0 && value > 0 {
		rounded = time.Millisecond
	}
	return rounded.String()
}

func durationMilliseconds(value time.Duration) int64 {
	if value < 0 {
		value = 0
	}
	rounded := value.Round(time.Millisecond)
	if rounded == 0 && value > 0 {
		rounded = time.Millisecond
	}
	return rounded.Milliseconds()
}

func normalizeLevel(level EventLevel) EventLevel {
	switch level {
	case EventLevelWarn:
		return EventLevelWarn
	case EventLevelError:
		return EventLevelError
	default:
		return EventLevelInfo
	}
}

func normalizeCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) == 0 {
		return unknownEventCode
	}
	return strings.ReplaceAll(strings.ToUpper(trimmed), " ", "_")
}
