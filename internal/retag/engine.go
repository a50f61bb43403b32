package retag

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/repos/shared"
)

// Mode selects how a tag is moved.
type Mode string

// Supported relocation modes.
const (
	// ModeRecreate deletes the tag locally and remotely, then creates and pushes it again.
	ModeRecreate Mode = "recreate"
	// ModeForce overwrites the tag in place with tag -f and push --force.
	ModeForce Mode = "force"
)

const (
	unsupportedModeTemplate        = "unsupported relocation mode %q (expected recreate or force)"
	engineRepositoryMissingMessage = "relocation engine repository not configured"
	engineLoggerMissingMessage     = "relocation engine logger not configured"
	tagRelocatedLogMessage         = "tag relocated"
	tagRelocationFailedLogMessage  = "tag relocation failed"
	tagRestoreFailedLogMessage     = "tag could not be restored"
	restoreFailedTemplate          = "restore failed: %w"
	relocationStartedLogMessage    = "tag relocation started"
	tagRelocatedEventTemplate      = "%s moved to %s"
	tagRemoteMissingEventTemplate  = "%s was not present on %s"
	tagVerifiedEventTemplate       = "%s resolves to %s"
	tagRestoredEventTemplate       = "%s left at %s"
	tagPlannedEventTemplate        = "%s would move from %s to the squash commit"
	logFieldTag                    = "tag"
	logFieldWorker                 = "worker"
	logFieldWorkers                = "workers"
	logFieldTags                   = "tags"
	logFieldCommit                 = "commit"
	logFieldMode                   = "mode"
	logFieldRemoteMissing          = "remote_tag_missing"
	logFieldPreviousTarget         = "previous_target"
	detailKeyTag                   = "tag"
	detailKeyWorker                = "worker"
	detailKeyCommit                = "commit"
	detailKeyRemote                = "remote"
	detailKeyPreviousTarget        = "previous"
	shortCommitLength              = 7
)

var (
	// ErrEngineRepositoryNotConfigured indicates the engine was built without git access.
	ErrEngineRepositoryNotConfigured = errors.New(engineRepositoryMissingMessage)
	// ErrEngineLoggerNotConfigured indicates the engine was built without a logger.
	ErrEngineLoggerNotConfigured = errors.New(engineLoggerMissingMessage)
)

// ParseMode normalizes a configured relocation mode. Empty values select ModeRecreate.
func ParseMode(rawValue string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(rawValue))) {
	case "", ModeRecreate:
		return ModeRecreate, nil
	case ModeForce:
		return ModeForce, nil
	default:
		return "", fmt.Errorf(unsupportedModeTemplate, rawValue)
	}
}

// TagRepository exposes the git operations used to move one tag.
type TagRepository interface {
	TagMessage(executionContext context.Context, repositoryPath string, tagName string) (string, error)
	DeleteTag(executionContext context.Context, repositoryPath string, tagName string) error
	PushTagDeletion(executionContext context.Context, repositoryPath string, remoteName string, tagName string) (bool, error)
	CreateTag(executionContext context.Context, repositoryPath string, specification gitrepo.TagSpecification) error
	PushTag(executionContext context.Context, repositoryPath string, remoteName string, tagName string, force bool) error
}

// Verifier checks where tags point after relocation.
type Verifier interface {
	Verify(repositoryPath string, tags []Tag, expectedCommit string) map[string]error
}

// EngineDependencies enumerates collaborators required by the relocation engine.
type EngineDependencies struct {
	Repository TagRepository
	Logger     *zap.Logger
	Reporter   shared.Reporter
	Verifier   Verifier
}

// EngineOptions configure one relocation pass.
type EngineOptions struct {
	RepositoryPath string
	RemoteName     string
	TargetCommit   string
	Workers        int
	Mode           Mode
	DryRun         bool
}

// Engine relocates tags concurrently.
type Engine struct {
	repository TagRepository
	logger     *zap.Logger
	reporter   shared.Reporter
	verifier   Verifier
}

type indexedResult struct {
	index  int
	result Result
}

// NewEngine constructs an Engine.
func NewEngine(dependencies EngineDependencies) (*Engine, error) {
	if dependencies.Repository == nil {
		return nil, ErrEngineRepositoryNotConfigured
	}
	if dependencies.Logger == nil {
		return nil, ErrEngineLoggerNotConfigured
	}
	return &Engine{
		repository: dependencies.Repository,
		logger:     dependencies.Logger,
		reporter:   dependencies.Reporter,
		verifier:   dependencies.Verifier,
	}, nil
}

// EffectiveWorkers returns the worker count used for the number of tags.
func EffectiveWorkers(requested int, tagCount int) int {
	workers := requested
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > tagCount {
		workers = tagCount
	}
	return workers
}

// Relocate moves every tag to options.TargetCommit. Worker i handles tags i, i+N, i+2N and so on.
// A failing tag never stops other workers. Results are returned in input order together with a
// joined error naming every failed tag.
func (engine *Engine) Relocate(executionContext context.Context, tags []Tag, options EngineOptions) ([]Result, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	mode := options.Mode
	if len(mode) == 0 {
		mode = ModeRecreate
	}
	workers := EffectiveWorkers(options.Workers, len(tags))

	engine.logger.Info(relocationStartedLogMessage,
		zap.Int(logFieldTags, len(tags)),
		zap.Int(logFieldWorkers, workers),
		zap.String(logFieldMode, string(mode)),
		zap.String(logFieldCommit, options.TargetCommit),
	)

	resultChannel := make(chan indexedResult, len(tags))
	var waitGroup sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		waitGroup.Add(1)
		go func(worker int) {
			defer waitGroup.Done()
			for index := worker; index < len(tags); index += workers {
				item := WorkItem{
					Tag:            tags[index],
					TargetCommit:   options.TargetCommit,
					RemoteName:     options.RemoteName,
					RepositoryPath: options.RepositoryPath,
				}
				resultChannel <- indexedResult{index: index, result: engine.relocate(executionContext, worker, mode, item)}
			}
		}(worker)
	}
	go func() {
		waitGroup.Wait()
		close(resultChannel)
	}()

	results := make([]Result, len(tags))
	for received := range resultChannel {
		results[received.index] = received.result
	}

	if !options.DryRun && engine.verifier != nil {
		engine.applyVerification(options, results)
	}

	failures := make([]error, 0)
	for _, result := range results {
		engine.report(options, result)
		if result.Error != nil {
			failures = append(failures, result.Error)
		}
	}
	if len(failures) > 0 {
		return results, repoerrors.Wrap(repoerrors.OperationRelocateTags, options.RepositoryPath, repoerrors.ErrTagRelocationFailed, errors.Join(failures...))
	}
	return results, nil
}

func (engine *Engine) relocate(executionContext context.Context, worker int, mode Mode, item WorkItem) Result {
	result := Result{Tag: item.Tag, Worker: worker}
	fail := func(cause error) Result {
		engine.logger.Warn(tagRelocationFailedLogMessage,
			zap.String(logFieldTag, item.Tag.Name),
			zap.Int(logFieldWorker, worker),
			zap.String(logFieldPreviousTarget, item.Tag.Target),
			zap.Error(cause),
		)
		result.Error = TagRelocationError{Tag: item.Tag.Name, PreviousTarget: item.Tag.Target, Cause: cause}
		return result
	}

	specification := gitrepo.TagSpecification{
		Name:      item.Tag.Name,
		Target:    item.TargetCommit,
		Annotated: item.Tag.Annotated(),
		Force:     mode == ModeForce,
	}
	if specification.Annotated {
		message, messageError := engine.repository.TagMessage(executionContext, item.RepositoryPath, item.Tag.Name)
		if messageError != nil {
			return fail(messageError)
		}
		specification.Message = message
	}

	// Failures past this point put the tag back at item.Tag.Target. The remote copy is
	// restored only when this run removed or overwrote it.
	remoteTouched := false
	rollback := func(cause error) Result {
		failed := fail(cause)
		relocationError := TagRelocationError{Tag: item.Tag.Name, PreviousTarget: item.Tag.Target, Cause: cause}
		if restoreError := engine.restore(executionContext, item, specification, remoteTouched); restoreError != nil {
			engine.logger.Error(tagRestoreFailedLogMessage,
				zap.String(logFieldTag, item.Tag.Name),
				zap.String(logFieldPreviousTarget, item.Tag.Target),
				zap.Error(restoreError),
			)
			relocationError.Cause = errors.Join(cause, fmt.Errorf(restoreFailedTemplate, restoreError))
		} else {
			relocationError.Restored = true
			failed.Restored = true
		}
		failed.Error = relocationError
		return failed
	}

	if mode == ModeRecreate {
		if deleteError := engine.repository.DeleteTag(executionContext, item.RepositoryPath, item.Tag.Name); deleteError != nil {
			return fail(deleteError)
		}
		remoteMissing, remoteDeleteError := engine.repository.PushTagDeletion(executionContext, item.RepositoryPath, item.RemoteName, item.Tag.Name)
		if remoteDeleteError != nil {
			return rollback(remoteDeleteError)
		}
		result.RemoteTagMissing = remoteMissing
		remoteTouched = !remoteMissing
	}

	if createError := engine.repository.CreateTag(executionContext, item.RepositoryPath, specification); createError != nil {
		return rollback(createError)
	}
	if mode == ModeForce {
		remoteTouched = true
	}
	if pushError := engine.repository.PushTag(executionContext, item.RepositoryPath, item.RemoteName, item.Tag.Name, mode == ModeForce); pushError != nil {
		return rollback(pushError)
	}

	engine.logger.Info(tagRelocatedLogMessage,
		zap.String(logFieldTag, item.Tag.Name),
		zap.Int(logFieldWorker, worker),
		zap.String(logFieldCommit, item.TargetCommit),
		zap.Bool(logFieldRemoteMissing, result.RemoteTagMissing),
	)
	return result
}

// restore recreates the tag at its pre-run commit, annotated tags with their saved message.
func (engine *Engine) restore(executionContext context.Context, item WorkItem, specification gitrepo.TagSpecification, pushRemote bool) error {
	original := specification
	original.Target = item.Tag.Target
	original.Force = true
	if createError := engine.repository.CreateTag(executionContext, item.RepositoryPath, original); createError != nil {
		return createError
	}
	if !pushRemote {
		return nil
	}
	return engine.repository.PushTag(executionContext, item.RepositoryPath, item.RemoteName, item.Tag.Name, true)
}

func (engine *Engine) applyVerification(options EngineOptions, results []Result) {
	relocated := make([]Tag, 0, len(results))
	for _, result := range results {
		if result.Error == nil {
			relocated = append(relocated, result.Tag)
		}
	}
	if len(relocated) == 0 {
		return
	}
	mismatches := engine.verifier.Verify(options.RepositoryPath, relocated, options.TargetCommit)
	for index := range results {
		if results[index].Error != nil {
			continue
		}
		if mismatch, found := mismatches[results[index].Tag.Name]; found {
			results[index].Error = TagRelocationError{Tag: results[index].Tag.Name, Cause: mismatch}
			continue
		}
		results[index].Verified = true
	}
}

func (engine *Engine) report(options EngineOptions, result Result) {
	if engine.reporter == nil {
		return
	}
	details := map[string]string{
		detailKeyTag:    result.Tag.Name,
		detailKeyWorker: strconv.Itoa(result.Worker),
	}
	if result.Error != nil {
		details[detailKeyPreviousTarget] = shortCommit(result.Tag.Target)
		engine.reporter.Report(shared.Event{
			Level:          shared.EventLevelError,
			Code:           shared.EventCodeTagRelocationFailed,
			RepositoryPath: options.RepositoryPath,
			Message:        result.Error.Error(),
			Details:        details,
		})
		if result.Restored {
			engine.reporter.Report(shared.Event{
				Level:          shared.EventLevelWarn,
				Code:           shared.EventCodeTagRestored,
				RepositoryPath: options.RepositoryPath,
				Message:        fmt.Sprintf(tagRestoredEventTemplate, result.Tag.Name, shortCommit(result.Tag.Target)),
				Details:        map[string]string{detailKeyTag: result.Tag.Name, detailKeyCommit: shortCommit(result.Tag.Target)},
			})
		}
		return
	}
	if options.DryRun {
		engine.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeTagRelocationPlanned,
			RepositoryPath: options.RepositoryPath,
			Message:        fmt.Sprintf(tagPlannedEventTemplate, result.Tag.Name, shortCommit(result.Tag.Target)),
			Details:        details,
		})
		return
	}
	if result.RemoteTagMissing {
		engine.reporter.Report(shared.Event{
			Level:          shared.EventLevelWarn,
			Code:           shared.EventCodeTagRemoteMissing,
			RepositoryPath: options.RepositoryPath,
			Message:        fmt.Sprintf(tagRemoteMissingEventTemplate, result.Tag.Name, options.RemoteName),
			Details:        map[string]string{detailKeyTag: result.Tag.Name, detailKeyRemote: options.RemoteName},
		})
	}
	details[detailKeyCommit] = shortCommit(options.TargetCommit)
	engine.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           shared.EventCodeTagRelocated,
		RepositoryPath: options.RepositoryPath,
		Message:        fmt.Sprintf(tagRelocatedEventTemplate, result.Tag.Name, shortCommit(options.TargetCommit)),
		Details:        details,
	})
	if result.Verified {
		engine.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeTagVerified,
			RepositoryPath: options.RepositoryPath,
			Message:        fmt.Sprintf(tagVerifiedEventTemplate, result.Tag.Name, shortCommit(options.TargetCommit)),
			Details:        map[string]string{detailKeyTag: result.Tag.Name, detailKeyCommit: shortCommit(options.TargetCommit)},
		})
	}
}

func shortCommit(commit string) string {
	if len(commit) > shortCommitLength {
		return commit[:shortCommitLength]
	}
	return commit
}
