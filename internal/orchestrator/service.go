package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	"github.com/tyemirov/squashtag/internal/publish"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/repos/shared"
	"github.com/tyemirov/squashtag/internal/retag"
	"github.com/tyemirov/squashtag/internal/runlock"
	"github.com/tyemirov/squashtag/internal/squash"
)

const (
	stagePrepare   = "prepare"
	stageResolve   = "resolve"
	stageSquash    = "squash"
	stageEnumerate = "enumerate"
	stageRelocate  = "relocate"
	stagePublish   = "publish"

	repositoryMissingMessage    = "orchestrator repository not configured"
	publishPromptTemplate       = "Force-push %s and relocate %d tag(s) on %s? [y/N/a] "
	publishDeclinedMessage      = "publishing declined; local history is squashed but nothing was pushed"
	runStartedTemplate          = "squashing onto %s/%s"
	remoteSyncedTemplate        = "fetched %s"
	baseResolvedTemplate        = "base %s, %d local commit(s) above it"
	nothingToDoTemplate         = "working tree already matches %s"
	backupCreatedTemplate       = "previous history kept on %s"
	backupPlannedTemplate       = "would keep previous history on %s"
	squashCommittedTemplate     = "squashed %d commit(s) into %s"
	squashPlannedTemplate       = "would squash %d commit(s) above %s"
	tagsSelectedTemplate        = "%d tag(s) selected (%s policy)"
	branchPushedTemplate        = "pushed %s to %s/%s"
	branchPushPlannedTemplate   = "would force-push HEAD to %s/%s"
	runFailedTemplate           = "%v"
	lockReleaseFailedLogMessage = "failed to release run lock"
	runCompletedLogMessage      = "run completed"
	phaseStartedLogMessage      = "phase started"
	allRemotesLabel             = "all remotes"
	detailKeyBase               = "base"
	detailKeyHead               = "head"
	detailKeyCommit             = "commit"
	detailKeyBackup             = "backup"
	detailKeyCount              = "count"
	detailKeyPolicy             = "policy"
	detailKeyRemote             = "remote"
	detailKeyBranch             = "branch"
	detailKeyCode               = "code"
	detailKeyDryRun             = "dry_run"
	logFieldRunID               = "run_id"
	logFieldPhase               = "phase"
	logFieldRepository          = "repository"
	logFieldNothingToDo         = "nothing_to_do"
	logFieldRelocationFailures  = "relocation_failures"
	shortCommitLength           = 7
)

// ErrRepositoryNotConfigured indicates the orchestrator was built without git access.
var ErrRepositoryNotConfigured = errors.New(repositoryMissingMessage)

// Repository is the full set of git operations a run needs.
type Repository interface {
	squash.LocalRepository
	squash.RemoteRepository
	retag.TagLister
	retag.TagRepository
	publish.BranchPusher
	CommonGitDirectory(executionContext context.Context, repositoryPath string) (string, error)
}

// ServiceDependencies enumerates collaborators required by the orchestrator.
type ServiceDependencies struct {
	Repository Repository
	Logger     *zap.Logger
	Reporter   shared.SummaryReporter
	Prompter   shared.ConfirmationPrompter
	Verifier   retag.Verifier
	Clock      shared.Clock
	// RunIdentifier labels logs and the summary; a UUID is generated when empty.
	RunIdentifier string
}

// Options configure one run.
type Options struct {
	RepositoryPath  string
	RemoteName      string
	BranchName      string
	FetchAllRemotes bool
	TagPolicy       retag.Policy
	SemverOnly      bool
	RelocationMode  retag.Mode
	Workers         int
	Message         string
	CreateBackup    bool
	DryRun          bool
	LockWait        time.Duration
}

// Report summarizes a run.
type Report struct {
	RunID          string
	RepositoryPath string
	BaseCommit     string
	PreviousHead   string
	NewCommit      string
	BackupBranch   string
	SelectedTags   []retag.Tag
	Results        []retag.Result
	BranchPushed   bool
	DryRun         bool
	NothingToDo    bool
}

// FailedTags lists the tags whose relocation failed.
func (report Report) FailedTags() []string {
	failed := make([]string, 0)
	for _, result := range report.Results {
		if !result.Succeeded() {
			failed = append(failed, result.Tag.Name)
		}
	}
	return failed
}

// Service sequences remote sync, squash, tag relocation and branch publication.
type Service struct {
	repository    Repository
	logger        *zap.Logger
	reporter      shared.SummaryReporter
	prompter      shared.ConfirmationPrompter
	clock         shared.Clock
	runIdentifier string
	resolver      *squash.BaseResolver
	squasher      *squash.Service
	enumerator    *retag.Enumerator
	engine        *retag.Engine
	finalizer     *publish.Finalizer
}

// NewService wires the phase services around one repository.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Repository == nil {
		return nil, ErrRepositoryNotConfigured
	}

	runIdentifier := strings.TrimSpace(dependencies.RunIdentifier)
	if len(runIdentifier) == 0 {
		runIdentifier = uuid.NewString()
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String(logFieldRunID, runIdentifier))

	reporter := dependencies.Reporter
	if reporter == nil {
		reporter = shared.NewStructuredReporter(io.Discard, io.Discard, shared.WithRunIdentifier(runIdentifier))
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = shared.SystemClock{}
	}

	resolver, resolverError := squash.NewBaseResolver(dependencies.Repository)
	if resolverError != nil {
		return nil, resolverError
	}
	squasher, squasherError := squash.NewService(squash.ServiceDependencies{
		Repository: dependencies.Repository,
		Prompter:   dependencies.Prompter,
		Clock:      clock,
	})
	if squasherError != nil {
		return nil, squasherError
	}
	enumerator, enumeratorError := retag.NewEnumerator(dependencies.Repository)
	if enumeratorError != nil {
		return nil, enumeratorError
	}
	engine, engineError := retag.NewEngine(retag.EngineDependencies{
		Repository: dependencies.Repository,
		Logger:     logger,
		Reporter:   reporter,
		Verifier:   dependencies.Verifier,
	})
	if engineError != nil {
		return nil, engineError
	}
	finalizer, finalizerError := publish.NewFinalizer(dependencies.Repository, logger)
	if finalizerError != nil {
		return nil, finalizerError
	}

	return &Service{
		repository:    dependencies.Repository,
		logger:        logger,
		reporter:      reporter,
		prompter:      dependencies.Prompter,
		clock:         clock,
		runIdentifier: runIdentifier,
		resolver:      resolver,
		squasher:      squasher,
		enumerator:    enumerator,
		engine:        engine,
		finalizer:     finalizer,
	}, nil
}

// RunIdentifier returns the identifier attached to logs and the summary.
func (service *Service) RunIdentifier() string {
	return service.runIdentifier
}

// Run executes one squash-and-retag pass. A working tree that already matches the base yields a
// Report with NothingToDo set and no error. Tag relocation failures do not stop the branch push;
// they are returned after it.
func (service *Service) Run(executionContext context.Context, options Options) (Report, error) {
	report := Report{RunID: service.runIdentifier, RepositoryPath: strings.TrimSpace(options.RepositoryPath), DryRun: options.DryRun}
	runError := service.run(executionContext, options, &report)
	if runError != nil {
		service.reporter.Report(shared.Event{
			Level:          shared.EventLevelError,
			Code:           shared.EventCodeRunFailed,
			RepositoryPath: report.RepositoryPath,
			Message:        fmt.Sprintf(runFailedTemplate, runError),
			Details:        map[string]string{detailKeyCode: repoerrors.CodeOf(runError)},
		})
	}
	service.logger.Info(runCompletedLogMessage,
		zap.String(logFieldRepository, report.RepositoryPath),
		zap.Bool(logFieldNothingToDo, report.NothingToDo),
		zap.Int(logFieldRelocationFailures, len(report.FailedTags())),
		zap.Error(runError),
	)
	return report, runError
}

func (service *Service) run(executionContext context.Context, options Options, report *Report) error {
	repositoryPath := report.RepositoryPath
	service.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           shared.EventCodeRunStarted,
		RepositoryPath: repositoryPath,
		Message:        fmt.Sprintf(runStartedTemplate, options.RemoteName, options.BranchName),
		Details:        map[string]string{detailKeyDryRun: strconv.FormatBool(options.DryRun)},
	})

	var lock *runlock.Lock
	prepareError := service.stage(stagePrepare, func() error {
		if preflightError := service.squasher.Preflight(executionContext, repositoryPath); preflightError != nil {
			return preflightError
		}
		gitDirectory, directoryError := service.repository.CommonGitDirectory(executionContext, repositoryPath)
		if directoryError != nil {
			return repoerrors.Wrap(repoerrors.OperationPrepare, repositoryPath, repoerrors.ErrRepositoryUnavailable, directoryError)
		}
		acquired, lockError := runlock.Acquire(executionContext, gitDirectory, runlock.Options{Wait: options.LockWait, Logger: service.logger})
		if lockError != nil {
			return lockError
		}
		lock = acquired
		return nil
	})
	if prepareError != nil {
		return prepareError
	}
	defer func() {
		if releaseError := lock.Release(); releaseError != nil {
			service.logger.Warn(lockReleaseFailedLogMessage, zap.Error(releaseError))
		}
	}()

	var base squash.BaseResolution
	resolveError := service.stage(stageResolve, func() error {
		resolved, resolveError := service.resolver.Resolve(executionContext, squash.BaseOptions{
			RepositoryPath:  repositoryPath,
			RemoteName:      options.RemoteName,
			BranchName:      options.BranchName,
			FetchAllRemotes: options.FetchAllRemotes,
		})
		base = resolved
		return resolveError
	})
	if resolveError != nil {
		return resolveError
	}
	report.BaseCommit = base.BaseCommit
	report.PreviousHead = base.PreviousHead
	service.reportResolved(options, repositoryPath, base)

	var squashResult squash.Result
	squashError := service.stage(stageSquash, func() error {
		result, squashError := service.squasher.Squash(executionContext, squash.Options{
			RepositoryPath: repositoryPath,
			Base:           base,
			Message:        options.Message,
			CreateBackup:   options.CreateBackup,
			DryRun:         options.DryRun,
		})
		squashResult = result
		return squashError
	})
	var noChanges squash.NoChangesError
	if errors.As(squashError, &noChanges) {
		report.NothingToDo = true
		service.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeNothingToDo,
			RepositoryPath: repositoryPath,
			Message:        fmt.Sprintf(nothingToDoTemplate, shortCommit(base.BaseCommit)),
			Details:        map[string]string{detailKeyBase: shortCommit(base.BaseCommit)},
		})
		return nil
	}
	if squashError != nil {
		return squashError
	}
	report.NewCommit = squashResult.NewCommit
	report.BackupBranch = squashResult.BackupBranch
	service.reportSquashed(options, repositoryPath, base, squashResult)

	var selected []retag.Tag
	enumerateError := service.stage(stageEnumerate, func() error {
		tags, enumerateError := service.enumerator.Enumerate(executionContext, retag.EnumerationOptions{
			RepositoryPath:   repositoryPath,
			Policy:           options.TagPolicy,
			DiscardedCommits: base.DiscardedCommits,
			SemverOnly:       options.SemverOnly,
		})
		selected = tags
		return enumerateError
	})
	if enumerateError != nil {
		return enumerateError
	}
	report.SelectedTags = selected
	service.reporter.RecordCount(shared.CounterTagsSelected, len(selected))
	service.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           shared.EventCodeTagsSelected,
		RepositoryPath: repositoryPath,
		Message:        fmt.Sprintf(tagsSelectedTemplate, len(selected), policyLabel(options.TagPolicy)),
		Details:        map[string]string{detailKeyCount: strconv.Itoa(len(selected)), detailKeyPolicy: policyLabel(options.TagPolicy)},
	})

	if !options.DryRun {
		if confirmError := service.confirmPublish(options, repositoryPath, len(selected)); confirmError != nil {
			return confirmError
		}
	}

	var relocationError error
	_ = service.stage(stageRelocate, func() error {
		results, relocateError := service.engine.Relocate(executionContext, selected, retag.EngineOptions{
			RepositoryPath: repositoryPath,
			RemoteName:     options.RemoteName,
			TargetCommit:   squashResult.NewCommit,
			Workers:        options.Workers,
			Mode:           options.RelocationMode,
			DryRun:         options.DryRun,
		})
		report.Results = results
		relocationError = relocateError
		return relocateError
	})
	service.recordRelocation(options, report.Results)

	publishError := service.stage(stagePublish, func() error {
		return service.finalizer.Publish(executionContext, publish.Options{
			RepositoryPath: repositoryPath,
			RemoteName:     options.RemoteName,
			BranchName:     options.BranchName,
		})
	})
	if publishError == nil && options.DryRun {
		service.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeBranchPushPlanned,
			RepositoryPath: repositoryPath,
			Message:        fmt.Sprintf(branchPushPlannedTemplate, options.RemoteName, options.BranchName),
			Details:        map[string]string{detailKeyRemote: options.RemoteName, detailKeyBranch: options.BranchName},
		})
	}
	if publishError == nil && !options.DryRun {
		report.BranchPushed = true
		service.reporter.RecordCount(shared.CounterBranchPushed, 1)
		service.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeBranchPushed,
			RepositoryPath: repositoryPath,
			Message:        fmt.Sprintf(branchPushedTemplate, shortCommit(squashResult.NewCommit), options.RemoteName, options.BranchName),
			Details:        map[string]string{detailKeyRemote: options.RemoteName, detailKeyBranch: options.BranchName},
		})
	}

	return errors.Join(publishError, relocationError)
}

func (service *Service) stage(name string, operation func() error) error {
	service.logger.Debug(phaseStartedLogMessage, zap.String(logFieldPhase, name))
	startedAt := service.clock.Now()
	operationError := operation()
	service.reporter.RecordStageDuration(name, service.clock.Now().Sub(startedAt))
	return operationError
}

func (service *Service) confirmPublish(options Options, repositoryPath string, tagCount int) error {
	if service.prompter == nil {
		return repoerrors.WrapMessage(repoerrors.OperationPublish, repositoryPath, repoerrors.ErrConfirmationDeclined, publishDeclinedMessage)
	}
	prompt := fmt.Sprintf(publishPromptTemplate, options.BranchName, tagCount, options.RemoteName)
	confirmation, promptError := service.prompter.Confirm(prompt)
	if promptError != nil {
		return repoerrors.Wrap(repoerrors.OperationPublish, repositoryPath, repoerrors.ErrConfirmationDeclined, promptError)
	}
	if !confirmation.Confirmed {
		return repoerrors.WrapMessage(repoerrors.OperationPublish, repositoryPath, repoerrors.ErrConfirmationDeclined, publishDeclinedMessage)
	}
	return nil
}

func (service *Service) reportResolved(options Options, repositoryPath string, base squash.BaseResolution) {
	fetched := options.RemoteName
	if options.FetchAllRemotes {
		fetched = allRemotesLabel
	}
	service.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           shared.EventCodeRemoteSynced,
		RepositoryPath: repositoryPath,
		Message:        fmt.Sprintf(remoteSyncedTemplate, fetched),
		Details:        map[string]string{detailKeyRemote: options.RemoteName},
	})
	service.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           shared.EventCodeBaseResolved,
		RepositoryPath: repositoryPath,
		Message:        fmt.Sprintf(baseResolvedTemplate, shortCommit(base.BaseCommit), len(base.DiscardedCommits)),
		Details: map[string]string{
			detailKeyBase:  shortCommit(base.BaseCommit),
			detailKeyHead:  shortCommit(base.PreviousHead),
			detailKeyCount: strconv.Itoa(len(base.DiscardedCommits)),
		},
	})
}

func (service *Service) reportSquashed(options Options, repositoryPath string, base squash.BaseResolution, result squash.Result) {
	service.reporter.RecordCount(shared.CounterCommitsFolded, result.SquashedCommits)
	if options.DryRun {
		if len(result.PlannedBackupBranch) > 0 {
			service.reporter.Report(shared.Event{
				Level:          shared.EventLevelInfo,
				Code:           shared.EventCodeBackupPlanned,
				RepositoryPath: repositoryPath,
				Message:        fmt.Sprintf(backupPlannedTemplate, result.PlannedBackupBranch),
				Details:        map[string]string{detailKeyBackup: result.PlannedBackupBranch},
			})
		}
		service.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeSquashPlanned,
			RepositoryPath: repositoryPath,
			Message:        fmt.Sprintf(squashPlannedTemplate, result.SquashedCommits, shortCommit(base.BaseCommit)),
			Details: map[string]string{
				detailKeyBase:  shortCommit(base.BaseCommit),
				detailKeyCount: strconv.Itoa(result.SquashedCommits),
			},
		})
		return
	}

	if len(result.BackupBranch) > 0 {
		service.reporter.Report(shared.Event{
			Level:          shared.EventLevelInfo,
			Code:           shared.EventCodeBackupCreated,
			RepositoryPath: repositoryPath,
			Message:        fmt.Sprintf(backupCreatedTemplate, result.BackupBranch),
			Details:        map[string]string{detailKeyBackup: result.BackupBranch},
		})
	}
	service.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           shared.EventCodeSquashCommitted,
		RepositoryPath: repositoryPath,
		Message:        fmt.Sprintf(squashCommittedTemplate, result.SquashedCommits, shortCommit(result.NewCommit)),
		Details: map[string]string{
			detailKeyCommit: shortCommit(result.NewCommit),
			detailKeyCount:  strconv.Itoa(result.SquashedCommits),
		},
	})
}

func (service *Service) recordRelocation(options Options, results []retag.Result) {
	succeeded := 0
	restored := 0
	failed := 0
	for _, result := range results {
		if result.Succeeded() {
			succeeded++
			continue
		}
		failed++
		if result.Restored {
			restored++
		}
		service.reporter.RecordFailedTag(result.Tag.Name, shortCommit(result.Tag.Target))
	}
	if options.DryRun {
		service.reporter.RecordCount(shared.CounterTagsPlanned, succeeded)
	} else {
		service.reporter.RecordCount(shared.CounterTagsRelocated, succeeded)
	}
	service.reporter.RecordCount(shared.CounterTagsFailed, failed)
	if restored > 0 {
		service.reporter.RecordCount(shared.CounterTagsRestored, restored)
	}
}

func policyLabel(policy retag.Policy) string {
	if len(policy) == 0 {
		return string(retag.PolicyScoped)
	}
	return string(policy)
}

func shortCommit(commit string) string {
	if len(commit) > shortCommitLength {
		return commit[:shortCommitLength]
	}
	return commit
}

var _ Repository = (*gitrepo.RepositoryManager)(nil)
