package squash

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/squashtag/internal/execshell"
	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/repos/shared"
)

const (
	// DefaultCommitMessage is used when no squash message is configured.
	DefaultCommitMessage = "chore(release): Squash local commits [skip ci]"
	// BackupBranchPrefix prefixes the branch that preserves the pre-squash HEAD.
	BackupBranchPrefix = "squashtag/backup-"

	gitHeadRevision                   = "HEAD"
	backupTimestampLayout             = "20060102-150405"
	shortHashLength                   = 7
	repositoryMissingMessage          = "squash repository not configured"
	confirmationPromptTemplate        = "Squash %d commit(s) above %s into one commit? [y/N/a] "
	confirmationDeclinedMessage       = "squash declined"
	noChangesMessageTemplate          = "nothing to do: working tree already matches %s"
	squashStepFailureTemplate         = "%s failed: %v"
	squashStepFailureWithHintTemplate = "%s failed: %v; restore the previous history with: git reset --hard %s"
	squashStepReset                   = "reset"
	squashStepStage                   = "stage"
	squashStepCommit                  = "commit"
	squashStepResolve                 = "resolve new commit"
)

// ErrRepositoryNotConfigured indicates the service was built without git access.
var ErrRepositoryNotConfigured = errors.New(repositoryMissingMessage)

// LocalRepository exposes the git operations needed to rewrite local history.
type LocalRepository interface {
	EnsureWorkTree(executionContext context.Context, repositoryPath string) error
	EnsureNoOperationInProgress(executionContext context.Context, repositoryPath string) error
	TreeOf(executionContext context.Context, repositoryPath string, revision string) (string, error)
	CheckCleanWorktree(executionContext context.Context, repositoryPath string) (bool, error)
	CreateBranch(executionContext context.Context, repositoryPath string, branchName string, startPoint string) error
	SoftReset(executionContext context.Context, repositoryPath string, commit string) error
	StageAll(executionContext context.Context, repositoryPath string) error
	Commit(executionContext context.Context, repositoryPath string, message string) error
	ResolveHead(executionContext context.Context, repositoryPath string) (string, error)
}

// NoChangesError reports that squashing would produce a commit identical to the base.
type NoChangesError struct {
	BaseCommit string
}

// Error describes the no-op condition.
func (noChanges NoChangesError) Error() string {
	return fmt.Sprintf(noChangesMessageTemplate, shortHash(noChanges.BaseCommit))
}

// StepError reports which part of the squash procedure failed and how to recover.
type StepError struct {
	Step         string
	BackupBranch string
	Cause        error
}

// Error describes the failed step, including the backup branch when one exists.
func (stepError StepError) Error() string {
	if len(stepError.BackupBranch) == 0 {
		return fmt.Sprintf(squashStepFailureTemplate, stepError.Step, stepError.Cause)
	}
	return fmt.Sprintf(squashStepFailureWithHintTemplate, stepError.Step, stepError.Cause, stepError.BackupBranch)
}

// Unwrap exposes the underlying error.
func (stepError StepError) Unwrap() error {
	return stepError.Cause
}

// ServiceDependencies enumerates collaborators required by the squash service.
type ServiceDependencies struct {
	Repository LocalRepository
	Prompter   shared.ConfirmationPrompter
	Clock      shared.Clock
}

// Options configure one squash.
type Options struct {
	RepositoryPath string
	Base           BaseResolution
	Message        string
	CreateBackup   bool
	DryRun         bool
}

// Result captures the outcome of a squash.
type Result struct {
	NewCommit    string
	BackupBranch string
	// PlannedBackupBranch names the backup a dry run would have created.
	PlannedBackupBranch string
	SquashedCommits     int
	Message             string
}

// Service collapses local commits above the base into one commit.
type Service struct {
	repository LocalRepository
	prompter   shared.ConfirmationPrompter
	clock      shared.Clock
}

// NewService constructs a Service from dependencies.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Repository == nil {
		return nil, ErrRepositoryNotConfigured
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Service{repository: dependencies.Repository, prompter: dependencies.Prompter, clock: clock}, nil
}

// Preflight verifies the path is a work tree with no unfinished git operation.
func (service *Service) Preflight(executionContext context.Context, repositoryPath string) error {
	if workTreeError := service.repository.EnsureWorkTree(executionContext, repositoryPath); workTreeError != nil {
		return repoerrors.Wrap(repoerrors.OperationPrepare, repositoryPath, repoerrors.ErrRepositoryUnavailable, workTreeError)
	}
	if progressError := service.repository.EnsureNoOperationInProgress(executionContext, repositoryPath); progressError != nil {
		var inProgress gitrepo.OperationInProgressError
		if errors.As(progressError, &inProgress) {
			return repoerrors.Wrap(repoerrors.OperationPrepare, repositoryPath, repoerrors.ErrOperationInProgress, progressError)
		}
		return repoerrors.Wrap(repoerrors.OperationPrepare, repositoryPath, repoerrors.ErrRepositoryUnavailable, progressError)
	}
	return nil
}

// Squash replaces base..HEAD with one commit holding the current working tree.
// It returns NoChangesError, unwrapped, when the working tree already equals the base.
func (service *Service) Squash(executionContext context.Context, options Options) (Result, error) {
	repositoryPath := strings.TrimSpace(options.RepositoryPath)
	baseCommit := options.Base.BaseCommit

	unchanged, comparisonError := service.matchesBase(executionContext, repositoryPath, baseCommit)
	if comparisonError != nil {
		return Result{}, repoerrors.Wrap(repoerrors.OperationSquash, repositoryPath, repoerrors.ErrSquashFailed, comparisonError)
	}
	if unchanged {
		return Result{}, NoChangesError{BaseCommit: baseCommit}
	}

	if !options.DryRun {
		if confirmError := service.confirm(options); confirmError != nil {
			return Result{}, confirmError
		}
	}

	message := strings.TrimSpace(options.Message)
	if len(message) == 0 {
		message = DefaultCommitMessage
	}

	result := Result{SquashedCommits: len(options.Base.DiscardedCommits), Message: message}

	if options.CreateBackup {
		backupBranch := BackupBranchPrefix + service.clock.Now().UTC().Format(backupTimestampLayout)
		if backupError := service.repository.CreateBranch(executionContext, repositoryPath, backupBranch, options.Base.PreviousHead); backupError != nil {
			return Result{}, repoerrors.Wrap(repoerrors.OperationSquash, repositoryPath, repoerrors.ErrBackupFailed, backupError)
		}
		if options.DryRun {
			result.PlannedBackupBranch = backupBranch
		} else {
			result.BackupBranch = backupBranch
		}
	}

	if resetError := service.repository.SoftReset(executionContext, repositoryPath, baseCommit); resetError != nil {
		return Result{}, service.stepFailure(repositoryPath, squashStepReset, result.BackupBranch, resetError)
	}
	if stageError := service.repository.StageAll(executionContext, repositoryPath); stageError != nil {
		return Result{}, service.stepFailure(repositoryPath, squashStepStage, result.BackupBranch, stageError)
	}
	if commitError := service.repository.Commit(executionContext, repositoryPath, message); commitError != nil {
		return Result{}, service.stepFailure(repositoryPath, squashStepCommit, result.BackupBranch, commitError)
	}

	if options.DryRun {
		result.NewCommit = execshell.DryRunPlaceholderOutput
		return result, nil
	}

	newCommit, headError := service.repository.ResolveHead(executionContext, repositoryPath)
	if headError != nil {
		return Result{}, service.stepFailure(repositoryPath, squashStepResolve, result.BackupBranch, headError)
	}
	result.NewCommit = newCommit
	return result, nil
}

func (service *Service) matchesBase(executionContext context.Context, repositoryPath string, baseCommit string) (bool, error) {
	headTree, headTreeError := service.repository.TreeOf(executionContext, repositoryPath, gitHeadRevision)
	if headTreeError != nil {
		return false, headTreeError
	}
	baseTree, baseTreeError := service.repository.TreeOf(executionContext, repositoryPath, baseCommit)
	if baseTreeError != nil {
		return false, baseTreeError
	}
	if headTree != baseTree {
		return false, nil
	}
	return service.repository.CheckCleanWorktree(executionContext, repositoryPath)
}

func (service *Service) confirm(options Options) error {
	repositoryPath := strings.TrimSpace(options.RepositoryPath)
	if service.prompter == nil {
		return repoerrors.WrapMessage(repoerrors.OperationSquash, repositoryPath, repoerrors.ErrConfirmationDeclined, confirmationDeclinedMessage)
	}
	prompt := fmt.Sprintf(confirmationPromptTemplate, len(options.Base.DiscardedCommits), options.Base.RemoteReference)
	confirmation, promptError := service.prompter.Confirm(prompt)
	if promptError != nil {
		return repoerrors.Wrap(repoerrors.OperationSquash, repositoryPath, repoerrors.ErrConfirmationDeclined, promptError)
	}
	if !confirmation.Confirmed {
		return repoerrors.WrapMessage(repoerrors.OperationSquash, repositoryPath, repoerrors.ErrConfirmationDeclined, confirmationDeclinedMessage)
	}
	return nil
}

func (service *Service) stepFailure(repositoryPath string, step string, backupBranch string, cause error) error {
	return repoerrors.Wrap(repoerrors.OperationSquash, repositoryPath, repoerrors.ErrSquashFailed, StepError{Step: step, BackupBranch: backupBranch, Cause: cause})
}

func shortHash(hash string) string {
	if len(hash) > shortHashLength {
		return hash[:shortHashLength]
	}
	return hash
}
