package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tyemirov/squashtag/internal/execshell"
)

const (
	gitStatusSubcommandConstant               = "status"
	gitStatusPorcelainFlagConstant            = "--porcelain"
	gitRevParseSubcommandConstant             = "rev-parse"
	gitIsInsideWorkTreeFlagConstant           = "--is-inside-work-tree"
	gitAbsoluteGitDirFlagConstant             = "--absolute-git-dir"
	gitCommonDirFlagConstant                  = "--git-common-dir"
	gitHeadReferenceConstant                  = "HEAD"
	gitBranchSubcommandConstant               = "branch"
	gitResetSubcommandConstant                = "reset"
	gitSoftFlagConstant                       = "--soft"
	gitAddSubcommandConstant                  = "add"
	gitAllFlagConstant                        = "--all"
	gitCommitSubcommandConstant               = "commit"
	gitNoVerifyFlagConstant                   = "--no-verify"
	gitMessageFlagConstant                    = "-m"
	gitTrueOutputConstant                     = "true"
	repositoryPathFieldNameConstant           = "repository_path"
	branchNameFieldNameConstant               = "branch_name"
	startPointFieldNameConstant               = "start_point"
	commitFieldNameConstant                   = "commit"
	commitMessageFieldNameConstant            = "commit_message"
	requiredValueMessageConstant              = "value required"
	notWorkTreeMessageConstant                = "not inside a git work tree"
	executorNotConfiguredMessageConstant      = "git executor not configured"
	repositoryOperationErrorTemplateConstant  = "%s operation failed"
	repositoryOperationErrorWithCauseConstant = "%s operation failed: %s"
	invalidRepositoryInputTemplateConstant    = "%s: %s"
	operationInProgressTemplateConstant       = "git operation in progress (%s exists); abort or finish it first"
	worktreeStatusOperationNameConstant       = RepositoryOperationName("WorktreeStatus")
	workTreeCheckOperationNameConstant        = RepositoryOperationName("CheckWorkTree")
	gitDirectoryOperationNameConstant         = RepositoryOperationName("ResolveGitDirectory")
	commonGitDirectoryOperationNameConstant   = RepositoryOperationName("ResolveCommonGitDirectory")
	createBranchOperationNameConstant         = RepositoryOperationName("CreateBranch")
	softResetOperationNameConstant            = RepositoryOperationName("SoftReset")
	stageAllOperationNameConstant             = RepositoryOperationName("StageAll")
	commitOperationNameConstant               = RepositoryOperationName("Commit")
)

var inProgressMarkerNames = []string{
	"rebase-merge",
	"rebase-apply",
	"REBASE_HEAD",
	"MERGE_HEAD",
	"CHERRY_PICK_HEAD",
	"REVERT_HEAD",
	"BISECT_LOG",
}

// GitCommandExecutor exposes the subset of execshell functionality required by RepositoryManager.
type GitCommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// RepositoryManager coordinates Git operations through execshell.
type RepositoryManager struct {
	executor GitCommandExecutor
}

var (
	// ErrGitExecutorNotConfigured indicates the RepositoryManager was constructed without a git executor.
	ErrGitExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
	// ErrNotWorkTree indicates the repository path is not inside a git work tree.
	ErrNotWorkTree = errors.New(notWorkTreeMessageConstant)
)

// InvalidRepositoryInputError indicates validation failures for repository operations.
type InvalidRepositoryInputError struct {
	FieldName string
	Message   string
}

// Error describes the validation failure.
func (inputError InvalidRepositoryInputError) Error() string {
	return fmt.Sprintf(invalidRepositoryInputTemplateConstant, inputError.FieldName, inputError.Message)
}

// RepositoryOperationName captures descriptive names for repository operations.
type RepositoryOperationName string

// RepositoryOperationError wraps execution failures for git operations.
type RepositoryOperationError struct {
	Operation RepositoryOperationName
	Cause     error
}

// Error describes the repository operation failure.
func (operationError RepositoryOperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(repositoryOperationErrorTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(repositoryOperationErrorWithCauseConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying error.
func (operationError RepositoryOperationError) Unwrap() error {
	return operationError.Cause
}

// OperationInProgressError reports an unfinished rebase, merge, cherry-pick, revert or bisect.
type OperationInProgressError struct {
	Marker string
}

// Error names the marker that was found.
func (progressError OperationInProgressError) Error() string {
	return fmt.Sprintf(operationInProgressTemplateConstant, progressError.Marker)
}

// NewRepositoryManager constructs a RepositoryManager for the provided executor.
func NewRepositoryManager(executor GitCommandExecutor) (*RepositoryManager, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &RepositoryManager{executor: executor}, nil
}

// EnsureWorkTree verifies the repository path is inside a git work tree.
func (manager *RepositoryManager) EnsureWorkTree(executionContext context.Context, repositoryPath string) error {
	executionResult, executionError := manager.run(executionContext, workTreeCheckOperationNameConstant, repositoryPath, false, gitRevParseSubcommandConstant, gitIsInsideWorkTreeFlagConstant)
	if executionError != nil {
		return executionError
	}
	if executionResult.TrimmedOutput() != gitTrueOutputConstant {
		return RepositoryOperationError{Operation: workTreeCheckOperationNameConstant, Cause: ErrNotWorkTree}
	}
	return nil
}

// GitDirectory returns the absolute path of the repository's git directory.
func (manager *RepositoryManager) GitDirectory(executionContext context.Context, repositoryPath string) (string, error) {
	executionResult, executionError := manager.run(executionContext, gitDirectoryOperationNameConstant, repositoryPath, false, gitRevParseSubcommandConstant, gitAbsoluteGitDirFlagConstant)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.TrimmedOutput(), nil
}

// CommonGitDirectory returns the git directory shared by every worktree of the repository.
// Git may print it relative to repositoryPath.
func (manager *RepositoryManager) CommonGitDirectory(executionContext context.Context, repositoryPath string) (string, error) {
	executionResult, executionError := manager.run(executionContext, commonGitDirectoryOperationNameConstant, repositoryPath, false, gitRevParseSubcommandConstant, gitCommonDirFlagConstant)
	if executionError != nil {
		return "", executionError
	}
	commonDirectory := executionResult.TrimmedOutput()
	if !filepath.IsAbs(commonDirectory) {
		commonDirectory = filepath.Join(repositoryPath, commonDirectory)
	}
	return filepath.Clean(commonDirectory), nil
}

// EnsureNoOperationInProgress fails when git state files of an unfinished operation exist.
func (manager *RepositoryManager) EnsureNoOperationInProgress(executionContext context.Context, repositoryPath string) error {
	gitDirectory, directoryError := manager.GitDirectory(executionContext, repositoryPath)
	if directoryError != nil {
		return directoryError
	}
	for _, markerName := range inProgressMarkerNames {
		if _, statError := os.Stat(filepath.Join(gitDirectory, markerName)); statError == nil {
			return OperationInProgressError{Marker: markerName}
		}
	}
	return nil
}

// WorktreeStatus returns the porcelain status entries for the repository.
func (manager *RepositoryManager) WorktreeStatus(executionContext context.Context, repositoryPath string) ([]string, error) {
	executionResult, executionError := manager.run(executionContext, worktreeStatusOperationNameConstant, repositoryPath, false, gitStatusSubcommandConstant, gitStatusPorcelainFlagConstant)
	if executionError != nil {
		return nil, executionError
	}
	return splitOutputLines(executionResult.StandardOutput), nil
}

// CheckCleanWorktree returns true when the repository has no staged or unstaged changes.
func (manager *RepositoryManager) CheckCleanWorktree(executionContext context.Context, repositoryPath string) (bool, error) {
	status, statusError := manager.WorktreeStatus(executionContext, repositoryPath)
	if statusError != nil {
		return false, statusError
	}
	return len(status) == 0, nil
}

// CreateBranch creates a new branch at the start point without checking it out.
func (manager *RepositoryManager) CreateBranch(executionContext context.Context, repositoryPath string, branchName string, startPoint string) error {
	trimmedBranch := strings.TrimSpace(branchName)
	if len(trimmedBranch) == 0 {
		return InvalidRepositoryInputError{FieldName: branchNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedStartPoint := strings.TrimSpace(startPoint)
	if len(trimmedStartPoint) == 0 {
		return InvalidRepositoryInputError{FieldName: startPointFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, executionError := manager.run(executionContext, createBranchOperationNameConstant, repositoryPath, true, gitBranchSubcommandConstant, trimmedBranch, trimmedStartPoint)
	return executionError
}

// SoftReset moves HEAD to the commit while keeping the index and working tree.
func (manager *RepositoryManager) SoftReset(executionContext context.Context, repositoryPath string, commit string) error {
	trimmedCommit := strings.TrimSpace(commit)
	if len(trimmedCommit) == 0 {
		return InvalidRepositoryInputError{FieldName: commitFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, executionError := manager.run(executionContext, softResetOperationNameConstant, repositoryPath, true, gitResetSubcommandConstant, gitSoftFlagConstant, trimmedCommit)
	return executionError
}

// StageAll stages every change in the working tree, including deletions and untracked files.
func (manager *RepositoryManager) StageAll(executionContext context.Context, repositoryPath string) error {
	_, executionError := manager.run(executionContext, stageAllOperationNameConstant, repositoryPath, true, gitAddSubcommandConstant, gitAllFlagConstant)
	return executionError
}

// Commit records the index as a new commit without running commit hooks.
func (manager *RepositoryManager) Commit(executionContext context.Context, repositoryPath string, message string) error {
	if len(strings.TrimSpace(message)) == 0 {
		return InvalidRepositoryInputError{FieldName: commitMessageFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, executionError := manager.run(executionContext, commitOperationNameConstant, repositoryPath, true, gitCommitSubcommandConstant, gitNoVerifyFlagConstant, gitMessageFlagConstant, message)
	return executionError
}

func (manager *RepositoryManager) run(executionContext context.Context, operation RepositoryOperationName, repositoryPath string, mutating bool, arguments ...string) (execshell.ExecutionResult, error) {
	return manager.runWithInput(executionContext, operation, repositoryPath, mutating, nil, arguments...)
}

func (manager *RepositoryManager) runWithInput(executionContext context.Context, operation RepositoryOperationName, repositoryPath string, mutating bool, standardInput []byte, arguments ...string) (execshell.ExecutionResult, error) {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return execshell.ExecutionResult{}, InvalidRepositoryInputError{FieldName: repositoryPathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: trimmedPath,
		StandardInput:    standardInput,
		Mutating:         mutating,
	}

	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return execshell.ExecutionResult{}, RepositoryOperationError{Operation: operation, Cause: executionError}
	}
	return executionResult, nil
}

func splitOutputLines(output string) []string {
	trimmedOutput := strings.TrimSpace(output)
	if len(trimmedOutput) == 0 {
		return nil
	}
	lines := strings.Split(trimmedOutput, "\n")
	entries := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); len(trimmed) > 0 {
			entries = append(entries, trimmed)
		}
	}
	return entries
}
