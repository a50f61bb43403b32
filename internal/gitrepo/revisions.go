package gitrepo

import (
	"context"
	"strings"
)

const (
	gitVerifyFlagConstant            = "--verify"
	gitQuietFlagConstant             = "--quiet"
	gitMergeBaseSubcommandConstant   = "merge-base"
	gitRevListSubcommandConstant     = "rev-list"
	commitPeelSuffixConstant         = "^{commit}"
	treePeelSuffixConstant           = "^{tree}"
	revisionRangeSeparatorConstant   = ".."
	revisionFieldNameConstant        = "revision"
	resolveRevisionOperationConstant = RepositoryOperationName("ResolveRevision")
	verifyCommitOperationConstant    = RepositoryOperationName("VerifyCommit")
	mergeBaseOperationConstant       = RepositoryOperationName("MergeBase")
	listRevisionsOperationConstant   = RepositoryOperationName("ListRevisions")
	resolveTreeOperationConstant     = RepositoryOperationName("ResolveTree")
)

// ResolveRevision resolves a revision expression to an object hash.
func (manager *RepositoryManager) ResolveRevision(executionContext context.Context, repositoryPath string, revision string) (string, error) {
	trimmedRevision := strings.TrimSpace(revision)
	if len(trimmedRevision) == 0 {
		return "", InvalidRepositoryInputError{FieldName: revisionFieldNameConstant, Message: requiredValueMessageConstant}
	}
	executionResult, executionError := manager.run(executionContext, resolveRevisionOperationConstant, repositoryPath, false, gitRevParseSubcommandConstant, trimmedRevision)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.TrimmedOutput(), nil
}

// ResolveHead resolves HEAD to a commit hash.
func (manager *RepositoryManager) ResolveHead(executionContext context.Context, repositoryPath string) (string, error) {
	return manager.ResolveRevision(executionContext, repositoryPath, gitHeadReferenceConstant)
}

// VerifyCommit confirms the revision names a commit and returns its hash.
func (manager *RepositoryManager) VerifyCommit(executionContext context.Context, repositoryPath string, revision string) (string, error) {
	trimmedRevision := strings.TrimSpace(revision)
	if len(trimmedRevision) == 0 {
		return "", InvalidRepositoryInputError{FieldName: revisionFieldNameConstant, Message: requiredValueMessageConstant}
	}
	executionResult, executionError := manager.run(executionContext, verifyCommitOperationConstant, repositoryPath, false, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant, trimmedRevision+commitPeelSuffixConstant)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.TrimmedOutput(), nil
}

// TreeOf resolves the tree object recorded by a commit.
func (manager *RepositoryManager) TreeOf(executionContext context.Context, repositoryPath string, revision string) (string, error) {
	trimmedRevision := strings.TrimSpace(revision)
	if len(trimmedRevision) == 0 {
		return "", InvalidRepositoryInputError{FieldName: revisionFieldNameConstant, Message: requiredValueMessageConstant}
	}
	executionResult, executionError := manager.run(executionContext, resolveTreeOperationConstant, repositoryPath, false, gitRevParseSubcommandConstant, trimmedRevision+treePeelSuffixConstant)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.TrimmedOutput(), nil
}

// MergeBase returns the best common ancestor of two revisions.
func (manager *RepositoryManager) MergeBase(executionContext context.Context, repositoryPath string, firstRevision string, secondRevision string) (string, error) {
	trimmedFirst := strings.TrimSpace(firstRevision)
	trimmedSecond := strings.TrimSpace(secondRevision)
	if len(trimmedFirst) == 0 || len(trimmedSecond) == 0 {
		return "", InvalidRepositoryInputError{FieldName: revisionFieldNameConstant, Message: requiredValueMessageConstant}
	}
	executionResult, executionError := manager.run(executionContext, mergeBaseOperationConstant, repositoryPath, false, gitMergeBaseSubcommandConstant, trimmedFirst, trimmedSecond)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.TrimmedOutput(), nil
}

// ListRevisions lists commits reachable from head but not from base, newest first.
func (manager *RepositoryManager) ListRevisions(executionContext context.Context, repositoryPath string, base string, head string) ([]string, error) {
	trimmedBase := strings.TrimSpace(base)
	trimmedHead := strings.TrimSpace(head)
	if len(trimmedBase) == 0 || len(trimmedHead) == 0 {
		return nil, InvalidRepositoryInputError{FieldName: revisionFieldNameConstant, Message: requiredValueMessageConstant}
	}
	executionResult, executionError := manager.run(executionContext, listRevisionsOperationConstant, repositoryPath, false, gitRevListSubcommandConstant, trimmedBase+revisionRangeSeparatorConstant+trimmedHead)
	if executionError != nil {
		return nil, executionError
	}
	return splitOutputLines(executionResult.StandardOutput), nil
}
