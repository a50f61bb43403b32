package gitrepo

import (
	"context"
	"errors"
	"strings"

	"github.com/tyemirov/squashtag/internal/execshell"
)

const (
	gitFetchSubcommandConstant       = "fetch"
	gitPushSubcommandConstant        = "push"
	gitAllRemotesFlagConstant        = "--all"
	gitTagsFlagConstant              = "--tags"
	gitForceFlagConstant             = "--force"
	branchReferencePrefixConstant    = "refs/heads/"
	refspecSeparatorConstant         = ":"
	remoteRefMissingFragmentConstant = "remote ref does not exist"
	remoteNameFieldNameConstant      = "remote_name"
	fetchOperationNameConstant       = RepositoryOperationName("Fetch")
	pushTagDeletionOperationConstant = RepositoryOperationName("PushTagDeletion")
	pushTagOperationConstant         = RepositoryOperationName("PushTag")
	pushBranchOperationNameConstant  = RepositoryOperationName("PushBranch")
)

// FetchOptions controls how remote state is synchronised before a run.
type FetchOptions struct {
	RemoteName string
	AllRemotes bool
}

// Fetch downloads branches and tags from the configured remotes.
func (manager *RepositoryManager) Fetch(executionContext context.Context, repositoryPath string, options FetchOptions) error {
	arguments := []string{gitFetchSubcommandConstant}
	if options.AllRemotes {
		arguments = append(arguments, gitAllRemotesFlagConstant, gitTagsFlagConstant)
	} else {
		trimmedRemote := strings.TrimSpace(options.RemoteName)
		if len(trimmedRemote) == 0 {
			return InvalidRepositoryInputError{FieldName: remoteNameFieldNameConstant, Message: requiredValueMessageConstant}
		}
		arguments = append(arguments, gitTagsFlagConstant, trimmedRemote)
	}
	_, executionError := manager.run(executionContext, fetchOperationNameConstant, repositoryPath, false, arguments...)
	return executionError
}

// PushTagDeletion deletes a tag on the remote. The boolean result reports whether the remote tag was already absent.
func (manager *RepositoryManager) PushTagDeletion(executionContext context.Context, repositoryPath string, remoteName string, tagName string) (bool, error) {
	trimmedRemote, trimmedTag, validationError := validateRemoteAndTag(remoteName, tagName)
	if validationError != nil {
		return false, validationError
	}
	_, executionError := manager.run(executionContext, pushTagDeletionOperationConstant, repositoryPath, true,
		gitPushSubcommandConstant, trimmedRemote, refspecSeparatorConstant+tagReferencePrefixConstant+trimmedTag)
	if executionError == nil {
		return false, nil
	}
	var commandError execshell.ExternalCommandError
	if errors.As(executionError, &commandError) && commandError.StandardErrorContains(remoteRefMissingFragmentConstant) {
		return true, nil
	}
	return false, executionError
}

// PushTag publishes a local tag to the remote, optionally overwriting the remote value.
func (manager *RepositoryManager) PushTag(executionContext context.Context, repositoryPath string, remoteName string, tagName string, force bool) error {
	trimmedRemote, trimmedTag, validationError := validateRemoteAndTag(remoteName, tagName)
	if validationError != nil {
		return validationError
	}
	arguments := []string{gitPushSubcommandConstant}
	if force {
		arguments = append(arguments, gitForceFlagConstant)
	}
	arguments = append(arguments, trimmedRemote, tagReferencePrefixConstant+trimmedTag)
	_, executionError := manager.run(executionContext, pushTagOperationConstant, repositoryPath, true, arguments...)
	return executionError
}

// ForcePushHead overwrites the remote branch with the local HEAD.
func (manager *RepositoryManager) ForcePushHead(executionContext context.Context, repositoryPath string, remoteName string, branchName string) error {
	trimmedRemote := strings.TrimSpace(remoteName)
	if len(trimmedRemote) == 0 {
		return InvalidRepositoryInputError{FieldName: remoteNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedBranch := strings.TrimSpace(branchName)
	if len(trimmedBranch) == 0 {
		return InvalidRepositoryInputError{FieldName: branchNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, executionError := manager.run(executionContext, pushBranchOperationNameConstant, repositoryPath, true,
		gitPushSubcommandConstant, gitForceFlagConstant, trimmedRemote, gitHeadReferenceConstant+refspecSeparatorConstant+branchReferencePrefixConstant+trimmedBranch)
	return executionError
}

func validateRemoteAndTag(remoteName string, tagName string) (string, string, error) {
	trimmedRemote := strings.TrimSpace(remoteName)
	if len(trimmedRemote) == 0 {
		return "", "", InvalidRepositoryInputError{FieldName: remoteNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedTag := strings.TrimSpace(tagName)
	if len(trimmedTag) == 0 {
		return "", "", InvalidRepositoryInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return trimmedRemote, trimmedTag, nil
}
