package squash

import (
	"context"
	"errors"
	"strings"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
)

const (
	remoteReferenceSeparatorConstant = "/"
	resolverRepositoryMissingMessage = "base resolver repository not configured"
)

// ErrResolverRepositoryNotConfigured indicates the resolver was built without git access.
var ErrResolverRepositoryNotConfigured = errors.New(resolverRepositoryMissingMessage)

// RemoteRepository exposes the read-only git operations used to locate the squash point.
type RemoteRepository interface {
	Fetch(executionContext context.Context, repositoryPath string, options gitrepo.FetchOptions) error
	VerifyCommit(executionContext context.Context, repositoryPath string, revision string) (string, error)
	MergeBase(executionContext context.Context, repositoryPath string, firstRevision string, secondRevision string) (string, error)
	ResolveHead(executionContext context.Context, repositoryPath string) (string, error)
	ListRevisions(executionContext context.Context, repositoryPath string, base string, head string) ([]string, error)
}

// BaseOptions selects the remote branch the local history is squashed onto.
type BaseOptions struct {
	RepositoryPath  string
	RemoteName      string
	BranchName      string
	FetchAllRemotes bool
}

// BaseResolution captures the squash point and the commits that will be discarded.
type BaseResolution struct {
	RemoteReference string
	BaseCommit      string
	PreviousHead    string
	// DiscardedCommits lists base..PreviousHead, newest first.
	DiscardedCommits []string
}

// BaseResolver synchronises with the remote and computes the merge base of HEAD and the remote branch.
type BaseResolver struct {
	repository RemoteRepository
}

// NewBaseResolver constructs a BaseResolver.
func NewBaseResolver(repository RemoteRepository) (*BaseResolver, error) {
	if repository == nil {
		return nil, ErrResolverRepositoryNotConfigured
	}
	return &BaseResolver{repository: repository}, nil
}

// Resolve fetches the remote, verifies the remote branch and returns the base commit. Failures are not retried.
func (resolver *BaseResolver) Resolve(executionContext context.Context, options BaseOptions) (BaseResolution, error) {
	repositoryPath := strings.TrimSpace(options.RepositoryPath)
	remoteReference := strings.TrimSpace(options.RemoteName) + remoteReferenceSeparatorConstant + strings.TrimSpace(options.BranchName)

	fetchOptions := gitrepo.FetchOptions{RemoteName: options.RemoteName, AllRemotes: options.FetchAllRemotes}
	if fetchError := resolver.repository.Fetch(executionContext, repositoryPath, fetchOptions); fetchError != nil {
		return BaseResolution{}, repoerrors.Wrap(repoerrors.OperationResolveBase, repositoryPath, repoerrors.ErrFetchFailed, fetchError)
	}

	if _, verifyError := resolver.repository.VerifyCommit(executionContext, repositoryPath, remoteReference); verifyError != nil {
		return BaseResolution{}, repoerrors.Wrap(repoerrors.OperationResolveBase, repositoryPath, repoerrors.ErrRemoteBranchUnavailable, verifyError)
	}

	previousHead, headError := resolver.repository.ResolveHead(executionContext, repositoryPath)
	if headError != nil {
		return BaseResolution{}, repoerrors.Wrap(repoerrors.OperationResolveBase, repositoryPath, repoerrors.ErrMergeBaseFailed, headError)
	}

	baseCommit, mergeBaseError := resolver.repository.MergeBase(executionContext, repositoryPath, previousHead, remoteReference)
	if mergeBaseError != nil {
		return BaseResolution{}, repoerrors.Wrap(repoerrors.OperationResolveBase, repositoryPath, repoerrors.ErrMergeBaseFailed, mergeBaseError)
	}

	discardedCommits, listError := resolver.repository.ListRevisions(executionContext, repositoryPath, baseCommit, previousHead)
	if listError != nil {
		return BaseResolution{}, repoerrors.Wrap(repoerrors.OperationResolveBase, repositoryPath, repoerrors.ErrMergeBaseFailed, listError)
	}

	return BaseResolution{
		RemoteReference:  remoteReference,
		BaseCommit:       baseCommit,
		PreviousHead:     previousHead,
		DiscardedCommits: discardedCommits,
	}, nil
}
