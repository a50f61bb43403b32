package publish

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
)

const (
	finalizerRepositoryMissingMessage = "push finalizer repository not configured"
	branchPushedLogMessage            = "branch pushed"
	logFieldRemote                    = "remote"
	logFieldBranch                    = "branch"
)

// ErrRepositoryNotConfigured indicates the finalizer was built without git access.
var ErrRepositoryNotConfigured = errors.New(finalizerRepositoryMissingMessage)

// BranchPusher pushes the current HEAD to a remote branch.
type BranchPusher interface {
	ForcePushHead(executionContext context.Context, repositoryPath string, remoteName string, branchName string) error
}

// Options identify the branch to publish.
type Options struct {
	RepositoryPath string
	RemoteName     string
	BranchName     string
}

// Finalizer publishes the rewritten branch once tag relocation has drained.
type Finalizer struct {
	pusher BranchPusher
	logger *zap.Logger
}

// NewFinalizer constructs a Finalizer. A nil logger disables logging.
func NewFinalizer(pusher BranchPusher, logger *zap.Logger) (*Finalizer, error) {
	if pusher == nil {
		return nil, ErrRepositoryNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{pusher: pusher, logger: logger}, nil
}

// Publish force-pushes HEAD to refs/heads/<branch> on the remote.
func (finalizer *Finalizer) Publish(executionContext context.Context, options Options) error {
	repositoryPath := strings.TrimSpace(options.RepositoryPath)
	if pushError := finalizer.pusher.ForcePushHead(executionContext, repositoryPath, options.RemoteName, options.BranchName); pushError != nil {
		return repoerrors.Wrap(repoerrors.OperationPublish, repositoryPath, repoerrors.ErrBranchPushFailed, pushError)
	}
	finalizer.logger.Info(branchPushedLogMessage,
		zap.String(logFieldRemote, options.RemoteName),
		zap.String(logFieldBranch, options.BranchName),
	)
	return nil
}
