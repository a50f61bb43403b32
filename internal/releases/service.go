// Package releases tags HEAD with the next semantic version and pushes the tag.
package releases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/repos/shared"
)

const (
	defaultMessageTemplate       = "Release %s"
	repositoryMissingMessage     = "release repository not configured"
	noVersionTagMessage          = "no valid semver tags found"
	taggedEventTemplate          = "tagged %s at %s (previous %s)"
	pushedEventTemplate          = "pushed %s to %s"
	plannedEventTemplate         = "would tag %s at %s (previous %s) and push it to %s"
	releaseTaggedLogMessage      = "release tag created"
	detailKeyPrevious            = "previous"
	detailKeyLevel               = "level"
	detailKeyCommit              = "commit"
	logFieldTag                  = "tag"
	logFieldPreviousTag          = "previous_tag"
	logFieldCommit               = "commit"
	shortCommitLength            = 7
	nextVersionFailedDescription = "next version"
)

// ErrRepositoryNotConfigured indicates the service was built without git access.
var ErrRepositoryNotConfigured = errors.New(repositoryMissingMessage)

// Repository exposes the git operations a release needs.
type Repository interface {
	ListTags(executionContext context.Context, repositoryPath string) ([]gitrepo.TagReference, error)
	ResolveHead(executionContext context.Context, repositoryPath string) (string, error)
	CreateTag(executionContext context.Context, repositoryPath string, specification gitrepo.TagSpecification) error
	PushTag(executionContext context.Context, repositoryPath string, remoteName string, tagName string, force bool) error
}

// ServiceDependencies enumerates collaborators required by the release service.
type ServiceDependencies struct {
	Repository Repository
	Reporter   shared.Reporter
	Logger     *zap.Logger
}

// Options configure one release.
type Options struct {
	RepositoryPath string
	RemoteName     string
	Level          Level
	Message        string
	DryRun         bool
}

// Result captures the outcome of a release.
type Result struct {
	RepositoryPath string
	PreviousTag    string
	TagName        string
	Commit         string
	Pushed         bool
}

// Service tags HEAD with the version following the latest semver tag.
type Service struct {
	repository Repository
	reporter   shared.Reporter
	logger     *zap.Logger
}

// NewService constructs a Service from dependencies.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Repository == nil {
		return nil, ErrRepositoryNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repository: dependencies.Repository, reporter: dependencies.Reporter, logger: logger}, nil
}

// Release creates an annotated tag for the next version at HEAD and pushes it to the remote.
// In dry-run mode it only reports the tag it would create.
func (service *Service) Release(executionContext context.Context, options Options) (Result, error) {
	repositoryPath := strings.TrimSpace(options.RepositoryPath)
	remoteName := strings.TrimSpace(options.RemoteName)
	level := options.Level
	if len(level) == 0 {
		level = LevelPatch
	}

	tags, listError := service.repository.ListTags(executionContext, repositoryPath)
	if listError != nil {
		return Result{}, repoerrors.Wrap(repoerrors.OperationRelease, repositoryPath, repoerrors.ErrTagListingFailed, listError)
	}
	latest, found := LatestVersion(tags)
	if !found {
		return Result{}, repoerrors.WrapMessage(repoerrors.OperationRelease, repositoryPath, repoerrors.ErrNoVersionTag, noVersionTagMessage)
	}
	nextTag, versionError := NextVersion(latest.Name, level)
	if versionError != nil {
		return Result{}, repoerrors.Wrap(repoerrors.OperationRelease, repositoryPath, repoerrors.ErrReleaseTagFailed, fmt.Errorf("%s: %w", nextVersionFailedDescription, versionError))
	}
	headCommit, headError := service.repository.ResolveHead(executionContext, repositoryPath)
	if headError != nil {
		return Result{}, repoerrors.Wrap(repoerrors.OperationRelease, repositoryPath, repoerrors.ErrReleaseTagFailed, headError)
	}

	result := Result{RepositoryPath: repositoryPath, PreviousTag: latest.Name, TagName: nextTag, Commit: headCommit}
	details := map[string]string{detailKeyPrevious: latest.Name, detailKeyLevel: string(level), detailKeyCommit: headCommit}

	if options.DryRun {
		service.report(shared.EventCodeReleaseTagPlanned, repositoryPath,
			fmt.Sprintf(plannedEventTemplate, nextTag, shortCommit(headCommit), latest.Name, remoteName), details)
		return result, nil
	}

	message := strings.TrimSpace(options.Message)
	if len(message) == 0 {
		message = fmt.Sprintf(defaultMessageTemplate, nextTag)
	}
	specification := gitrepo.TagSpecification{Name: nextTag, Target: headCommit, Annotated: true, Message: message + "\n"}
	if createError := service.repository.CreateTag(executionContext, repositoryPath, specification); createError != nil {
		return Result{}, repoerrors.Wrap(repoerrors.OperationRelease, nextTag, repoerrors.ErrReleaseTagFailed, createError)
	}
	service.logger.Info(releaseTaggedLogMessage,
		zap.String(logFieldTag, nextTag),
		zap.String(logFieldPreviousTag, latest.Name),
		zap.String(logFieldCommit, headCommit),
	)
	service.report(shared.EventCodeReleaseTagged, repositoryPath,
		fmt.Sprintf(taggedEventTemplate, nextTag, shortCommit(headCommit), latest.Name), details)

	if pushError := service.repository.PushTag(executionContext, repositoryPath, remoteName, nextTag, false); pushError != nil {
		return result, repoerrors.Wrap(repoerrors.OperationRelease, nextTag, repoerrors.ErrReleasePushFailed, pushError)
	}
	result.Pushed = true
	service.report(shared.EventCodeReleasePushed, repositoryPath, fmt.Sprintf(pushedEventTemplate, nextTag, remoteName), nil)
	return result, nil
}

func (service *Service) report(code string, repositoryPath string, message string, details map[string]string) {
	if service.reporter == nil {
		return
	}
	service.reporter.Report(shared.Event{
		Level:          shared.EventLevelInfo,
		Code:           code,
		RepositoryPath: repositoryPath,
		Message:        message,
		Details:        details,
	})
}

func shortCommit(commit string) string {
	if len(commit) > shortCommitLength {
		return commit[:shortCommitLength]
	}
	return commit
}
