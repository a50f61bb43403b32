package releases_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/squashtag/internal/execshell"
	"github.com/tyemirov/squashtag/internal/gitrepo"
	"github.com/tyemirov/squashtag/internal/gittest"
	"github.com/tyemirov/squashtag/internal/releases"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/repos/shared"
)

const (
	testReleaseRepositoryPath = "/tmp/release"
	testReleaseRemoteName     = "origin"
	testReleaseHead           = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
)

type fakeReleaseRepository struct {
	tags         []gitrepo.TagReference
	listError    error
	createError  error
	pushError    error
	created      []gitrepo.TagSpecification
	pushed       []string
	forcedPushes int
}

func (repository *fakeReleaseRepository) ListTags(context.Context, string) ([]gitrepo.TagReference, error) {
	return repository.tags, repository.listError
}

func (repository *fakeReleaseRepository) ResolveHead(context.Context, string) (string, error) {
	return testReleaseHead, nil
}

func (repository *fakeReleaseRepository) CreateTag(_ context.Context, _ string, specification gitrepo.TagSpecification) error {
	repository.created = append(repository.created, specification)
	return repository.createError
}

func (repository *fakeReleaseRepository) PushTag(_ context.Context, _ string, remoteName string, tagName string, force bool) error {
	if force {
		repository.forcedPushes++
	}
	repository.pushed = append(repository.pushed, remoteName+" "+tagName)
	return repository.pushError
}

type releaseEvents struct {
	events []shared.Event
}

func (reporter *releaseEvents) Report(event shared.Event) {
	reporter.events = append(reporter.events, event)
}

func (reporter *releaseEvents) codes() []string {
	codes := make([]string, 0, len(reporter.events))
	for _, event := range reporter.events {
		codes = append(codes, event.Code)
	}
	return codes
}

func newReleaseService(testInstance *testing.T, repository releases.Repository, reporter shared.Reporter, logger *zap.Logger) *releases.Service {
	testInstance.Helper()
	service, creationError := releases.NewService(releases.ServiceDependencies{Repository: repository, Reporter: reporter, Logger: logger})
	require.NoError(testInstance, creationError)
	return service
}

func TestNewServiceValidation(testInstance *testing.T) {
	service, creationError := releases.NewService(releases.ServiceDependencies{})
	require.ErrorIs(testInstance, creationError, releases.ErrRepositoryNotConfigured)
	require.Nil(testInstance, service)
}

func TestReleaseTagsAndPushesNextVersion(testInstance *testing.T) {
	observerCore, observerLogs := observer.New(zap.InfoLevel)
	repository := &fakeReleaseRepository{tags: []gitrepo.TagReference{{Name: "v1.4.2"}, {Name: "nightly"}, {Name: "v1.3.9"}}}
	reporter := &releaseEvents{}
	service := newReleaseService(testInstance, repository, reporter, zap.New(observerCore))

	result, releaseError := service.Release(context.Background(), releases.Options{
		RepositoryPath: testReleaseRepositoryPath,
		RemoteName:     testReleaseRemoteName,
		Level:          releases.LevelMinor,
	})
	require.NoError(testInstance, releaseError)
	require.Equal(testInstance, releases.Result{
		RepositoryPath: testReleaseRepositoryPath,
		PreviousTag:    "v1.4.2",
		TagName:        "v1.5.0",
		Commit:         testReleaseHead,
		Pushed:         true,
	}, result)
	require.Equal(testInstance, []gitrepo.TagSpecification{{
		Name:      "v1.5.0",
		Target:    testReleaseHead,
		Annotated: true,
		Message:   "Release v1.5.0\n",
	}}, repository.created)
	require.Equal(testInstance, []string{"origin v1.5.0"}, repository.pushed)
	require.Zero(testInstance, repository.forcedPushes)
	require.Equal(testInstance, []string{shared.EventCodeReleaseTagged, shared.EventCodeReleasePushed}, reporter.codes())
	require.Equal(testInstance, "tagged v1.5.0 at 4b825dc (previous v1.4.2)", reporter.events[0].Message)
	require.Equal(testInstance, "minor", reporter.events[0].Details["level"])

	entries := observerLogs.FilterMessage("release tag created").All()
	require.Len(testInstance, entries, 1)
	require.Equal(testInstance, "v1.4.2", entries[0].ContextMap()["previous_tag"])
}

func TestReleaseUsesCustomMessageAndDefaultsToPatch(testInstance *testing.T) {
	repository := &fakeReleaseRepository{tags: []gitrepo.TagReference{{Name: "2.0.0"}}}
	service := newReleaseService(testInstance, repository, nil, nil)

	result, releaseError := service.Release(context.Background(), releases.Options{
		RepositoryPath: testReleaseRepositoryPath,
		RemoteName:     testReleaseRemoteName,
		Message:        "Hotfix for the importer",
	})
	require.NoError(testInstance, releaseError)
	require.Equal(testInstance, "2.0.1", result.TagName)
	require.Equal(testInstance, "Hotfix for the importer\n", repository.created[0].Message)
}

func TestReleaseDryRunOnlyReportsPlan(testInstance *testing.T) {
	repository := &fakeReleaseRepository{tags: []gitrepo.TagReference{{Name: "v0.3.1"}}}
	reporter := &releaseEvents{}
	service := newReleaseService(testInstance, repository, reporter, nil)

	result, releaseError := service.Release(context.Background(), releases.Options{
		RepositoryPath: testReleaseRepositoryPath,
		RemoteName:     testReleaseRemoteName,
		Level:          releases.LevelMajor,
		DryRun:         true,
	})
	require.NoError(testInstance, releaseError)
	require.Equal(testInstance, "v1.0.0", result.TagName)
	require.False(testInstance, result.Pushed)
	require.Empty(testInstance, repository.created)
	require.Empty(testInstance, repository.pushed)
	require.Equal(testInstance, []string{shared.EventCodeReleaseTagPlanned}, reporter.codes())
	require.Equal(testInstance, "would tag v1.0.0 at 4b825dc (previous v0.3.1) and push it to origin", reporter.events[0].Message)
}

func TestReleaseFailures(testInstance *testing.T) {
	testCases := []struct {
		name             string
		repository       *fakeReleaseRepository
		expectedSentinel repoerrors.Sentinel
		expectedPushed   []string
	}{
		{
			name:             "no semver tags",
			repository:       &fakeReleaseRepository{tags: []gitrepo.TagReference{{Name: "nightly"}}},
			expectedSentinel: repoerrors.ErrNoVersionTag,
		},
		{
			name:             "listing fails",
			repository:       &fakeReleaseRepository{listError: errors.New("not a git repository")},
			expectedSentinel: repoerrors.ErrTagListingFailed,
		},
		{
			name:             "tag creation fails",
			repository:       &fakeReleaseRepository{tags: []gitrepo.TagReference{{Name: "v1.0.0"}}, createError: errors.New("tag exists")},
			expectedSentinel: repoerrors.ErrReleaseTagFailed,
		},
		{
			name:             "push is rejected",
			repository:       &fakeReleaseRepository{tags: []gitrepo.TagReference{{Name: "v1.0.0"}}, pushError: errors.New("rejected")},
			expectedSentinel: repoerrors.ErrReleasePushFailed,
			expectedPushed:   []string{"origin v1.0.1"},
		},
	}
	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			service := newReleaseService(testInstance, testCase.repository, nil, nil)

			result, releaseError := service.Release(context.Background(), releases.Options{
				RepositoryPath: testReleaseRepositoryPath,
				RemoteName:     testReleaseRemoteName,
			})
			require.ErrorIs(testInstance, releaseError, testCase.expectedSentinel)
			require.Equal(testInstance, testCase.expectedSentinel.Code(), repoerrors.CodeOf(releaseError))
			require.False(testInstance, result.Pushed)
			require.Equal(testInstance, testCase.expectedPushed, testCase.repository.pushed)
		})
	}
}

func TestReleaseTagsHeadInRealRepository(testInstance *testing.T) {
	fixture := gittest.NewFixture(testInstance)
	fixture.Git("tag", "v0.9.0")
	fixture.Git("tag", "-a", "v1.1.0", "-m", "Release v1.1.0")
	fixture.Git("tag", "docs-snapshot")
	fixture.Git("push", "--quiet", gittest.RemoteName, "--tags")
	head := fixture.Commit("CHANGELOG.md", "fixes\n", "fix: importer")
	fixture.Git("push", "--quiet", gittest.RemoteName, gittest.BranchName)

	executor, executorError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner(io.Discard), false)
	require.NoError(testInstance, executorError)
	manager, managerError := gitrepo.NewRepositoryManager(executor)
	require.NoError(testInstance, managerError)
	service := newReleaseService(testInstance, manager, nil, nil)

	result, releaseError := service.Release(context.Background(), releases.Options{
		RepositoryPath: fixture.WorkPath,
		RemoteName:     gittest.RemoteName,
	})
	require.NoError(testInstance, releaseError)
	require.Equal(testInstance, "v1.1.1", result.TagName)
	require.Equal(testInstance, head, fixture.Peel("v1.1.1"))
	require.Equal(testInstance, head, fixture.RemotePeel("v1.1.1"))
	require.Equal(testInstance, "tag", fixture.Git("cat-file", "-t", "v1.1.1"))
	require.Equal(testInstance, "Release v1.1.1", fixture.Git("tag", "--list", "--format=%(contents:subject)", "v1.1.1"))
}
