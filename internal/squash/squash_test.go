package squash_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/squashtag/internal/execshell"
	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/repos/shared"
	"github.com/tyemirov/squashtag/internal/squash"
)

const (
	testRepositoryPath = "/tmp/repo"
	testBaseCommit     = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testPreviousHead   = "hhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhhh"
	testNewCommit      = "nnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnnn"
)

type fakeRepository struct {
	calls          []string
	trees          map[string]string
	status         []string
	failOn         string
	headAfterReset string
	fetchOptions   gitrepo.FetchOptions
	inProgress     error
}

func (repository *fakeRepository) record(call string) error {
	repository.calls = append(repository.calls, call)
	if call == repository.failOn {
		return errors.New(call + " exploded")
	}
	return nil
}

func (repository *fakeRepository) Fetch(_ context.Context, _ string, options gitrepo.FetchOptions) error {
	repository.fetchOptions = options
	return repository.record("fetch")
}

func (repository *fakeRepository) VerifyCommit(_ context.Context, _ string, revision string) (string, error) {
	return testBaseCommit, repository.record("verify " + revision)
}

func (repository *fakeRepository) MergeBase(_ context.Context, _ string, first string, second string) (string, error) {
	return testBaseCommit, repository.record("merge-base " + first + " " + second)
}

func (repository *fakeRepository) ResolveHead(context.Context, string) (string, error) {
	if recordError := repository.record("resolve-head"); recordError != nil {
		return "", recordError
	}
	if len(repository.headAfterReset) > 0 {
		return repository.headAfterReset, nil
	}
	return testPreviousHead, nil
}

func (repository *fakeRepository) ListRevisions(_ context.Context, _ string, base string, head string) ([]string, error) {
	return []string{"c3", "c2", "c1"}, repository.record("rev-list " + base + ".." + head)
}

func (repository *fakeRepository) EnsureWorkTree(context.Context, string) error {
	return repository.record("ensure-work-tree")
}

func (repository *fakeRepository) EnsureNoOperationInProgress(context.Context, string) error {
	repository.calls = append(repository.calls, "ensure-no-operation")
	return repository.inProgress
}

func (repository *fakeRepository) TreeOf(_ context.Context, _ string, revision string) (string, error) {
	return repository.trees[revision], repository.record("tree " + revision)
}

func (repository *fakeRepository) CheckCleanWorktree(context.Context, string) (bool, error) {
	return len(repository.status) == 0, repository.record("status")
}

func (repository *fakeRepository) CreateBranch(_ context.Context, _ string, branchName string, startPoint string) error {
	return repository.record("branch " + branchName + " " + startPoint)
}

func (repository *fakeRepository) SoftReset(_ context.Context, _ string, commit string) error {
	repository.headAfterReset = testNewCommit
	return repository.record("reset " + commit)
}

func (repository *fakeRepository) StageAll(context.Context, string) error {
	return repository.record("add")
}

func (repository *fakeRepository) Commit(_ context.Context, _ string, message string) error {
	return repository.record("commit " + message)
}

type scriptedPrompter struct {
	result  shared.ConfirmationResult
	prompts []string
}

func (prompter *scriptedPrompter) Confirm(prompt string) (shared.ConfirmationResult, error) {
	prompter.prompts = append(prompter.prompts, prompt)
	return prompter.result, nil
}

type fixedClock struct {
	now time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.now
}

func baseResolution() squash.BaseResolution {
	return squash.BaseResolution{
		RemoteReference:  "origin/main",
		BaseCommit:       testBaseCommit,
		PreviousHead:     testPreviousHead,
		DiscardedCommits: []string{"c3", "c2", "c1"},
	}
}

func TestBaseResolverResolve(testInstance *testing.T) {
	repository := &fakeRepository{}
	resolver, creationError := squash.NewBaseResolver(repository)
	require.NoError(testInstance, creationError)

	resolution, resolveError := resolver.Resolve(context.Background(), squash.BaseOptions{
		RepositoryPath:  testRepositoryPath,
		RemoteName:      "origin",
		BranchName:      "main",
		FetchAllRemotes: true,
	})
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, baseResolution(), resolution)
	require.True(testInstance, repository.fetchOptions.AllRemotes)
	require.Equal(testInstance, []string{
		"fetch",
		"verify origin/main",
		"resolve-head",
		"merge-base " + testPreviousHead + " origin/main",
		"rev-list " + testBaseCommit + ".." + testPreviousHead,
	}, repository.calls)
}

func TestBaseResolverFailuresAreFatal(testInstance *testing.T) {
	testCases := []struct {
		name             string
		failOn           string
		expectedSentinel repoerrors.Sentinel
	}{
		{name: "fetch", failOn: "fetch", expectedSentinel: repoerrors.ErrFetchFailed},
		{name: "missing_remote_branch", failOn: "verify origin/main", expectedSentinel: repoerrors.ErrRemoteBranchUnavailable},
		{name: "merge_base", failOn: "merge-base " + testPreviousHead + " origin/main", expectedSentinel: repoerrors.ErrMergeBaseFailed},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			repository := &fakeRepository{failOn: testCase.failOn}
			resolver, creationError := squash.NewBaseResolver(repository)
			require.NoError(testInstance, creationError)

			_, resolveError := resolver.Resolve(context.Background(), squash.BaseOptions{RepositoryPath: testRepositoryPath, RemoteName: "origin", BranchName: "main"})
			require.ErrorIs(testInstance, resolveError, testCase.expectedSentinel)
			require.Equal(testInstance, testCase.failOn, repository.calls[len(repository.calls)-1])
		})
	}
}

func TestSquashCreatesBackupAndCommit(testInstance *testing.T) {
	repository := &fakeRepository{trees: map[string]string{"HEAD": "tree-head", testBaseCommit: "tree-base"}}
	prompter := &scriptedPrompter{result: shared.ConfirmationResult{Confirmed: true}}
	service, creationError := squash.NewService(squash.ServiceDependencies{
		Repository: repository,
		Prompter:   prompter,
		Clock:      fixedClock{now: time.Date(2025, time.March, 9, 14, 30, 5, 0, time.UTC)},
	})
	require.NoError(testInstance, creationError)

	result, squashError := service.Squash(context.Background(), squash.Options{
		RepositoryPath: testRepositoryPath,
		Base:           baseResolution(),
		CreateBackup:   true,
	})
	require.NoError(testInstance, squashError)
	require.Equal(testInstance, squash.Result{
		NewCommit:       testNewCommit,
		BackupBranch:    "squashtag/backup-20250309-143005",
		SquashedCommits: 3,
		Message:         squash.DefaultCommitMessage,
	}, result)
	require.Equal(testInstance, []string{
		"tree HEAD",
		"tree " + testBaseCommit,
		"branch squashtag/backup-20250309-143005 " + testPreviousHead,
		"reset " + testBaseCommit,
		"add",
		"commit " + squash.DefaultCommitMessage,
		"resolve-head",
	}, repository.calls)
	require.Equal(testInstance, []string{"Squash 3 commit(s) above origin/main into one commit? [y/N/a] "}, prompter.prompts)
}

func TestSquashNoChanges(testInstance *testing.T) {
	repository := &fakeRepository{trees: map[string]string{"HEAD": "same", testBaseCommit: "same"}}
	prompter := &scriptedPrompter{result: shared.ConfirmationResult{Confirmed: true}}
	service, creationError := squash.NewService(squash.ServiceDependencies{Repository: repository, Prompter: prompter})
	require.NoError(testInstance, creationError)

	_, squashError := service.Squash(context.Background(), squash.Options{RepositoryPath: testRepositoryPath, Base: baseResolution(), CreateBackup: true})

	var noChanges squash.NoChangesError
	require.ErrorAs(testInstance, squashError, &noChanges)
	require.Equal(testInstance, "nothing to do: working tree already matches bbbbbbb", noChanges.Error())
	require.Equal(testInstance, []string{"tree HEAD", "tree " + testBaseCommit, "status"}, repository.calls)
	require.Empty(testInstance, prompter.prompts)
}

func TestSquashDirtyWorktreeOnBaseStillCommits(testInstance *testing.T) {
	repository := &fakeRepository{
		trees:  map[string]string{"HEAD": "same", testBaseCommit: "same"},
		status: []string{"?? notes.txt"},
	}
	service, creationError := squash.NewService(squash.ServiceDependencies{Repository: repository, Prompter: &scriptedPrompter{result: shared.ConfirmationResult{Confirmed: true}}})
	require.NoError(testInstance, creationError)

	result, squashError := service.Squash(context.Background(), squash.Options{RepositoryPath: testRepositoryPath, Base: baseResolution(), Message: "custom"})
	require.NoError(testInstance, squashError)
	require.Equal(testInstance, "custom", result.Message)
	require.Contains(testInstance, repository.calls, "commit custom")
}

func TestSquashDeclined(testInstance *testing.T) {
	repository := &fakeRepository{trees: map[string]string{"HEAD": "tree-head", testBaseCommit: "tree-base"}}
	service, creationError := squash.NewService(squash.ServiceDependencies{Repository: repository, Prompter: &scriptedPrompter{}})
	require.NoError(testInstance, creationError)

	_, squashError := service.Squash(context.Background(), squash.Options{RepositoryPath: testRepositoryPath, Base: baseResolution()})
	require.ErrorIs(testInstance, squashError, repoerrors.ErrConfirmationDeclined)
	require.NotContains(testInstance, repository.calls, "reset "+testBaseCommit)
}

func TestSquashDryRunSkipsPromptAndUsesPlaceholder(testInstance *testing.T) {
	repository := &fakeRepository{trees: map[string]string{"HEAD": "tree-head", testBaseCommit: "tree-base"}}
	service, creationError := squash.NewService(squash.ServiceDependencies{
		Repository: repository,
		Clock:      fixedClock{now: time.Date(2025, time.March, 9, 14, 30, 5, 0, time.UTC)},
	})
	require.NoError(testInstance, creationError)

	result, squashError := service.Squash(context.Background(), squash.Options{
		RepositoryPath: testRepositoryPath,
		Base:           baseResolution(),
		CreateBackup:   true,
		DryRun:         true,
	})
	require.NoError(testInstance, squashError)
	require.Equal(testInstance, execshell.DryRunPlaceholderOutput, result.NewCommit)
	require.NotContains(testInstance, repository.calls, "resolve-head")
	require.Empty(testInstance, result.BackupBranch)
	require.Equal(testInstance, "squashtag/backup-20250309-143005", result.PlannedBackupBranch)
}

func TestSquashCommitFailureCarriesRecoveryHint(testInstance *testing.T) {
	repository := &fakeRepository{
		trees:  map[string]string{"HEAD": "tree-head", testBaseCommit: "tree-base"},
		failOn: "commit " + squash.DefaultCommitMessage,
	}
	service, creationError := squash.NewService(squash.ServiceDependencies{
		Repository: repository,
		Prompter:   &scriptedPrompter{result: shared.ConfirmationResult{Confirmed: true}},
		Clock:      fixedClock{now: time.Date(2025, time.March, 9, 14, 30, 5, 0, time.UTC)},
	})
	require.NoError(testInstance, creationError)

	_, squashError := service.Squash(context.Background(), squash.Options{RepositoryPath: testRepositoryPath, Base: baseResolution(), CreateBackup: true})
	require.ErrorIs(testInstance, squashError, repoerrors.ErrSquashFailed)

	var stepError squash.StepError
	require.ErrorAs(testInstance, squashError, &stepError)
	require.Equal(testInstance, "commit", stepError.Step)
	require.Contains(testInstance, squashError.Error(), "git reset --hard squashtag/backup-20250309-143005")
}

func TestPreflightDetectsOperationInProgress(testInstance *testing.T) {
	repository := &fakeRepository{inProgress: gitrepo.OperationInProgressError{Marker: "REBASE_HEAD"}}
	service, creationError := squash.NewService(squash.ServiceDependencies{Repository: repository})
	require.NoError(testInstance, creationError)

	preflightError := service.Preflight(context.Background(), testRepositoryPath)
	require.ErrorIs(testInstance, preflightError, repoerrors.ErrOperationInProgress)
}
