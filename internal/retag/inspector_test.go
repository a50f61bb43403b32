package retag_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/squashtag/internal/gittest"
	"github.com/tyemirov/squashtag/internal/retag"
)

func TestInspectorVerifiesLightweightAndAnnotatedTags(testInstance *testing.T) {
	fixture := gittest.NewFixture(testInstance)
	firstCommit := fixture.Head()
	fixture.Git("tag", "v1.0.0")
	fixture.Git("tag", "-a", "v1.1.0", "-m", "Release 1.1.0")
	secondCommit := fixture.Commit("README.md", "second\n", "second")

	inspector := retag.NewInspector()
	tags := []retag.Tag{{Name: "v1.0.0"}, {Name: "v1.1.0"}}

	require.Empty(testInstance, inspector.Verify(fixture.WorkPath, tags, firstCommit))

	mismatches := inspector.Verify(fixture.WorkPath, tags, secondCommit)
	require.Len(testInstance, mismatches, 2)
	var mismatch retag.TagMismatchError
	require.True(testInstance, errors.As(mismatches["v1.1.0"], &mismatch))
	require.Equal(testInstance, firstCommit, mismatch.Actual)
	require.Equal(testInstance, secondCommit, mismatch.Expected)
}

func TestInspectorPeelsNestedAnnotatedTag(testInstance *testing.T) {
	fixture := gittest.NewFixture(testInstance)
	head := fixture.Head()
	fixture.Git("tag", "-a", "inner", "-m", "inner")
	fixture.Git("tag", "-a", "outer", "-m", "outer", "inner")

	require.Empty(testInstance, retag.NewInspector().Verify(fixture.WorkPath, []retag.Tag{{Name: "outer"}}, head))
}

func TestInspectorReportsMissingTag(testInstance *testing.T) {
	fixture := gittest.NewFixture(testInstance)

	mismatches := retag.NewInspector().Verify(fixture.WorkPath, []retag.Tag{{Name: "v9.9.9"}}, fixture.Head())
	var mismatch retag.TagMismatchError
	require.True(testInstance, errors.As(mismatches["v9.9.9"], &mismatch))
}

func TestInspectorFailsEveryTagOutsideRepository(testInstance *testing.T) {
	mismatches := retag.NewInspector().Verify(testInstance.TempDir(), []retag.Tag{{Name: "v1.0.0"}, {Name: "v2.0.0"}}, testEngineTargetCommit)
	require.Len(testInstance, mismatches, 2)
}

func TestInspectorReadsTagsFromLinkedWorktree(testInstance *testing.T) {
	fixture := gittest.NewFixture(testInstance)
	head := fixture.Head()
	fixture.Git("tag", "v1.0.0")
	fixture.Git("tag", "-a", "v1.1.0", "-m", "Release 1.1.0")
	worktreePath := filepath.Join(testInstance.TempDir(), "linked")
	fixture.Git("worktree", "add", "--quiet", "--detach", worktreePath)

	tags := []retag.Tag{{Name: "v1.0.0"}, {Name: "v1.1.0"}}
	require.Empty(testInstance, retag.NewInspector().Verify(worktreePath, tags, head))
}
