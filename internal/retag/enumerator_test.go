package retag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/retag"
)

const (
	testDiscardedCommitA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testDiscardedCommitB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testPublishedCommit  = "cccccccccccccccccccccccccccccccccccccccc"
)

type stubTagLister struct {
	references []gitrepo.TagReference
	listError  error
}

func (lister stubTagLister) ListTags(context.Context, string) ([]gitrepo.TagReference, error) {
	return lister.references, lister.listError
}

func sampleReferences() []gitrepo.TagReference {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	return []gitrepo.TagReference{
		{Name: "v1.0.0", ObjectType: "commit", TargetCommit: testPublishedCommit, CreatedAt: base},
		{Name: "v1.1.0", ObjectType: "tag", TargetCommit: testDiscardedCommitA, CreatedAt: base.Add(time.Hour)},
		{Name: "nightly", ObjectType: "commit", TargetCommit: testDiscardedCommitB, CreatedAt: base.Add(3 * time.Hour)},
		{Name: "v1.2.0", ObjectType: "tag", TargetCommit: testDiscardedCommitB, CreatedAt: base.Add(2 * time.Hour)},
	}
}

func tagNames(tags []retag.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

func TestEnumerateSelection(testInstance *testing.T) {
	testCases := []struct {
		name       string
		policy     retag.Policy
		semverOnly bool
		expected   []string
	}{
		{name: "scoped", policy: retag.PolicyScoped, expected: []string{"nightly", "v1.2.0", "v1.1.0"}},
		{name: "scoped_semver", policy: retag.PolicyScoped, semverOnly: true, expected: []string{"v1.2.0", "v1.1.0"}},
		{name: "global", policy: retag.PolicyGlobal, expected: []string{"nightly", "v1.2.0", "v1.1.0", "v1.0.0"}},
		{name: "global_semver", policy: retag.PolicyGlobal, semverOnly: true, expected: []string{"v1.2.0", "v1.1.0", "v1.0.0"}},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			enumerator, creationError := retag.NewEnumerator(stubTagLister{references: sampleReferences()})
			require.NoError(testInstance, creationError)

			selected, enumerateError := enumerator.Enumerate(context.Background(), retag.EnumerationOptions{
				RepositoryPath:   testEngineRepositoryPath,
				Policy:           testCase.policy,
				DiscardedCommits: []string{testDiscardedCommitA, testDiscardedCommitB},
				SemverOnly:       testCase.semverOnly,
			})
			require.NoError(testInstance, enumerateError)
			require.Equal(testInstance, testCase.expected, tagNames(selected))
		})
	}
}

func TestEnumerateCarriesTagMetadata(testInstance *testing.T) {
	enumerator, creationError := retag.NewEnumerator(stubTagLister{references: sampleReferences()})
	require.NoError(testInstance, creationError)

	selected, enumerateError := enumerator.Enumerate(context.Background(), retag.EnumerationOptions{
		Policy:           retag.PolicyScoped,
		DiscardedCommits: []string{testDiscardedCommitA},
	})
	require.NoError(testInstance, enumerateError)
	require.Len(testInstance, selected, 1)
	require.Equal(testInstance, testDiscardedCommitA, selected[0].Target)
	require.True(testInstance, selected[0].Annotated())
}

func TestEnumerateWithoutDiscardedCommitsSelectsNothing(testInstance *testing.T) {
	enumerator, creationError := retag.NewEnumerator(stubTagLister{references: sampleReferences()})
	require.NoError(testInstance, creationError)

	selected, enumerateError := enumerator.Enumerate(context.Background(), retag.EnumerationOptions{Policy: retag.PolicyScoped})
	require.NoError(testInstance, enumerateError)
	require.Empty(testInstance, selected)
}

func TestEnumerateWrapsListingFailure(testInstance *testing.T) {
	enumerator, creationError := retag.NewEnumerator(stubTagLister{listError: errors.New("broken refs")})
	require.NoError(testInstance, creationError)

	_, enumerateError := enumerator.Enumerate(context.Background(), retag.EnumerationOptions{RepositoryPath: testEngineRepositoryPath})
	require.ErrorIs(testInstance, enumerateError, repoerrors.ErrTagListingFailed)
	require.Contains(testInstance, enumerateError.Error(), "broken refs")
}

func TestNewEnumeratorValidation(testInstance *testing.T) {
	enumerator, creationError := retag.NewEnumerator(nil)
	require.ErrorIs(testInstance, creationError, retag.ErrEnumeratorRepositoryNotConfigured)
	require.Nil(testInstance, enumerator)
}

func TestParsePolicy(testInstance *testing.T) {
	policy, parseError := retag.ParsePolicy("")
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, retag.PolicyScoped, policy)

	policy, parseError = retag.ParsePolicy("Global")
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, retag.PolicyGlobal, policy)

	_, parseError = retag.ParsePolicy("everything")
	require.Error(testInstance, parseError)
}

func TestIsSemanticVersion(testInstance *testing.T) {
	testCases := map[string]bool{
		"v1.2.0":        true,
		"1.2.0":         true,
		"v2.0.0-rc.1":   true,
		"v1.0.0+build5": true,
		"nightly":       false,
		"release-1.2":   false,
		"v1.2.0.1":      false,
	}
	for tagName, expected := range testCases {
		require.Equal(testInstance, expected, retag.IsSemanticVersion(tagName), tagName)
	}
}
