package retag

import (
	"errors"
	"fmt"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	maximumTagNesting         = 8
	openRepositoryTemplate    = "open repository %s: %w"
	readTagReferenceTemplate  = "read tag %s: %w"
	unpeelableTagTemplate     = "tag %s does not resolve to a commit"
	missingTagPlaceholderHash = "<missing>"
)

// Inspector reads tag references directly from the object database.
type Inspector struct{}

// NewInspector constructs an Inspector.
func NewInspector() *Inspector {
	return &Inspector{}
}

// Verify peels every tag and returns an error keyed by tag name for each one that does not
// resolve to expectedCommit. A repository that cannot be opened fails every tag.
func (inspector *Inspector) Verify(repositoryPath string, tags []Tag, expectedCommit string) map[string]error {
	mismatches := make(map[string]error)
	repository, openError := openRepository(repositoryPath)
	if openError != nil {
		for _, tag := range tags {
			mismatches[tag.Name] = openError
		}
		return mismatches
	}

	for _, tag := range tags {
		peeled, resolveError := resolveTag(repository, tag.Name)
		switch {
		case errors.Is(resolveError, gitlib.ErrTagNotFound):
			mismatches[tag.Name] = TagMismatchError{Tag: tag.Name, Actual: missingTagPlaceholderHash, Expected: expectedCommit}
		case resolveError != nil:
			mismatches[tag.Name] = resolveError
		case peeled.String() != expectedCommit:
			mismatches[tag.Name] = TagMismatchError{Tag: tag.Name, Actual: peeled.String(), Expected: expectedCommit}
		}
	}
	return mismatches
}

// Linked worktrees keep refs in the common git directory.
func openRepository(repositoryPath string) (*gitlib.Repository, error) {
	repository, openError := gitlib.PlainOpenWithOptions(repositoryPath, &gitlib.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if openError != nil {
		return nil, fmt.Errorf(openRepositoryTemplate, repositoryPath, openError)
	}
	return repository, nil
}

func resolveTag(repository *gitlib.Repository, tagName string) (plumbing.Hash, error) {
	reference, referenceError := repository.Tag(tagName)
	if referenceError != nil {
		return plumbing.ZeroHash, fmt.Errorf(readTagReferenceTemplate, tagName, referenceError)
	}
	peeled, peeledOK := peelToCommit(repository, reference.Hash())
	if !peeledOK {
		return plumbing.ZeroHash, fmt.Errorf(unpeelableTagTemplate, tagName)
	}
	return peeled, nil
}

func peelToCommit(repository *gitlib.Repository, hash plumbing.Hash) (plumbing.Hash, bool) {
	if hash == plumbing.ZeroHash {
		return plumbing.ZeroHash, false
	}
	// Lightweight tags point straight at a commit.
	if _, commitError := repository.CommitObject(hash); commitError == nil {
		return hash, true
	}
	current := hash
	for range maximumTagNesting {
		tagObject, tagError := repository.TagObject(current)
		if tagError != nil {
			return plumbing.ZeroHash, false
		}
		switch tagObject.TargetType {
		case plumbing.CommitObject:
			return tagObject.Target, true
		case plumbing.TagObject:
			current = tagObject.Target
		default:
			return plumbing.ZeroHash, false
		}
	}
	return plumbing.ZeroHash, false
}
