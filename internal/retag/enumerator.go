package retag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
)

// Policy selects which tags are relocated.
type Policy string

// Supported tag policies.
const (
	// PolicyScoped selects tags that peel to a commit discarded by the squash.
	PolicyScoped Policy = "scoped"
	// PolicyGlobal selects every tag in the repository.
	PolicyGlobal Policy = "global"
)

const (
	semverPrefix                = "v"
	unsupportedPolicyTemplate   = "unsupported tag policy %q (expected scoped or global)"
	enumeratorRepositoryMissing = "tag enumerator repository not configured"
)

// ErrEnumeratorRepositoryNotConfigured indicates the enumerator was built without git access.
var ErrEnumeratorRepositoryNotConfigured = errors.New(enumeratorRepositoryMissing)

// ParsePolicy normalizes a configured policy. Empty values select PolicyScoped.
func ParsePolicy(rawValue string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(rawValue))) {
	case "", PolicyScoped:
		return PolicyScoped, nil
	case PolicyGlobal:
		return PolicyGlobal, nil
	default:
		return "", fmt.Errorf(unsupportedPolicyTemplate, rawValue)
	}
}

// TagLister lists repository tags.
type TagLister interface {
	ListTags(executionContext context.Context, repositoryPath string) ([]gitrepo.TagReference, error)
}

// EnumerationOptions configure tag selection.
type EnumerationOptions struct {
	RepositoryPath   string
	Policy           Policy
	DiscardedCommits []string
	SemverOnly       bool
}

// Enumerator selects the tags to relocate.
type Enumerator struct {
	lister TagLister
}

// NewEnumerator constructs an Enumerator.
func NewEnumerator(lister TagLister) (*Enumerator, error) {
	if lister == nil {
		return nil, ErrEnumeratorRepositoryNotConfigured
	}
	return &Enumerator{lister: lister}, nil
}

// Enumerate returns the selected tags sorted by creation date, newest first.
func (enumerator *Enumerator) Enumerate(executionContext context.Context, options EnumerationOptions) ([]Tag, error) {
	references, listError := enumerator.lister.ListTags(executionContext, options.RepositoryPath)
	if listError != nil {
		return nil, repoerrors.Wrap(repoerrors.OperationEnumerateTags, options.RepositoryPath, repoerrors.ErrTagListingFailed, listError)
	}

	discarded := make(map[string]struct{}, len(options.DiscardedCommits))
	for _, commit := range options.DiscardedCommits {
		discarded[commit] = struct{}{}
	}

	selected := make([]Tag, 0, len(references))
	for _, reference := range references {
		if options.Policy != PolicyGlobal {
			if _, inRange := discarded[reference.TargetCommit]; !inRange {
				continue
			}
		}
		if options.SemverOnly && !IsSemanticVersion(reference.Name) {
			continue
		}
		selected = append(selected, tagFromReference(reference))
	}

	sort.SliceStable(selected, func(left int, right int) bool {
		return selected[left].CreatedAt.After(selected[right].CreatedAt)
	})
	return selected, nil
}

// IsSemanticVersion reports whether the tag name is a semantic version, with or without a leading "v".
func IsSemanticVersion(tagName string) bool {
	if strings.HasPrefix(tagName, semverPrefix) {
		return semver.IsValid(tagName)
	}
	return semver.IsValid(semverPrefix + tagName)
}
