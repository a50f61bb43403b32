package retag

import (
	"fmt"
	"time"

	"github.com/tyemirov/squashtag/internal/gitrepo"
)

const (
	lightweightObjectType          = "commit"
	annotatedObjectType            = "tag"
	tagRelocationErrorTemplate     = "relocate tag %s: %v"
	tagRestoredSuffixTemplate      = "; restored at %s"
	tagPreviousTargetTemplate      = "; previously at %s, restore with: git tag -f %s %s"
	tagVerificationMismatchMessage = "tag %s points at %s, expected %s"
)

// Tag is a named reference selected for relocation.
type Tag struct {
	Name string
	// Target is the commit the tag peels to before relocation.
	Target     string
	ObjectType string
	CreatedAt  time.Time
}

// Annotated reports whether the tag is backed by a tag object carrying a message.
func (tag Tag) Annotated() bool {
	return tag.ObjectType == annotatedObjectType
}

func tagFromReference(reference gitrepo.TagReference) Tag {
	return Tag{
		Name:       reference.Name,
		Target:     reference.TargetCommit,
		ObjectType: reference.ObjectType,
		CreatedAt:  reference.CreatedAt,
	}
}

// WorkItem carries everything one worker needs to relocate one tag.
type WorkItem struct {
	Tag            Tag
	TargetCommit   string
	RemoteName     string
	RepositoryPath string
}

// Result reports the outcome of relocating one tag.
type Result struct {
	Tag              Tag
	Worker           int
	RemoteTagMissing bool
	// Restored is set when a failed tag was put back at its previous target.
	Restored bool
	// Verified is set once the relocated tag was read back at the target commit.
	Verified bool
	Error    error
}

// Succeeded reports whether the tag was relocated without error.
func (result Result) Succeeded() bool {
	return result.Error == nil
}

// TagRelocationError reports a tag that could not be moved to the new commit.
type TagRelocationError struct {
	Tag            string
	PreviousTarget string
	Restored       bool
	Cause          error
}

// Error describes the failed tag and where it points now, or how to put it back.
func (relocationError TagRelocationError) Error() string {
	message := fmt.Sprintf(tagRelocationErrorTemplate, relocationError.Tag, relocationError.Cause)
	switch {
	case len(relocationError.PreviousTarget) == 0:
		return message
	case relocationError.Restored:
		return message + fmt.Sprintf(tagRestoredSuffixTemplate, shortCommit(relocationError.PreviousTarget))
	default:
		return message + fmt.Sprintf(tagPreviousTargetTemplate, shortCommit(relocationError.PreviousTarget), relocationError.Tag, relocationError.PreviousTarget)
	}
}

// Unwrap exposes the underlying error.
func (relocationError TagRelocationError) Unwrap() error {
	return relocationError.Cause
}

// TagMismatchError reports a relocated tag that does not peel to the expected commit.
type TagMismatchError struct {
	Tag      string
	Actual   string
	Expected string
}

// Error describes the mismatch.
func (mismatch TagMismatchError) Error() string {
	return fmt.Sprintf(tagVerificationMismatchMessage, mismatch.Tag, mismatch.Actual, mismatch.Expected)
}
