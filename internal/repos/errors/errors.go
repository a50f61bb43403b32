package errors

import (
	stdErrors "errors"
	"fmt"
)

// Operation identifies the logical phase producing a contextual error.
type Operation string

const (
	// OperationPrepare denotes repository validation and run lock acquisition.
	OperationPrepare Operation = "squashtag.prepare"
	// OperationResolveBase denotes remote synchronisation and merge-base resolution.
	OperationResolveBase Operation = "squashtag.base.resolve"
	// OperationSquash denotes squash commit creation.
	OperationSquash Operation = "squashtag.squash"
	// OperationEnumerateTags denotes tag selection.
	OperationEnumerateTags Operation = "squashtag.tags.enumerate"
	// OperationRelocateTags denotes parallel tag relocation.
	OperationRelocateTags Operation = "squashtag.tags.relocate"
	// OperationPublish denotes the final branch push.
	OperationPublish Operation = "squashtag.branch.push"
	// OperationRelease denotes tagging and pushing the next semantic version.
	OperationRelease Operation = "squashtag.release"
)

// Sentinel describes a stable error code shared across phases.
type Sentinel string

// Error returns the sentinel code string.
func (sentinel Sentinel) Error() string {
	return string(sentinel)
}

// Code exposes the sentinel code string.
func (sentinel Sentinel) Code() string {
	return string(sentinel)
}

var (
	// ErrRepositoryUnavailable indicates the path is not a usable git work tree.
	ErrRepositoryUnavailable Sentinel = "repository_unavailable"
	// ErrOperationInProgress indicates an unfinished rebase, merge, cherry-pick, revert or bisect.
	ErrOperationInProgress Sentinel = "operation_in_progress"
	// ErrRunLocked indicates another run holds the repository lock.
	ErrRunLocked Sentinel = "run_locked"
	// ErrFetchFailed indicates remote synchronisation failed.
	ErrFetchFailed Sentinel = "fetch_failed"
	// ErrRemoteBranchUnavailable indicates the remote base branch does not resolve to a commit.
	ErrRemoteBranchUnavailable Sentinel = "remote_branch_unavailable"
	// ErrMergeBaseFailed indicates the common ancestor could not be determined.
	ErrMergeBaseFailed Sentinel = "merge_base_failed"
	// ErrConfirmationDeclined indicates the operator declined a destructive step.
	ErrConfirmationDeclined Sentinel = "confirmation_declined"
	// ErrBackupFailed indicates the backup branch could not be created.
	ErrBackupFailed Sentinel = "backup_failed"
	// ErrSquashFailed indicates the reset, staging or commit step failed.
	ErrSquashFailed Sentinel = "squash_failed"
	// ErrTagListingFailed indicates tags could not be enumerated.
	ErrTagListingFailed Sentinel = "tag_listing_failed"
	// ErrTagRelocationFailed indicates at least one tag could not be relocated.
	ErrTagRelocationFailed Sentinel = "tag_relocation_failed"
	// ErrBranchPushFailed indicates the squashed branch could not be pushed.
	ErrBranchPushFailed Sentinel = "branch_push_failed"
	// ErrNoVersionTag indicates no tag is a semantic version, so there is nothing to bump.
	ErrNoVersionTag Sentinel = "no_version_tag"
	// ErrReleaseTagFailed indicates the release tag could not be created.
	ErrReleaseTagFailed Sentinel = "release_tag_failed"
	// ErrReleasePushFailed indicates the release tag could not be pushed.
	ErrReleasePushFailed Sentinel = "release_push_failed"
)

// OperationError annotates an error produced by a phase with operation metadata.
type OperationError struct {
	operation Operation
	subject   string
	err       error
	message   string
}

// Error implements the error interface.
func (operationError OperationError) Error() string {
	if len(operationError.message) > 0 {
		if len(operationError.subject) == 0 {
			return fmt.Sprintf("%s: %s", operationError.operation, operationError.message)
		}
		return fmt.Sprintf("%s[%s]: %s", operationError.operation, operationError.subject, operationError.message)
	}
	if len(operationError.subject) == 0 {
		return fmt.Sprintf("%s: %v", operationError.operation, operationError.err)
	}
	return fmt.Sprintf("%s[%s]: %v", operationError.operation, operationError.subject, operationError.err)
}

// Unwrap exposes the underlying error chain.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the originating operation identifier.
func (operationError OperationError) Operation() Operation {
	return operationError.operation
}

// Subject returns the repository path related to the error.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code surfaces the sentinel code of the wrapped error when present.
func (operationError OperationError) Code() string {
	if sentinel, found := findSentinel(operationError.err); found {
		return sentinel.Code()
	}
	return ""
}

// Message exposes the formatted message when provided via WrapMessage.
func (operationError OperationError) Message() string {
	return operationError.message
}

// Wrap constructs an OperationError combining the metadata with the sentinel. The detail stays reachable through errors.As.
func Wrap(operation Operation, subject string, sentinel Sentinel, detail error) error {
	if len(sentinel) == 0 {
		return OperationError{operation: operation, subject: subject, err: detail}
	}
	baseError := error(sentinel)
	if detail != nil {
		baseError = fmt.Errorf("%w: %w", sentinel, detail)
	}
	return OperationError{operation: operation, subject: subject, err: baseError}
}

// WrapMessage constructs an OperationError combining the metadata with a formatted message.
func WrapMessage(operation Operation, subject string, sentinel Sentinel, message string) error {
	if len(message) == 0 {
		return Wrap(operation, subject, sentinel, nil)
	}
	return OperationError{operation: operation, subject: subject, err: fmt.Errorf("%w: %s", sentinel, message), message: message}
}

// CodeOf returns the sentinel code carried anywhere in the error chain.
func CodeOf(err error) string {
	if sentinel, found := findSentinel(err); found {
		return sentinel.Code()
	}
	return ""
}

func findSentinel(err error) (Sentinel, bool) {
	if err == nil {
		return "", false
	}
	var sentinel Sentinel
	if stdErrors.As(err, &sentinel) {
		return sentinel, true
	}
	return "", false
}
