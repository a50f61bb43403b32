package shared

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// OriginRemoteNameConstant identifies the default remote.
	OriginRemoteNameConstant = "origin"
	// MainBranchNameConstant identifies the default base branch.
	MainBranchNameConstant = "main"
)

var (
	ErrRepositoryPathInvalid   = errors.New("repository path invalid")
	ErrRemoteNameInvalid       = errors.New("remote name invalid")
	ErrBranchNameInvalid       = errors.New("branch name invalid")
	remoteNamePattern          = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	branchForbiddenFragments   = []string{"..", "@{", "\\", "~", "^", ":", "?", "*", "["}
	branchWhitespaceCharacters = " \t\n\r"
)

// RepositoryPath represents a cleaned filesystem location of a git work tree.
type RepositoryPath struct {
	value string
}

// NewRepositoryPath validates and normalizes repository paths.
func NewRepositoryPath(rawValue string) (RepositoryPath, error) {
	if strings.ContainsAny(rawValue, "\r\n") {
		return RepositoryPath{}, fmt.Errorf("%w: contains newline", ErrRepositoryPathInvalid)
	}
	trimmed := strings.TrimSpace(rawValue)
	if len(trimmed) == 0 {
		return RepositoryPath{}, fmt.Errorf("%w: empty", ErrRepositoryPathInvalid)
	}
	return RepositoryPath{value: filepath.Clean(trimmed)}, nil
}

// String exposes the normalized path string.
func (path RepositoryPath) String() string {
	if len(path.value) == 0 {
		panic("shared.RepositoryPath: zero value")
	}
	return path.value
}

// RemoteName models named git remotes (origin, upstream, etc).
type RemoteName struct {
	value string
}

// NewRemoteName validates remote names.
func NewRemoteName(rawValue string) (RemoteName, error) {
	trimmed := strings.TrimSpace(rawValue)
	if len(trimmed) == 0 {
		return RemoteName{}, fmt.Errorf("%w: empty", ErrRemoteNameInvalid)
	}
	if !remoteNamePattern.MatchString(trimmed) {
		return RemoteName{}, fmt.Errorf("%w: %s", ErrRemoteNameInvalid, trimmed)
	}
	return RemoteName{value: trimmed}, nil
}

// String exposes the remote name value.
func (remoteName RemoteName) String() string {
	if len(remoteName.value) == 0 {
		panic("shared.RemoteName: zero value")
	}
	return remoteName.value
}

// BranchName captures validated branch identifiers.
type BranchName struct {
	value string
}

// NewBranchName rejects empty names, whitespace and the ref syntax git refuses in branch names.
func NewBranchName(rawValue string) (BranchName, error) {
	trimmed := strings.TrimSpace(rawValue)
	if len(trimmed) == 0 {
		return BranchName{}, fmt.Errorf("%w: empty", ErrBranchNameInvalid)
	}
	if strings.ContainsAny(trimmed, branchWhitespaceCharacters) {
		return BranchName{}, fmt.Errorf("%w: contains whitespace", ErrBranchNameInvalid)
	}
	if strings.HasPrefix(trimmed, "-") {
		return BranchName{}, fmt.Errorf("%w: %s", ErrBranchNameInvalid, trimmed)
	}
	for _, fragment := range branchForbiddenFragments {
		if strings.Contains(trimmed, fragment) {
			return BranchName{}, fmt.Errorf("%w: %s", ErrBranchNameInvalid, trimmed)
		}
	}
	return BranchName{value: trimmed}, nil
}

// String returns the branch name.
func (branch BranchName) String() string {
	if len(branch.value) == 0 {
		panic("shared.BranchName: zero value")
	}
	return branch.value
}

// Clock abstracts time acquisition for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time source.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ConfirmationResult captures the outcome of a user confirmation prompt.
type ConfirmationResult struct {
	Confirmed bool
	// ApplyToAll confirms every remaining prompt of the run.
	ApplyToAll bool
}

// ConfirmationPrompter collects user confirmations prior to destructive actions.
type ConfirmationPrompter interface {
	Confirm(prompt string) (ConfirmationResult, error)
}
