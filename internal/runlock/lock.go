// Package runlock prevents two runs from rewriting the same repository at once.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
)

const (
	// FileName is the lock file kept in the common git directory. It is never removed, so every
	// process locks the same inode.
	FileName = "squashtag.lock"

	defaultWaitDuration   = 2 * time.Second
	retryDelay            = 100 * time.Millisecond
	lockHeldTemplate      = "another squashtag run holds %s (pid %d)"
	lockHeldUnknownFormat = "another squashtag run holds %s"
	acquireFailedTemplate = "acquire %s: %w"
	lockFilePermissions   = 0o600
	ownerWriteFailedLog   = "failed to record lock owner"
	logFieldLockPath      = "lock_path"
)

// Lock is a held run lock.
type Lock struct {
	fileLock *flock.Flock
	path     string
}

// Options configure lock acquisition.
type Options struct {
	// Wait bounds how long Acquire retries before reporting the lock as held.
	Wait   time.Duration
	Logger *zap.Logger
}

// Acquire takes the run lock inside gitDirectory. It fails with repoerrors.ErrRunLocked when
// another process keeps the lock past the wait window.
func Acquire(executionContext context.Context, gitDirectory string, options Options) (*Lock, error) {
	lockPath := filepath.Join(gitDirectory, FileName)
	wait := options.Wait
	if wait <= 0 {
		wait = defaultWaitDuration
	}

	fileLock := flock.New(lockPath)
	waitContext, cancel := context.WithTimeout(executionContext, wait)
	defer cancel()

	locked, lockError := fileLock.TryLockContext(waitContext, retryDelay)
	if lockError != nil && !errors.Is(lockError, context.DeadlineExceeded) {
		return nil, repoerrors.Wrap(repoerrors.OperationPrepare, gitDirectory, repoerrors.ErrRunLocked, fmt.Errorf(acquireFailedTemplate, lockPath, lockError))
	}
	if !locked {
		return nil, repoerrors.WrapMessage(repoerrors.OperationPrepare, gitDirectory, repoerrors.ErrRunLocked, heldMessage(lockPath))
	}

	if writeError := os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())), lockFilePermissions); writeError != nil && options.Logger != nil {
		options.Logger.Warn(ownerWriteFailedLog, zap.String(logFieldLockPath, lockPath), zap.Error(writeError))
	}
	return &Lock{fileLock: fileLock, path: lockPath}, nil
}

// Path returns the lock file location.
func (lock *Lock) Path() string {
	return lock.path
}

// Release unlocks the lock file and leaves it in place.
func (lock *Lock) Release() error {
	if lock == nil || lock.fileLock == nil {
		return nil
	}
	return lock.fileLock.Unlock()
}

func heldMessage(lockPath string) string {
	content, readError := os.ReadFile(lockPath)
	if readError != nil {
		return fmt.Sprintf(lockHeldUnknownFormat, lockPath)
	}
	pid, parseError := strconv.Atoi(strings.TrimSpace(string(content)))
	if parseError != nil {
		return fmt.Sprintf(lockHeldUnknownFormat, lockPath)
	}
	return fmt.Sprintf(lockHeldTemplate, lockPath, pid)
}
