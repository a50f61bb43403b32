package runlock_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
	"github.com/tyemirov/squashtag/internal/runlock"
)

func TestAcquireAndRelease(testInstance *testing.T) {
	gitDirectory := testInstance.TempDir()

	lock, acquireError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{})
	require.NoError(testInstance, acquireError)
	require.Equal(testInstance, filepath.Join(gitDirectory, runlock.FileName), lock.Path())

	content, readError := os.ReadFile(lock.Path())
	require.NoError(testInstance, readError)
	require.Equal(testInstance, strconv.Itoa(os.Getpid()), string(content))

	require.NoError(testInstance, lock.Release())
	_, statError := os.Stat(lock.Path())
	require.NoError(testInstance, statError)
}

func TestAcquireFailsWhileHeld(testInstance *testing.T) {
	gitDirectory := testInstance.TempDir()

	held, acquireError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{})
	require.NoError(testInstance, acquireError)
	defer func() { require.NoError(testInstance, held.Release()) }()

	second, secondError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{Wait: 250 * time.Millisecond})
	require.Nil(testInstance, second)
	require.ErrorIs(testInstance, secondError, repoerrors.ErrRunLocked)
	require.Contains(testInstance, secondError.Error(), strconv.Itoa(os.Getpid()))
}

func TestAcquireAfterRelease(testInstance *testing.T) {
	gitDirectory := testInstance.TempDir()

	first, firstError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{})
	require.NoError(testInstance, firstError)
	require.NoError(testInstance, first.Release())

	second, secondError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{})
	require.NoError(testInstance, secondError)
	require.NoError(testInstance, second.Release())
}

func TestWaiterAcquiresOnceHolderReleases(testInstance *testing.T) {
	gitDirectory := testInstance.TempDir()

	held, acquireError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{})
	require.NoError(testInstance, acquireError)

	type acquisition struct {
		lock *runlock.Lock
		err  error
	}
	waiting := make(chan acquisition, 1)
	go func() {
		lock, waitError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{Wait: 5 * time.Second})
		waiting <- acquisition{lock: lock, err: waitError}
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(testInstance, held.Release())

	waiter := <-waiting
	require.NoError(testInstance, waiter.err)
	defer func() { require.NoError(testInstance, waiter.lock.Release()) }()

	third, thirdError := runlock.Acquire(context.Background(), gitDirectory, runlock.Options{Wait: 250 * time.Millisecond})
	require.Nil(testInstance, third)
	require.ErrorIs(testInstance, thirdError, repoerrors.ErrRunLocked)
}

func TestReleaseNilLock(testInstance *testing.T) {
	var lock *runlock.Lock
	require.NoError(testInstance, lock.Release())
}
