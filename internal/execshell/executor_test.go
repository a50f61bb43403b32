package execshell_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/squashtag/internal/execshell"
)

const (
	testExecutionSuccessCaseNameConstant         = "success"
	testExecutionFailureCaseNameConstant         = "failure_exit_code"
	testExecutionRunnerErrorCaseNameConstant     = "runner_error"
	testCommandArgumentConstant                  = "--version"
	testWorkingDirectoryConstant                 = "."
	testStandardErrorOutputConstant              = "failure"
	testRunnerFailureMessageConstant             = "runner failure"
	testLoggerInitializationCaseNameConstant     = "logger_validation"
	testRunnerInitializationCaseNameConstant     = "runner_validation"
	testSuccessfulInitializationCaseNameConstant = "successful_initialization"
	testGitStartedMessageConstant                = "Running git --version (in .)"
	testGitCompletedMessageConstant              = "Completed git --version (in .)"
	testGitFailureMessageConstant                = "git --version (in .) failed with exit code 1: failure"
	testGitRunnerErrorMessageConstant            = "git --version (in .) failed: runner failure"
	testGitSkippedMessageConstant                = "Skipped git tag -d v1.0.0 (in .) (dry run)"
)

type recordingCommandRunner struct {
	executionResult  execshell.ExecutionResult
	executionError   error
	recordedCommands []execshell.ShellCommand
}

func (runner *recordingCommandRunner) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.recordedCommands = append(runner.recordedCommands, command)
	return runner.executionResult, runner.executionError
}

func TestShellExecutorInitializationValidation(testInstance *testing.T) {
	testCases := []struct {
		name          string
		logger        *zap.Logger
		runner        execshell.CommandRunner
		expectError   error
		expectSuccess bool
	}{
		{
			name:        testLoggerInitializationCaseNameConstant,
			logger:      nil,
			runner:      &recordingCommandRunner{},
			expectError: execshell.ErrLoggerNotConfigured,
		},
		{
			name:        testRunnerInitializationCaseNameConstant,
			logger:      zap.NewNop(),
			runner:      nil,
			expectError: execshell.ErrCommandRunnerNotConfigured,
		},
		{
			name:          testSuccessfulInitializationCaseNameConstant,
			logger:        zap.NewNop(),
			runner:        &recordingCommandRunner{},
			expectSuccess: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor, creationError := execshell.NewShellExecutor(testCase.logger, testCase.runner, false)
			if testCase.expectSuccess {
				require.NoError(testInstance, creationError)
				require.NotNil(testInstance, executor)
			} else {
				require.Error(testInstance, creationError)
				require.ErrorIs(testInstance, creationError, testCase.expectError)
			}
		})
	}
}

func TestShellExecutorExecuteBehavior(testInstance *testing.T) {
	testCases := []struct {
		name            string
		runnerResult    execshell.ExecutionResult
		runnerError     error
		expectErrorType any
		expectedLevels  []zapcore.Level
		expectedHuman   []string
	}{
		{
			name:           testExecutionSuccessCaseNameConstant,
			runnerResult:   execshell.ExecutionResult{StandardOutput: "ok\n"},
			expectedLevels: []zapcore.Level{zap.InfoLevel, zap.InfoLevel},
			expectedHuman:  []string{testGitStartedMessageConstant, testGitCompletedMessageConstant},
		},
		{
			name: testExecutionFailureCaseNameConstant,
			runnerResult: execshell.ExecutionResult{
				StandardError: testStandardErrorOutputConstant,
				ExitCode:      1,
			},
			expectErrorType: execshell.ExternalCommandError{},
			expectedLevels:  []zapcore.Level{zap.InfoLevel, zap.WarnLevel},
			expectedHuman:   []string{testGitStartedMessageConstant, testGitFailureMessageConstant},
		},
		{
			name:            testExecutionRunnerErrorCaseNameConstant,
			runnerError:     errors.New(testRunnerFailureMessageConstant),
			expectErrorType: execshell.CommandExecutionError{},
			expectedLevels:  []zapcore.Level{zap.InfoLevel, zap.ErrorLevel},
			expectedHuman:   []string{testGitStartedMessageConstant, testGitRunnerErrorMessageConstant},
		},
	}

	for _, humanReadable := range []bool{false, true} {
		for _, testCase := range testCases {
			testInstance.Run(testCase.name, func(testInstance *testing.T) {
				observerCore, observerLogs := observer.New(zap.DebugLevel)
				recordingRunner := &recordingCommandRunner{
					executionResult: testCase.runnerResult,
					executionError:  testCase.runnerError,
				}

				shellExecutor, creationError := execshell.NewShellExecutor(zap.New(observerCore), recordingRunner, humanReadable)
				require.NoError(testInstance, creationError)

				commandDetails := execshell.CommandDetails{Arguments: []string{testCommandArgumentConstant}, WorkingDirectory: testWorkingDirectoryConstant}
				executionResult, executionError := shellExecutor.ExecuteGit(context.Background(), commandDetails)

				if testCase.expectErrorType != nil {
					require.Error(testInstance, executionError)
					require.IsType(testInstance, testCase.expectErrorType, executionError)
					require.Empty(testInstance, executionResult.StandardOutput)
				} else {
					require.NoError(testInstance, executionError)
					require.Equal(testInstance, "ok", executionResult.TrimmedOutput())
				}

				require.Len(testInstance, recordingRunner.recordedCommands, 1)
				require.Equal(testInstance, execshell.CommandGit, recordingRunner.recordedCommands[0].Name)
				require.Equal(testInstance, "0", recordingRunner.recordedCommands[0].Details.EnvironmentVariables["GIT_TERMINAL_PROMPT"])

				entries := observerLogs.All()
				require.Len(testInstance, entries, len(testCase.expectedLevels))
				for entryIndex, entry := range entries {
					require.Equal(testInstance, testCase.expectedLevels[entryIndex], entry.Level)
					if humanReadable {
						require.Equal(testInstance, testCase.expectedHuman[entryIndex], entry.Message)
					}
				}
			})
		}
	}
}

func TestShellExecutorDryRunSkipsMutatingCommands(testInstance *testing.T) {
	observerCore, observerLogs := observer.New(zap.DebugLevel)
	recordingRunner := &recordingCommandRunner{executionResult: execshell.ExecutionResult{StandardOutput: "abc\n"}}

	shellExecutor, creationError := execshell.NewShellExecutor(zap.New(observerCore), recordingRunner, true, execshell.WithDryRun(true))
	require.NoError(testInstance, creationError)
	require.True(testInstance, shellExecutor.DryRun())

	mutatingResult, mutatingError := shellExecutor.ExecuteGit(context.Background(), execshell.CommandDetails{
		Arguments:        []string{"tag", "-d", "v1.0.0"},
		WorkingDirectory: testWorkingDirectoryConstant,
		Mutating:         true,
	})
	require.NoError(testInstance, mutatingError)
	require.Equal(testInstance, execshell.DryRunPlaceholderOutput, mutatingResult.StandardOutput)
	require.Empty(testInstance, recordingRunner.recordedCommands)

	readResult, readError := shellExecutor.ExecuteGit(context.Background(), execshell.CommandDetails{
		Arguments:        []string{"rev-parse", "HEAD"},
		WorkingDirectory: testWorkingDirectoryConstant,
	})
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "abc", readResult.TrimmedOutput())
	require.Len(testInstance, recordingRunner.recordedCommands, 1)

	require.Equal(testInstance, testGitSkippedMessageConstant, observerLogs.All()[0].Message)
}

func TestExternalCommandErrorDescribesFailure(testInstance *testing.T) {
	commandError := execshell.ExternalCommandError{
		Command: execshell.ShellCommand{
			Name:    execshell.CommandGit,
			Details: execshell.CommandDetails{Arguments: []string{"push", "origin", ":refs/tags/v1.0.0"}},
		},
		Result: execshell.ExecutionResult{
			StandardError: "error: unable to delete 'v1.0.0': remote ref does not exist\n\nerror: failed to push some refs",
			ExitCode:      1,
		},
	}

	require.Equal(testInstance, 1, commandError.ExitCode())
	require.Equal(testInstance, []string{"push", "origin", ":refs/tags/v1.0.0"}, commandError.Arguments())
	require.True(testInstance, commandError.StandardErrorContains("Remote Ref Does Not Exist"))
	require.Equal(testInstance,
		"git command exited with code 1 (push origin :refs/tags/v1.0.0): error: unable to delete 'v1.0.0': remote ref does not exist | error: failed to push some refs",
		commandError.Error(),
	)
}

func TestOSCommandRunnerCapturesExitCode(testInstance *testing.T) {
	if _, lookupError := exec.LookPath("git"); lookupError != nil {
		testInstance.Skip("git executable not available")
	}

	var mirrored strings.Builder
	runner := execshell.NewOSCommandRunner(&mirrored)

	successResult, successError := runner.Run(context.Background(), execshell.ShellCommand{
		Name:    execshell.CommandGit,
		Details: execshell.CommandDetails{Arguments: []string{"--version"}},
	})
	require.NoError(testInstance, successError)
	require.Zero(testInstance, successResult.ExitCode)
	require.Contains(testInstance, successResult.StandardOutput, "git version")

	failureResult, failureError := runner.Run(context.Background(), execshell.ShellCommand{
		Name: execshell.CommandGit,
		Details: execshell.CommandDetails{
			Arguments:        []string{"rev-parse", "--verify", "refs/heads/definitely-missing"},
			WorkingDirectory: testInstance.TempDir(),
		},
	})
	require.NoError(testInstance, failureError)
	require.NotZero(testInstance, failureResult.ExitCode)
	require.Equal(testInstance, failureResult.StandardError, mirrored.String())
}
