package execshell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// OSCommandRunner executes commands on the host operating system.
type OSCommandRunner struct {
	standardErrorMirror io.Writer
}

// NewOSCommandRunner constructs a runner that mirrors standard error to the provided writer.
// A nil writer disables mirroring.
func NewOSCommandRunner(standardErrorMirror io.Writer) OSCommandRunner {
	return OSCommandRunner{standardErrorMirror: standardErrorMirror}
}

// Run executes the command with an explicit argument vector and captures its output.
func (runner OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	osCommand := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	if len(command.Details.WorkingDirectory) > 0 {
		osCommand.Dir = command.Details.WorkingDirectory
	}
	if len(command.Details.EnvironmentVariables) > 0 {
		environment := os.Environ()
		for key, value := range command.Details.EnvironmentVariables {
			environment = append(environment, key+"="+value)
		}
		osCommand.Env = environment
	}
	if len(command.Details.StandardInput) > 0 {
		osCommand.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	osCommand.Stdout = &standardOutputBuffer
	if runner.standardErrorMirror != nil {
		osCommand.Stderr = io.MultiWriter(&standardErrorBuffer, runner.standardErrorMirror)
	} else {
		osCommand.Stderr = &standardErrorBuffer
	}

	runError := osCommand.Run()
	executionResult := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
	}
	if runError == nil {
		return executionResult, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) && executionContext.Err() == nil {
		executionResult.ExitCode = exitError.ExitCode()
		return executionResult, nil
	}
	if contextError := executionContext.Err(); contextError != nil {
		return ExecutionResult{}, contextError
	}
	return ExecutionResult{}, runError
}
