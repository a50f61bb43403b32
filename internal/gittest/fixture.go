// Package gittest builds throwaway git repositories with a bare remote for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	// RemoteName is the remote every fixture clone is wired to.
	RemoteName = "origin"
	// BranchName is the branch fixtures start on.
	BranchName = "main"

	gitExecutableName                        = "git"
	gitMissingSkipMessage                    = "git executable not available"
	workDirectoryName                        = "work"
	remoteDirectoryName                      = "remote.git"
	initialFileName                          = "README.md"
	initialCommitMessage                     = "initial"
	gitConfigSystemEnvironmentNameConstant   = "GIT_CONFIG_SYSTEM"
	gitConfigGlobalEnvironmentNameConstant   = "GIT_CONFIG_GLOBAL"
	gitConfigNoSystemEnvironmentNameConstant = "GIT_CONFIG_NOSYSTEM"
	gitTerminalPromptEnvironmentNameConstant = "GIT_TERMINAL_PROMPT"
	environmentAssignmentSeparatorConstant   = "="
	filePermissions                          = 0o644
)

var localConfiguration = [][2]string{
	{"user.name", "Release Bot"},
	{"user.email", "release-bot@example.com"},
	{"commit.gpgsign", "false"},
	{"tag.gpgsign", "false"},
}

// Fixture is a work tree whose origin is a local bare repository.
type Fixture struct {
	testInstance *testing.T
	WorkPath     string
	RemotePath   string
}

// NewFixture creates the bare remote and a work tree on main holding one pushed commit.
// The test is skipped when git is not installed.
func NewFixture(testInstance *testing.T) *Fixture {
	testInstance.Helper()
	if _, lookupError := exec.LookPath(gitExecutableName); lookupError != nil {
		testInstance.Skip(gitMissingSkipMessage)
	}
	IsolateGlobalConfiguration(testInstance)

	rootDirectory := testInstance.TempDir()
	fixture := &Fixture{
		testInstance: testInstance,
		WorkPath:     filepath.Join(rootDirectory, workDirectoryName),
		RemotePath:   filepath.Join(rootDirectory, remoteDirectoryName),
	}
	require.NoError(testInstance, os.MkdirAll(fixture.WorkPath, 0o755))

	fixture.run(rootDirectory, "init", "--quiet", "--bare", fixture.RemotePath)
	fixture.run(fixture.RemotePath, "symbolic-ref", "HEAD", "refs/heads/"+BranchName)
	fixture.Git("init", "--quiet")
	fixture.Git("symbolic-ref", "HEAD", "refs/heads/"+BranchName)
	for _, setting := range localConfiguration {
		fixture.Git("config", setting[0], setting[1])
	}
	fixture.Git("remote", "add", RemoteName, fixture.RemotePath)
	fixture.Commit(initialFileName, initialCommitMessage+"\n", initialCommitMessage)
	fixture.Git("push", "--quiet", RemoteName, BranchName)
	fixture.Git("fetch", "--quiet", RemoteName)
	return fixture
}

// IsolateGlobalConfiguration points git at empty system and global configuration for the test.
func IsolateGlobalConfiguration(testInstance *testing.T) {
	testInstance.Helper()
	testInstance.Setenv(gitConfigSystemEnvironmentNameConstant, os.DevNull)
	testInstance.Setenv(gitConfigGlobalEnvironmentNameConstant, os.DevNull)
	testInstance.Setenv(gitConfigNoSystemEnvironmentNameConstant, "1")
	testInstance.Setenv(gitTerminalPromptEnvironmentNameConstant, "0")
}

// Git runs git in the work tree and returns trimmed combined output.
func (fixture *Fixture) Git(arguments ...string) string {
	fixture.testInstance.Helper()
	return fixture.run(fixture.WorkPath, arguments...)
}

// RemoteGit runs git inside the bare remote.
func (fixture *Fixture) RemoteGit(arguments ...string) string {
	fixture.testInstance.Helper()
	return fixture.run(fixture.RemotePath, arguments...)
}

// Commit writes content to fileName, commits it and returns the new commit hash.
func (fixture *Fixture) Commit(fileName string, content string, message string) string {
	fixture.testInstance.Helper()
	fixture.WriteFile(fileName, content)
	fixture.Git("add", "--all")
	fixture.Git("commit", "--quiet", "-m", message)
	return fixture.Head()
}

// WriteFile replaces a file in the work tree without staging it.
func (fixture *Fixture) WriteFile(fileName string, content string) {
	fixture.testInstance.Helper()
	require.NoError(fixture.testInstance, os.WriteFile(filepath.Join(fixture.WorkPath, fileName), []byte(content), filePermissions))
}

// Head returns the work tree HEAD commit.
func (fixture *Fixture) Head() string {
	fixture.testInstance.Helper()
	return fixture.Git("rev-parse", "HEAD")
}

// Peel returns the commit a revision resolves to in the work tree.
func (fixture *Fixture) Peel(revision string) string {
	fixture.testInstance.Helper()
	return fixture.Git("rev-parse", revision+"^{commit}")
}

// RemotePeel returns the commit a revision resolves to in the bare remote.
func (fixture *Fixture) RemotePeel(revision string) string {
	fixture.testInstance.Helper()
	return fixture.RemoteGit("rev-parse", revision+"^{commit}")
}

// Tags lists the work tree tag names, sorted.
func (fixture *Fixture) Tags() []string {
	fixture.testInstance.Helper()
	return splitLines(fixture.Git("tag", "--list"))
}

func (fixture *Fixture) run(directory string, arguments ...string) string {
	fixture.testInstance.Helper()
	command := exec.Command(gitExecutableName, arguments...)
	command.Dir = directory
	command.Env = environment()
	output, runError := command.CombinedOutput()
	require.NoError(fixture.testInstance, runError, "git %s\n%s", strings.Join(arguments, " "), string(output))
	return strings.TrimSpace(string(output))
}

func environment() []string {
	values := make(map[string]string)
	for _, assignment := range os.Environ() {
		separatorIndex := strings.Index(assignment, environmentAssignmentSeparatorConstant)
		if separatorIndex <= 0 {
			continue
		}
		values[assignment[:separatorIndex]] = assignment[separatorIndex+1:]
	}
	values[gitTerminalPromptEnvironmentNameConstant] = "0"

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	merged := make([]string, 0, len(names))
	for _, name := range names {
		merged = append(merged, name+environmentAssignmentSeparatorConstant+values[name])
	}
	return merged
}

func splitLines(output string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 0 {
			lines = append(lines, trimmed)
		}
	}
	sort.Strings(lines)
	return lines
}
