// Package version reports the squashtag build version.
package version

import (
	"context"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/squashtag/internal/execshell"
	"github.com/tyemirov/squashtag/internal/gitrepo"
)

const (
	// UnknownVersion is reported when no source yields a version.
	UnknownVersion = "unknown"

	develVersionMarker        = "devel"
	versionParenthesesCutset  = "()"
	gitRevParseSubcommand     = "rev-parse"
	gitShowTopLevelFlag       = "--show-toplevel"
	gitDescribeSubcommand     = "describe"
	gitDescribeTagsFlag       = "--tags"
	gitDescribeExactMatchFlag = "--exact-match"
	gitDescribeLongFlag       = "--long"
	gitDescribeDirtyFlag      = "--dirty"
)

// injectedVersion is set at link time with -ldflags "-X github.com/tyemirov/squashtag/internal/version.injectedVersion=v1.2.3".
var injectedVersion string

// BuildInfoProvider exposes runtime build metadata.
type BuildInfoProvider interface {
	Read() (*debug.BuildInfo, bool)
}

// Dependencies describes the collaborators used for version detection.
type Dependencies struct {
	BuildInfoProvider BuildInfoProvider
	GitExecutor       gitrepo.GitCommandExecutor
	WorkingDirectory  string
	InjectedVersion   string
}

// Detector resolves the version from, in order, the linker, module build info and git describe of the source checkout.
type Detector struct {
	buildInfoProvider BuildInfoProvider
	gitExecutor       gitrepo.GitCommandExecutor
	workingDirectory  string
	injectedVersion   string
}

// NewDetector constructs a Detector, filling unset dependencies with runtime defaults.
func NewDetector(dependencies Dependencies) (*Detector, error) {
	provider := dependencies.BuildInfoProvider
	if provider == nil {
		provider = runtimeBuildInfoProvider{}
	}

	executor := dependencies.GitExecutor
	if executor == nil {
		shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner(nil), false)
		if creationError != nil {
			return nil, creationError
		}
		executor = shellExecutor
	}

	workingDirectory := strings.TrimSpace(dependencies.WorkingDirectory)
	if len(workingDirectory) == 0 {
		if currentDirectory, workingDirectoryError := os.Getwd(); workingDirectoryError == nil {
			workingDirectory = currentDirectory
		}
	}

	linkedVersion := strings.TrimSpace(dependencies.InjectedVersion)
	if len(linkedVersion) == 0 {
		linkedVersion = strings.TrimSpace(injectedVersion)
	}

	return &Detector{
		buildInfoProvider: provider,
		gitExecutor:       executor,
		workingDirectory:  workingDirectory,
		injectedVersion:   linkedVersion,
	}, nil
}

// Detect is a convenience wrapper around NewDetector and Version.
func Detect(executionContext context.Context, dependencies Dependencies) string {
	detector, detectorError := NewDetector(dependencies)
	if detectorError != nil {
		return UnknownVersion
	}
	return detector.Version(executionContext)
}

// Version returns the first version any source reports, or UnknownVersion.
func (detector *Detector) Version(executionContext context.Context) string {
	if detector == nil {
		return UnknownVersion
	}
	if len(detector.injectedVersion) > 0 {
		return detector.injectedVersion
	}
	if moduleVersion := detector.moduleVersion(); len(moduleVersion) > 0 {
		return moduleVersion
	}
	if len(detector.workingDirectory) == 0 {
		return UnknownVersion
	}

	checkoutRoot := detector.git(executionContext, detector.workingDirectory, gitRevParseSubcommand, gitShowTopLevelFlag)
	if len(checkoutRoot) == 0 {
		return UnknownVersion
	}
	if exact := detector.git(executionContext, checkoutRoot, gitDescribeSubcommand, gitDescribeTagsFlag, gitDescribeExactMatchFlag); len(exact) > 0 {
		return exact
	}
	if described := detector.git(executionContext, checkoutRoot, gitDescribeSubcommand, gitDescribeTagsFlag, gitDescribeLongFlag, gitDescribeDirtyFlag); len(described) > 0 {
		return described
	}
	return UnknownVersion
}

func (detector *Detector) moduleVersion() string {
	buildInfo, available := detector.buildInfoProvider.Read()
	if !available || buildInfo == nil {
		return ""
	}
	moduleVersion := strings.TrimSpace(buildInfo.Main.Version)
	if strings.EqualFold(strings.Trim(moduleVersion, versionParenthesesCutset), develVersionMarker) {
		return ""
	}
	return moduleVersion
}

func (detector *Detector) git(executionContext context.Context, workingDirectory string, arguments ...string) string {
	result, executionError := detector.gitExecutor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: workingDirectory,
	})
	if executionError != nil {
		return ""
	}
	return result.TrimmedOutput()
}

type runtimeBuildInfoProvider struct{}

func (runtimeBuildInfoProvider) Read() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}
