package cli

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tyemirov/squashtag/internal/orchestrator"
	"github.com/tyemirov/squashtag/internal/releases"
	"github.com/tyemirov/squashtag/internal/repos/shared"
	"github.com/tyemirov/squashtag/internal/retag"
	"github.com/tyemirov/squashtag/internal/squash"
	"github.com/tyemirov/squashtag/internal/utils"
)

const (
	environmentPrefixConstant                = "SQUASHTAG"
	configurationNameConstant                = "config"
	configurationTypeConstant                = "yaml"
	defaultConfigurationSearchPathConstant   = "."
	userConfigurationDirectoryNameConstant   = "squashtag"
	homeConfigurationDirectoryNameConstant   = ".squashtag"
	xdgConfigHomeEnvironmentVariableConstant = "XDG_CONFIG_HOME"

	commonSectionKeyConstant           = "common"
	runSectionKeyConstant              = "run"
	commonLogLevelConfigKeyConstant    = commonSectionKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant   = commonSectionKeyConstant + ".log_format"
	commonDryRunConfigKeyConstant      = commonSectionKeyConstant + ".dry_run"
	commonAssumeYesConfigKeyConstant   = commonSectionKeyConstant + ".assume_yes"
	commonSummaryFormatConfigKey       = commonSectionKeyConstant + ".summary_format"
	runRepositoryConfigKeyConstant     = runSectionKeyConstant + ".repository"
	runRemoteConfigKeyConstant         = runSectionKeyConstant + ".remote"
	runBaseBranchConfigKeyConstant     = runSectionKeyConstant + ".base_branch"
	runFetchAllConfigKeyConstant       = runSectionKeyConstant + ".fetch_all"
	runTagPolicyConfigKeyConstant      = runSectionKeyConstant + ".tag_policy"
	runSemverOnlyConfigKeyConstant     = runSectionKeyConstant + ".semver_only"
	runRelocationModeConfigKeyConstant = runSectionKeyConstant + ".relocation_mode"
	runWorkersConfigKeyConstant        = runSectionKeyConstant + ".workers"
	runMessageConfigKeyConstant        = runSectionKeyConstant + ".message"
	runBackupConfigKeyConstant         = runSectionKeyConstant + ".backup"
	runLockWaitConfigKeyConstant       = runSectionKeyConstant + ".lock_wait"

	repositoryPathResolveErrorTemplate = "unable to resolve repository path %q: %w"
	negativeWorkersErrorTemplate       = "workers must not be negative, got %d"
)

//go:embed default_config.yaml
var embeddedDefaultConfiguration []byte

// EmbeddedDefaultConfiguration returns the configuration compiled into the binary and its type.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return embeddedDefaultConfiguration, configurationTypeConstant
}

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
	Run    RunConfiguration               `mapstructure:"run"`
}

// ApplicationCommonConfiguration stores logging and execution defaults.
type ApplicationCommonConfiguration struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	DryRun        bool   `mapstructure:"dry_run"`
	AssumeYes     bool   `mapstructure:"assume_yes"`
	SummaryFormat string `mapstructure:"summary_format"`
}

// RunConfiguration stores squash-and-retag defaults.
type RunConfiguration struct {
	Repository     string        `mapstructure:"repository"`
	Remote         string        `mapstructure:"remote"`
	BaseBranch     string        `mapstructure:"base_branch"`
	FetchAll       bool          `mapstructure:"fetch_all"`
	TagPolicy      string        `mapstructure:"tag_policy"`
	SemverOnly     bool          `mapstructure:"semver_only"`
	RelocationMode string        `mapstructure:"relocation_mode"`
	Workers        int           `mapstructure:"workers"`
	Message        string        `mapstructure:"message"`
	Backup         bool          `mapstructure:"backup"`
	LockWait       time.Duration `mapstructure:"lock_wait"`
}

func defaultConfigurationValues() map[string]any {
	return map[string]any{
		commonLogLevelConfigKeyConstant:    string(utils.LogLevelError),
		commonLogFormatConfigKeyConstant:   string(utils.LogFormatConsole),
		commonDryRunConfigKeyConstant:      false,
		commonAssumeYesConfigKeyConstant:   false,
		commonSummaryFormatConfigKey:       string(shared.SummaryFormatText),
		runRepositoryConfigKeyConstant:     defaultConfigurationSearchPathConstant,
		runRemoteConfigKeyConstant:         "origin",
		runBaseBranchConfigKeyConstant:     "main",
		runFetchAllConfigKeyConstant:       true,
		runTagPolicyConfigKeyConstant:      string(retag.PolicyScoped),
		runSemverOnlyConfigKeyConstant:     false,
		runRelocationModeConfigKeyConstant: string(retag.ModeRecreate),
		runWorkersConfigKeyConstant:        0,
		runMessageConfigKeyConstant:        squash.DefaultCommitMessage,
		runBackupConfigKeyConstant:         true,
		runLockWaitConfigKeyConstant:       "2s",
	}
}

func resolveConfigurationSearchPaths() []string {
	searchPaths := []string{defaultConfigurationSearchPathConstant}
	appendUnique := func(candidate string) {
		for _, existing := range searchPaths {
			if existing == candidate {
				return
			}
		}
		searchPaths = append(searchPaths, candidate)
	}

	if xdgConfigHome := strings.TrimSpace(os.Getenv(xdgConfigHomeEnvironmentVariableConstant)); len(xdgConfigHome) > 0 {
		appendUnique(filepath.Join(xdgConfigHome, userConfigurationDirectoryNameConstant))
	} else if userConfigDirectory, userConfigError := os.UserConfigDir(); userConfigError == nil {
		appendUnique(filepath.Join(userConfigDirectory, userConfigurationDirectoryNameConstant))
	}
	if homeDirectory, homeError := os.UserHomeDir(); homeError == nil {
		appendUnique(filepath.Join(homeDirectory, homeConfigurationDirectoryNameConstant))
	}
	return searchPaths
}

// runOptions converts the merged configuration into orchestrator options.
func (configuration ApplicationConfiguration) runOptions() (orchestrator.Options, error) {
	runConfiguration := configuration.Run

	absolutePath, pathError := configuration.repositoryPath()
	if pathError != nil {
		return orchestrator.Options{}, pathError
	}

	remoteName, remoteError := shared.NewRemoteName(runConfiguration.Remote)
	if remoteError != nil {
		return orchestrator.Options{}, remoteError
	}
	branchName, branchError := shared.NewBranchName(runConfiguration.BaseBranch)
	if branchError != nil {
		return orchestrator.Options{}, branchError
	}
	policy, policyError := retag.ParsePolicy(runConfiguration.TagPolicy)
	if policyError != nil {
		return orchestrator.Options{}, policyError
	}
	mode, modeError := retag.ParseMode(runConfiguration.RelocationMode)
	if modeError != nil {
		return orchestrator.Options{}, modeError
	}
	if runConfiguration.Workers < 0 {
		return orchestrator.Options{}, fmt.Errorf(negativeWorkersErrorTemplate, runConfiguration.Workers)
	}

	return orchestrator.Options{
		RepositoryPath:  absolutePath,
		RemoteName:      remoteName.String(),
		BranchName:      branchName.String(),
		FetchAllRemotes: runConfiguration.FetchAll,
		TagPolicy:       policy,
		SemverOnly:      runConfiguration.SemverOnly,
		RelocationMode:  mode,
		Workers:         runConfiguration.Workers,
		Message:         runConfiguration.Message,
		CreateBackup:    runConfiguration.Backup,
		DryRun:          configuration.Common.DryRun,
		LockWait:        runConfiguration.LockWait,
	}, nil
}

// releaseOptions converts the merged configuration into release options for one bump.
func (configuration ApplicationConfiguration) releaseOptions(level releases.Level, message string) (releases.Options, error) {
	absolutePath, pathError := configuration.repositoryPath()
	if pathError != nil {
		return releases.Options{}, pathError
	}
	remoteName, remoteError := shared.NewRemoteName(configuration.Run.Remote)
	if remoteError != nil {
		return releases.Options{}, remoteError
	}
	return releases.Options{
		RepositoryPath: absolutePath,
		RemoteName:     remoteName.String(),
		Level:          level,
		Message:        message,
		DryRun:         configuration.Common.DryRun,
	}, nil
}

func (configuration ApplicationConfiguration) repositoryPath() (string, error) {
	repositoryPath, pathError := shared.NewRepositoryPath(configuration.Run.Repository)
	if pathError != nil {
		return "", pathError
	}
	absolutePath, absoluteError := filepath.Abs(repositoryPath.String())
	if absoluteError != nil {
		return "", fmt.Errorf(repositoryPathResolveErrorTemplate, configuration.Run.Repository, absoluteError)
	}
	return absolutePath, nil
}
