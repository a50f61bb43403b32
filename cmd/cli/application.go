// Package cli wires the squashtag command line: configuration, logging and the orchestrator run.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/squashtag/internal/execshell"
	"github.com/tyemirov/squashtag/internal/gitrepo"
	"github.com/tyemirov/squashtag/internal/orchestrator"
	"github.com/tyemirov/squashtag/internal/releases"
	"github.com/tyemirov/squashtag/internal/repos/prompt"
	"github.com/tyemirov/squashtag/internal/repos/shared"
	"github.com/tyemirov/squashtag/internal/retag"
	"github.com/tyemirov/squashtag/internal/utils"
	flagutils "github.com/tyemirov/squashtag/internal/utils/flags"
	"github.com/tyemirov/squashtag/internal/version"
)

const (
	applicationNameConstant             = "squashtag"
	applicationUseConstant              = applicationNameConstant + " [base-branch]"
	applicationShortDescriptionConstant = "Squash local commits onto the remote branch and move their tags"
	applicationLongDescriptionConstant  = "squashtag folds every commit above the merge base with <remote>/<base-branch> into one commit, " +
		"moves the tags that pointed at the folded commits onto it, and force-pushes the branch and tags."

	configFileFlagNameConstant      = "config"
	configFileFlagUsageConstant     = "Optional path to a configuration file (YAML)."
	logLevelFlagNameConstant        = "log-level"
	logLevelFlagUsageConstant       = "Override the configured log level (debug, info, warn, error)."
	logFormatFlagNameConstant       = "log-format"
	logFormatFlagUsageConstant      = "Override the configured log format (structured or console)."
	versionFlagNameConstant         = "version"
	versionFlagUsageConstant        = "Print the squashtag version and exit."
	repositoryFlagNameConstant      = "repository"
	repositoryFlagUsageConstant     = "Path inside the git work tree to operate on."
	tagPolicyFlagNameConstant       = "tag-policy"
	tagPolicyFlagUsageConstant      = "Tags to relocate: scoped (tags on folded commits) or global (every tag)."
	relocationModeFlagNameConstant  = "relocation-mode"
	relocationModeFlagUsageConstant = "How tags move: recreate (delete, then create and push) or force (force-update and force-push)."
	workersFlagNameConstant         = "workers"
	workersFlagUsageConstant        = "Parallel tag workers; 0 uses the number of CPUs."
	messageFlagNameConstant         = "message"
	messageFlagShorthandConstant    = "m"
	messageFlagUsageConstant        = "Commit message for the squash commit."
	semverOnlyFlagNameConstant      = "semver-only"
	semverOnlyFlagUsageConstant     = "Relocate only tags that are semantic versions."
	noBackupFlagNameConstant        = "no-backup"
	noBackupFlagUsageConstant       = "Skip the backup branch at the pre-squash HEAD."
	fetchAllFlagNameConstant        = "fetch-all"
	fetchAllFlagUsageConstant       = "Fetch every remote before resolving the base (otherwise only --remote)."
	summaryFormatFlagNameConstant   = "summary-format"
	summaryFormatFlagUsageConstant  = "End-of-run summary format (text or yaml)."
	lockWaitFlagNameConstant        = "lock-wait"
	lockWaitFlagUsageConstant       = "How long to wait for another squashtag run on the same repository."

	versionCommandUseNameConstant          = "version"
	versionCommandShortDescriptionConstant = "Print the squashtag version"
	versionOutputTemplateConstant          = "%s %s\n"

	configurationLoadErrorTemplateConstant = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant    = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant        = "unable to flush logger: %w"
	executorCreationErrorTemplateConstant  = "unable to create git executor: %w"
	serviceCreationErrorTemplateConstant   = "unable to assemble squashtag run: %w"

	configurationInitializedMessageConstant  = "configuration initialized"
	configurationFileConsoleTemplateConstant = "using configuration %s"
	runNothingToDoMessageConstant            = "nothing to do"
	runSucceededMessageConstant              = "squashtag run succeeded"
	summaryPrintFailedMessageConstant        = "summary output failed"
	logFieldConfigFileConstant               = "config_file"
	logFieldLogLevelConstant                 = "log_level"
	logFieldLogFormatConstant                = "log_format"
	logFieldRunIDConstant                    = "run_id"
	logFieldNewCommitConstant                = "new_commit"
	logFieldTagCountConstant                 = "tags"
)

type loggerOutputsFactory interface {
	CreateLoggerOutputs(logLevel utils.LogLevel, logFormat utils.LogFormat) (utils.LoggerOutputs, error)
}

// Application holds the cobra command tree and the state shared by its commands.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          loggerOutputsFactory
	logger                 *zap.Logger
	consoleLogger          *zap.Logger
	configuration          ApplicationConfiguration
	configurationMetadata  utils.ConfigurationMetadata
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	versionFlag            bool
	commandContextAccessor utils.CommandContextAccessor
	versionResolver        func(context.Context) string
	lastReport             orchestrator.Report
	lastRelease            releases.Result
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	application := &Application{
		loggerFactory:          utils.NewLoggerFactory(),
		logger:                 zap.NewNop(),
		consoleLogger:          zap.NewNop(),
		commandContextAccessor: utils.NewCommandContextAccessor(),
	}
	application.versionResolver = application.resolveVersion

	application.configurationLoader = utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		resolveConfigurationSearchPaths(),
	)
	embeddedConfigurationData, embeddedConfigurationType := EmbeddedDefaultConfiguration()
	application.configurationLoader.SetEmbeddedConfiguration(embeddedConfigurationData, embeddedConfigurationType)

	cobraCommand := &cobra.Command{
		Use:           applicationUseConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRootCommand(command, arguments)
		},
	}
	cobraCommand.SetContext(context.Background())

	persistentFlags := cobraCommand.PersistentFlags()
	persistentFlags.StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	persistentFlags.StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	persistentFlags.StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	flagutils.BindExecutionFlags(cobraCommand, flagutils.ExecutionDefaults{}, flagutils.DefaultExecutionFlagDefinitions())
	flagutils.EnsureRemoteFlag(cobraCommand, "origin", flagutils.RemoteFlagUsage)

	localFlags := cobraCommand.Flags()
	localFlags.BoolVar(&application.versionFlag, versionFlagNameConstant, false, versionFlagUsageConstant)
	localFlags.String(repositoryFlagNameConstant, defaultConfigurationSearchPathConstant, repositoryFlagUsageConstant)
	localFlags.String(tagPolicyFlagNameConstant, string(retag.PolicyScoped), tagPolicyFlagUsageConstant)
	localFlags.String(relocationModeFlagNameConstant, string(retag.ModeRecreate), relocationModeFlagUsageConstant)
	localFlags.Int(workersFlagNameConstant, 0, workersFlagUsageConstant)
	localFlags.StringP(messageFlagNameConstant, messageFlagShorthandConstant, "", messageFlagUsageConstant)
	localFlags.String(summaryFormatFlagNameConstant, string(shared.SummaryFormatText), summaryFormatFlagUsageConstant)
	localFlags.Duration(lockWaitFlagNameConstant, 2*time.Second, lockWaitFlagUsageConstant)
	flagutils.AddToggleFlag(localFlags, nil, semverOnlyFlagNameConstant, "", false, semverOnlyFlagUsageConstant)
	flagutils.AddToggleFlag(localFlags, nil, noBackupFlagNameConstant, "", false, noBackupFlagUsageConstant)
	flagutils.AddToggleFlag(localFlags, nil, fetchAllFlagNameConstant, "", true, fetchAllFlagUsageConstant)

	cobraCommand.AddCommand(&cobra.Command{
		Use:           versionCommandUseNameConstant,
		Short:         versionCommandShortDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			application.printVersion(command)
			return nil
		},
	})

	cobraCommand.AddCommand(application.newBumpCommand())

	application.rootCommand = cobraCommand
	return application
}

// Execute runs the command tree with the process arguments; SIGINT and SIGTERM cancel the run.
func (application *Application) Execute() error {
	signalContext, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	application.rootCommand.SetArgs(os.Args[1:])
	executionError := application.rootCommand.ExecuteContext(signalContext)
	if syncError := application.flushLogger(); syncError != nil && executionError == nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command.
func Execute() error {
	return NewApplication().Execute()
}

// ConfigFileUsed returns the configuration file path used during initialization.
func (application *Application) ConfigFileUsed() string {
	return application.configurationMetadata.ConfigFileUsed
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(
		application.configurationFilePath,
		defaultConfigurationValues(),
		&application.configuration,
	)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}
	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	logLevel, levelError := utils.ParseLogLevel(application.configuration.Common.LogLevel)
	if levelError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, levelError)
	}
	logFormat, formatError := utils.ParseLogFormat(application.configuration.Common.LogFormat)
	if formatError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, formatError)
	}
	loggerOutputs, loggerCreationError := application.loggerFactory.CreateLoggerOutputs(logLevel, logFormat)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}
	application.logger = loggerOutputs.DiagnosticLogger
	application.consoleLogger = loggerOutputs.ConsoleLogger

	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(logFieldLogLevelConstant, string(logLevel)),
		zap.String(logFieldLogFormatConstant, string(logFormat)),
		zap.String(logFieldConfigFileConstant, application.configurationMetadata.ConfigFileUsed),
	)
	if configFileUsed := application.configurationMetadata.ConfigFileUsed; len(configFileUsed) > 0 {
		application.consoleLogger.Info(fmt.Sprintf(configurationFileConsoleTemplateConstant, configFileUsed))
	}

	executionFlags := flagutils.CollectExecutionFlags(command)
	command.SetContext(application.commandContextAccessor.WithExecutionFlags(command.Context(), executionFlags))
	return nil
}

// applyExecutionFlags lets the shared --dry-run, --yes and --remote flags win over configuration values.
func (application *Application) applyExecutionFlags(command *cobra.Command) {
	executionFlags, available := flagutils.ResolveExecutionFlags(command)
	if !available {
		return
	}
	if executionFlags.DryRunSet {
		application.configuration.Common.DryRun = executionFlags.DryRun
	}
	if executionFlags.AssumeYesSet {
		application.configuration.Common.AssumeYes = executionFlags.AssumeYes
	}
	if executionFlags.RemoteSet {
		application.configuration.Run.Remote = executionFlags.Remote
	}
}

// applyRunFlagOverrides lets changed root flags win over configuration values.
func (application *Application) applyRunFlagOverrides(command *cobra.Command, arguments []string) error {
	runConfiguration := &application.configuration.Run

	stringOverrides := map[string]*string{
		repositoryFlagNameConstant:     &runConfiguration.Repository,
		tagPolicyFlagNameConstant:      &runConfiguration.TagPolicy,
		relocationModeFlagNameConstant: &runConfiguration.RelocationMode,
		messageFlagNameConstant:        &runConfiguration.Message,
		summaryFormatFlagNameConstant:  &application.configuration.Common.SummaryFormat,
	}
	for flagName, target := range stringOverrides {
		value, changed, flagError := flagutils.StringFlag(command, flagName)
		if flagError != nil {
			return flagError
		}
		if changed {
			*target = value
		}
	}

	workers, workersChanged, workersError := flagutils.IntFlag(command, workersFlagNameConstant)
	if workersError != nil {
		return workersError
	}
	if workersChanged {
		runConfiguration.Workers = workers
	}

	toggleOverrides := []struct {
		flagName string
		apply    func(bool)
	}{
		{flagName: semverOnlyFlagNameConstant, apply: func(value bool) { runConfiguration.SemverOnly = value }},
		{flagName: noBackupFlagNameConstant, apply: func(value bool) { runConfiguration.Backup = !value }},
		{flagName: fetchAllFlagNameConstant, apply: func(value bool) { runConfiguration.FetchAll = value }},
	}
	for _, override := range toggleOverrides {
		value, changed, flagError := flagutils.BoolFlag(command, override.flagName)
		if flagError != nil {
			return flagError
		}
		if changed {
			override.apply(value)
		}
	}

	if lockWaitFlag := command.Flags().Lookup(lockWaitFlagNameConstant); lockWaitFlag != nil && lockWaitFlag.Changed {
		lockWait, durationError := command.Flags().GetDuration(lockWaitFlagNameConstant)
		if durationError != nil {
			return durationError
		}
		runConfiguration.LockWait = lockWait
	}

	if len(arguments) > 0 {
		runConfiguration.BaseBranch = arguments[0]
	}
	return nil
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if application.versionFlag {
		application.printVersion(command)
		return nil
	}

	application.applyExecutionFlags(command)
	if overrideError := application.applyRunFlagOverrides(command, arguments); overrideError != nil {
		return overrideError
	}
	options, optionsError := application.configuration.runOptions()
	if optionsError != nil {
		return optionsError
	}
	summaryFormat, summaryFormatError := shared.ParseSummaryFormat(application.configuration.Common.SummaryFormat)
	if summaryFormatError != nil {
		return summaryFormatError
	}

	executionContext := command.Context()
	runIdentifier := uuid.NewString()
	logger := application.logger.With(zap.String(logFieldRunIDConstant, runIdentifier))

	executor, executorError := execshell.NewShellExecutor(
		logger,
		execshell.NewOSCommandRunner(command.ErrOrStderr()),
		application.humanReadableLoggingEnabled(),
		execshell.WithDryRun(options.DryRun),
	)
	if executorError != nil {
		return fmt.Errorf(executorCreationErrorTemplateConstant, executorError)
	}
	repositoryManager, managerError := gitrepo.NewRepositoryManager(executor)
	if managerError != nil {
		return fmt.Errorf(executorCreationErrorTemplateConstant, managerError)
	}

	reporter := shared.NewStructuredReporter(command.OutOrStdout(), command.ErrOrStderr(), shared.WithRunIdentifier(runIdentifier))
	prompter := prompt.NewSessionPrompter(
		prompt.NewIOConfirmationPrompter(command.InOrStdin(), command.ErrOrStderr()),
		prompt.NewSessionState(application.configuration.Common.AssumeYes),
	)

	service, serviceError := orchestrator.NewService(orchestrator.ServiceDependencies{
		Repository:    repositoryManager,
		Logger:        logger,
		Reporter:      reporter,
		Prompter:      prompter,
		Verifier:      retag.NewInspector(),
		Clock:         shared.SystemClock{},
		RunIdentifier: runIdentifier,
	})
	if serviceError != nil {
		return fmt.Errorf(serviceCreationErrorTemplateConstant, serviceError)
	}

	report, runError := service.Run(executionContext, options)
	application.lastReport = report

	if printError := reporter.PrintSummary(summaryFormat); printError != nil {
		logger.Warn(summaryPrintFailedMessageConstant, zap.Error(printError))
	}

	if runError != nil {
		return runError
	}
	if report.NothingToDo {
		logger.Info(runNothingToDoMessageConstant)
		return nil
	}
	logger.Info(runSucceededMessageConstant, zap.String(logFieldNewCommitConstant, report.NewCommit), zap.Int(logFieldTagCountConstant, len(report.Results)))
	return nil
}

func (application *Application) humanReadableLoggingEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(application.configuration.Common.LogFormat), string(utils.LogFormatConsole))
}

func (application *Application) resolveVersion(executionContext context.Context) string {
	return version.Detect(executionContext, version.Dependencies{})
}

func (application *Application) printVersion(command *cobra.Command) {
	fmt.Fprintf(command.OutOrStdout(), versionOutputTemplateConstant, applicationNameConstant, application.versionResolver(command.Context()))
}

func (application *Application) flushLogger() error {
	for _, logger := range []*zap.Logger{application.logger, application.consoleLogger} {
		if syncError := syncLogger(logger); syncError != nil {
			return syncError
		}
	}
	return nil
}

func syncLogger(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	syncError := logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP), errors.Is(syncError, syscall.EINVAL), errors.Is(syncError, syscall.EBADF), errors.Is(syncError, syscall.ENOTTY):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}
	if flag := command.Flags().Lookup(flagName); flag != nil && flag.Changed {
		return true
	}
	if rootCommand := command.Root(); rootCommand != nil {
		return rootCommand.PersistentFlags().Changed(flagName)
	}
	return false
}
