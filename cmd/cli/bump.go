package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/squashtag/internal/execshell"
	"github.com/tyemirov/squashtag/internal/gitrepo"
	"github.com/tyemirov/squashtag/internal/releases"
	"github.com/tyemirov/squashtag/internal/repos/shared"
	flagutils "github.com/tyemirov/squashtag/internal/utils/flags"
)

const (
	bumpCommandUseConstant              = "bump [major|minor|patch]"
	bumpCommandShortDescriptionConstant = "Tag HEAD with the next semantic version and push the tag"
	bumpCommandLongDescriptionConstant  = "bump finds the highest semantic version tag, increments the requested component " +
		"(patch when omitted), creates an annotated tag for it at HEAD and pushes that tag to the remote."
	bumpMessageFlagUsageConstant = "Annotation for the release tag (defaults to \"Release <tag>\")."
	releaseServiceErrorTemplate  = "unable to assemble release: %w"
	releaseSucceededMessage      = "release tag published"
	releasePlannedMessage        = "release tag planned"
	logFieldReleaseTagConstant   = "tag"
)

func (application *Application) newBumpCommand() *cobra.Command {
	bumpCommand := &cobra.Command{
		Use:           bumpCommandUseConstant,
		Short:         bumpCommandShortDescriptionConstant,
		Long:          bumpCommandLongDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		ValidArgs:     []string{string(releases.LevelMajor), string(releases.LevelMinor), string(releases.LevelPatch)},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runBumpCommand(command, arguments)
		},
	}
	bumpFlags := bumpCommand.Flags()
	bumpFlags.String(repositoryFlagNameConstant, defaultConfigurationSearchPathConstant, repositoryFlagUsageConstant)
	bumpFlags.StringP(messageFlagNameConstant, messageFlagShorthandConstant, "", bumpMessageFlagUsageConstant)
	return bumpCommand
}

func (application *Application) runBumpCommand(command *cobra.Command, arguments []string) error {
	application.applyExecutionFlags(command)

	rawLevel := ""
	if len(arguments) > 0 {
		rawLevel = arguments[0]
	}
	level, levelError := releases.ParseLevel(rawLevel)
	if levelError != nil {
		return levelError
	}

	repositoryValue, repositoryChanged, repositoryError := flagutils.StringFlag(command, repositoryFlagNameConstant)
	if repositoryError != nil {
		return repositoryError
	}
	if repositoryChanged {
		application.configuration.Run.Repository = repositoryValue
	}
	message, _, messageError := flagutils.StringFlag(command, messageFlagNameConstant)
	if messageError != nil {
		return messageError
	}

	options, optionsError := application.configuration.releaseOptions(level, message)
	if optionsError != nil {
		return optionsError
	}

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

	service, serviceError := releases.NewService(releases.ServiceDependencies{
		Repository: repositoryManager,
		Reporter:   shared.NewStructuredReporter(command.OutOrStdout(), command.ErrOrStderr(), shared.WithRunIdentifier(runIdentifier)),
		Logger:     logger,
	})
	if serviceError != nil {
		return fmt.Errorf(releaseServiceErrorTemplate, serviceError)
	}

	result, releaseError := service.Release(command.Context(), options)
	application.lastRelease = result
	if releaseError != nil {
		return releaseError
	}
	if options.DryRun {
		logger.Info(releasePlannedMessage, zap.String(logFieldReleaseTagConstant, result.TagName))
		return nil
	}
	logger.Info(releaseSucceededMessage, zap.String(logFieldReleaseTagConstant, result.TagName))
	return nil
}
