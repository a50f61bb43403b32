package gitrepo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	gitForEachRefSubcommandConstant  = "for-each-ref"
	gitTagSubcommandConstant         = "tag"
	gitDeleteShortFlagConstant       = "-d"
	gitForceShortFlagConstant        = "-f"
	gitAnnotateShortFlagConstant     = "-a"
	gitFileShortFlagConstant         = "-F"
	gitStandardInputPathConstant     = "-"
	gitVerbatimCleanupFlagConstant   = "--cleanup=verbatim"
	gitSortByCreatorDateFlagConstant = "--sort=-creatordate"
	tagReferencePrefixConstant       = "refs/tags/"
	tagListFormatFlagConstant        = "--format=%(refname:strip=2)%00%(objecttype)%00%(objectname)%00%(*objectname)%00%(*objecttype)%00%(creatordate:unix)"
	tagContentsFormatFlagConstant    = "--format=%(contents)"
	tagFieldSeparatorConstant        = "\x00"
	tagFieldCountConstant            = 6
	commitObjectTypeConstant         = "commit"
	tagObjectTypeConstant            = "tag"
	tagNameFieldNameConstant         = "tag_name"
	tagTargetFieldNameConstant       = "tag_target"
	malformedTagRecordTemplate       = "malformed tag record %q"
	listTagsOperationConstant        = RepositoryOperationName("ListTags")
	tagMessageOperationConstant      = RepositoryOperationName("ReadTagMessage")
	deleteTagOperationConstant       = RepositoryOperationName("DeleteTag")
	createTagOperationConstant       = RepositoryOperationName("CreateTag")
)

// TagReference describes a tag as listed by git for-each-ref.
type TagReference struct {
	Name       string
	ObjectType string
	ObjectHash string
	// TargetCommit is the commit the tag peels to.
	TargetCommit string
	CreatedAt    time.Time
}

// TagSpecification describes a tag to create.
type TagSpecification struct {
	Name      string
	Target    string
	Annotated bool
	Message   string
	Force     bool
}

// ListTags returns every tag that peels to a commit, newest creation date first.
func (manager *RepositoryManager) ListTags(executionContext context.Context, repositoryPath string) ([]TagReference, error) {
	executionResult, executionError := manager.run(executionContext, listTagsOperationConstant, repositoryPath, false,
		gitForEachRefSubcommandConstant, gitSortByCreatorDateFlagConstant, tagListFormatFlagConstant, tagReferencePrefixConstant)
	if executionError != nil {
		return nil, executionError
	}

	records := splitOutputLines(executionResult.StandardOutput)
	references := make([]TagReference, 0, len(records))
	for _, record := range records {
		reference, include, parseError := parseTagRecord(record)
		if parseError != nil {
			return nil, RepositoryOperationError{Operation: listTagsOperationConstant, Cause: parseError}
		}
		if include {
			references = append(references, reference)
		}
	}
	return references, nil
}

// TagMessage returns the full message of an annotated tag.
func (manager *RepositoryManager) TagMessage(executionContext context.Context, repositoryPath string, tagName string) (string, error) {
	trimmedName := strings.TrimSpace(tagName)
	if len(trimmedName) == 0 {
		return "", InvalidRepositoryInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	executionResult, executionError := manager.run(executionContext, tagMessageOperationConstant, repositoryPath, false,
		gitForEachRefSubcommandConstant, tagContentsFormatFlagConstant, tagReferencePrefixConstant+trimmedName)
	if executionError != nil {
		return "", executionError
	}
	return strings.TrimRight(executionResult.StandardOutput, "\n") + "\n", nil
}

// DeleteTag removes a local tag.
func (manager *RepositoryManager) DeleteTag(executionContext context.Context, repositoryPath string, tagName string) error {
	trimmedName := strings.TrimSpace(tagName)
	if len(trimmedName) == 0 {
		return InvalidRepositoryInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	_, executionError := manager.run(executionContext, deleteTagOperationConstant, repositoryPath, true, gitTagSubcommandConstant, gitDeleteShortFlagConstant, trimmedName)
	return executionError
}

// CreateTag creates a lightweight or annotated tag. Annotated messages are passed verbatim on standard input.
func (manager *RepositoryManager) CreateTag(executionContext context.Context, repositoryPath string, specification TagSpecification) error {
	trimmedName := strings.TrimSpace(specification.Name)
	if len(trimmedName) == 0 {
		return InvalidRepositoryInputError{FieldName: tagNameFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedTarget := strings.TrimSpace(specification.Target)
	if len(trimmedTarget) == 0 {
		return InvalidRepositoryInputError{FieldName: tagTargetFieldNameConstant, Message: requiredValueMessageConstant}
	}

	arguments := []string{gitTagSubcommandConstant}
	if specification.Force {
		arguments = append(arguments, gitForceShortFlagConstant)
	}
	var standardInput []byte
	if specification.Annotated {
		arguments = append(arguments, gitAnnotateShortFlagConstant, gitVerbatimCleanupFlagConstant, gitFileShortFlagConstant, gitStandardInputPathConstant)
		standardInput = []byte(specification.Message)
	}
	arguments = append(arguments, trimmedName, trimmedTarget)

	_, executionError := manager.runWithInput(executionContext, createTagOperationConstant, repositoryPath, true, standardInput, arguments...)
	return executionError
}

func parseTagRecord(record string) (TagReference, bool, error) {
	fields := strings.Split(record, tagFieldSeparatorConstant)
	if len(fields) != tagFieldCountConstant {
		return TagReference{}, false, fmt.Errorf(malformedTagRecordTemplate, record)
	}

	reference := TagReference{
		Name:       fields[0],
		ObjectType: fields[1],
		ObjectHash: fields[2],
	}

	switch reference.ObjectType {
	case commitObjectTypeConstant:
		reference.TargetCommit = reference.ObjectHash
	case tagObjectTypeConstant:
		if fields[4] != commitObjectTypeConstant {
			return TagReference{}, false, nil
		}
		reference.TargetCommit = fields[3]
	default:
		return TagReference{}, false, nil
	}

	if seconds, parseError := strconv.ParseInt(strings.TrimSpace(fields[5]), 10, 64); parseError == nil {
		reference.CreatedAt = time.Unix(seconds, 0).UTC()
	}
	return reference, true, nil
}
