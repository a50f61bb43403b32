package prompt

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tyemirov/squashtag/internal/repos/shared"
)

const (
	affirmativeShortResponseConstant = "y"
	affirmativeLongResponseConstant  = "yes"
	applyAllShortResponseConstant    = "a"
	applyAllLongResponseConstant     = "all"
	inputUnavailableMessageConstant  = "confirmation required but no input is available; rerun with --yes"
)

// ErrInputUnavailable indicates a confirmation was needed but no input stream was configured.
var ErrInputUnavailable = errors.New(inputUnavailableMessageConstant)

// IOConfirmationPrompter reads confirmation responses from an io.Reader.
type IOConfirmationPrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewIOConfirmationPrompter constructs a prompter from the provided reader and writer.
func NewIOConfirmationPrompter(input io.Reader, output io.Writer) *IOConfirmationPrompter {
	prompter := &IOConfirmationPrompter{writer: output}
	if input != nil {
		prompter.reader = bufio.NewReader(input)
	}
	return prompter
}

// Confirm writes the prompt and interprets y/yes as confirmation and a/all as confirmation for the rest of the run.
// Any other answer, including end of input, declines.
func (prompter *IOConfirmationPrompter) Confirm(prompt string) (shared.ConfirmationResult, error) {
	if prompter.reader == nil {
		return shared.ConfirmationResult{}, ErrInputUnavailable
	}
	if prompter.writer != nil {
		if _, writeError := io.WriteString(prompter.writer, prompt); writeError != nil {
			return shared.ConfirmationResult{}, writeError
		}
	}

	response, readError := prompter.reader.ReadString('\n')
	if readError != nil && readError != io.EOF {
		return shared.ConfirmationResult{}, readError
	}

	switch strings.TrimSpace(strings.ToLower(response)) {
	case affirmativeShortResponseConstant, affirmativeLongResponseConstant:
		return shared.ConfirmationResult{Confirmed: true}, nil
	case applyAllShortResponseConstant, applyAllLongResponseConstant:
		return shared.ConfirmationResult{Confirmed: true, ApplyToAll: true}, nil
	default:
		return shared.ConfirmationResult{}, nil
	}
}

// SessionState tracks whether remaining prompts of a run are pre-confirmed.
type SessionState struct {
	assumeYes atomic.Bool
}

// NewSessionState constructs a SessionState; initialAssumeYes mirrors the --yes flag.
func NewSessionState(initialAssumeYes bool) *SessionState {
	state := &SessionState{}
	state.assumeYes.Store(initialAssumeYes)
	return state
}

// IsAssumeYesEnabled reports whether prompts should be bypassed.
func (state *SessionState) IsAssumeYesEnabled() bool {
	if state == nil {
		return false
	}
	return state.assumeYes.Load()
}

// EnableAssumeYes bypasses every subsequent prompt.
func (state *SessionState) EnableAssumeYes() {
	if state == nil {
		return
	}
	state.assumeYes.Store(true)
}

// SessionPrompter serializes prompts and short-circuits them once the session assumes yes.
type SessionPrompter struct {
	basePrompter shared.ConfirmationPrompter
	promptState  *SessionState
	mutex        sync.Mutex
}

// NewSessionPrompter wraps a base prompter so answering "all" upgrades the shared state.
func NewSessionPrompter(base shared.ConfirmationPrompter, state *SessionState) *SessionPrompter {
	return &SessionPrompter{basePrompter: base, promptState: state}
}

// Confirm implements shared.ConfirmationPrompter.
func (dispatcher *SessionPrompter) Confirm(prompt string) (shared.ConfirmationResult, error) {
	dispatcher.mutex.Lock()
	defer dispatcher.mutex.Unlock()

	if dispatcher.promptState.IsAssumeYesEnabled() {
		return shared.ConfirmationResult{Confirmed: true}, nil
	}
	if dispatcher.basePrompter == nil {
		return shared.ConfirmationResult{}, ErrInputUnavailable
	}

	result, confirmError := dispatcher.basePrompter.Confirm(prompt)
	if confirmError != nil {
		return shared.ConfirmationResult{}, confirmError
	}
	if result.ApplyToAll {
		dispatcher.promptState.EnableAssumeYes()
	}
	return result, nil
}
