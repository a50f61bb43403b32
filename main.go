package main

import (
	"fmt"
	"os"

	"github.com/tyemirov/squashtag/cmd/cli"
	repoerrors "github.com/tyemirov/squashtag/internal/repos/errors"
)

const (
	exitErrorTemplateConstant      = "squashtag: %v\n"
	exitCodedErrorTemplateConstant = "squashtag [%s]: %v\n"
)

// main executes the squashtag command-line application.
func main() {
	executionError := cli.Execute()
	if executionError == nil {
		return
	}
	if code := repoerrors.CodeOf(executionError); len(code) > 0 {
		fmt.Fprintf(os.Stderr, exitCodedErrorTemplateConstant, code, executionError)
	} else {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
	}
	os.Exit(1)
}
