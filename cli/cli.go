// Package cli provides the command-line interface for signature validation.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes of the verify command.
const (
	ExitValid         = 0
	ExitError         = 1
	ExitIndeterminate = 2
	ExitInvalid       = 3
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func (e cliError) Unwrap() error { return e.err }

// NewRootCommand builds the sigvalidate command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sigvalidate",
		Short:         "Long-term validation of advanced electronic signatures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Run executes the CLI with the given arguments and exits with the
// resulting code. args excludes the program name.
func Run(args []string) {
	osExit(Execute(args, os.Stdout, os.Stderr))
}

// Execute runs the command tree and returns the exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			if ce.code != ExitIndeterminate && ce.code != ExitInvalid {
				fmt.Fprintln(stderr, "Error:", ce.err)
			}
			return ce.code
		}
		fmt.Fprintln(stderr, "Error:", err)
		return ExitError
	}
	return ExitValid
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sigvalidate version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		},
	}
}
