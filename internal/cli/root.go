// Package cli wires the runr binary's subcommands: run, resume,
// watch, status, report, bundle, submit, doctor, gc. Grounded on the
// teacher's internal/cli package: a persistent-flag root command, one
// file per subcommand, each RunE loading and validating config before
// doing any work (root.go/run.go/status.go).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "runr",
	Short: "Supervise an automated coding agent run through plan/implement/verify/review/checkpoint",
	Long: `runr drives an automated coding task to completion by orchestrating
external language-model worker processes through a deterministic,
phase-gated lifecycle. It enforces scope and safety guards, gates on
verification, writes a durable audit trail, and surfaces structured
diagnostics when it cannot proceed.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "runr.yaml", "path to runr config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("runr %s\n", Version)
	},
}

// Execute runs the root command and returns the process exit code
// (spec.md §6.5): 0 success, 1 stopped/validation failure, 2
// unrecoverable setup error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			return ec.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 2
	}
	return 0
}

// exitCoder lets a subcommand's error carry a specific process exit
// code through cobra's plain error-returning RunE contract.
type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }
func (e *exitError) Unwrap() error { return e.err }

// stoppedExit wraps err as exit code 1 (stopped/validation failure).
func stoppedExit(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 1, err: err}
}

// setupExit wraps err as exit code 2 (unrecoverable setup error).
func setupExit(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 2, err: err}
}
