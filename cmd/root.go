package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/watchtower/internal/utils"
)

// Version is the application version.
const Version = "0.1.0"

// cfgFile is the optional YAML file layered under env and flags.
var cfgFile string

// fatalError carries the context line and, when a subprocess was involved,
// its captured stderr to the final error report.
type fatalError struct {
	context string
	err     error
	proc    *utils.SafeCommand
}

func (e *fatalError) Error() string { return fmt.Sprintf("%s: %v", e.context, e.err) }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(context string, err error, proc *utils.SafeCommand) error {
	return &fatalError{context: context, err: err, proc: proc}
}

var rootCmd = &cobra.Command{
	Use:           "watchtower",
	Short:         "Frame-by-frame video analysis: faces, emotions, activity and motion anomalies",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var fe *fatalError
		if errors.As(err, &fe) {
			utils.ShowError(fe.context, fe.err, fe.proc)
		} else {
			utils.ShowError("Command failed", err, nil)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (flags and WATCHTOWER_* env vars take precedence)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this rotating file")
}
