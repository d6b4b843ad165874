package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/courierfs/courier/pkg/config"
	"github.com/courierfs/courier/pkg/logcourier"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier CLI",
		Long:  "Command line interface for chunked, resumable file uploads",
		// Silence errors - we handle them in main.go
		// Note: SilenceUsage is NOT set here so unknown commands show usage.
		// Individual commands set cmd.SilenceUsage = true to hide usage on errors.
		SilenceErrors: true,
		// Load config once and store in context for all subcommands
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			noColor, _ := cmd.Flags().GetBool("no-color")

			interactive := isatty.IsTerminal(os.Stdout.Fd()) && !noColor

			// Load config first (needed to get configured log level)
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}

			// Setup logger with configured log level
			if verbose {
				logFile, err := logcourier.Setup(interactive, cfg.GetLogLevel())
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error setting up logger: %v\n", err)
					os.Exit(1)
				}

				// Print log file location if logging to file
				if logFile != "" {
					fmt.Fprintf(os.Stderr, "Debug logs: %s\n", logFile)
				}
			} else {
				// Disable logging entirely when --verbose is not set
				logcourier.Disable()
			}

			slog.Debug("Config loaded successfully")

			// Store config and display mode in context so subcommands can access them
			ctx := context.WithValue(cmd.Context(), config.GetContextKey(), cfg)
			ctx = context.WithValue(ctx, interactiveContextKey, interactive)
			cmd.SetContext(ctx)
		},
	}

	// Global flags (persistent flags are inherited by all subcommands)
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output and progress rendering")

	// Add subcommands
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewUploadCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

type contextKey string

const interactiveContextKey contextKey = "interactive"

// isInteractive reports whether the command runs on a terminal with
// progress rendering enabled.
func isInteractive(cmd *cobra.Command) bool {
	if ctx := cmd.Context(); ctx != nil {
		if v, ok := ctx.Value(interactiveContextKey).(bool); ok {
			return v
		}
	}
	return false
}
