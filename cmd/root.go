package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/reconcilekit/internal/config"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvalidConfig indicates the configuration file failed to parse or validate.
	ExitCodeInvalidConfig = 2
)

var (
	configPath string
	logLevel   string
)

// rootCmd is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reconcilekit",
	Short: "Inspect and validate reconcilekit operator configuration",
	Long: `reconcilekit is a toolkit for building Kubernetes operators out of event
sources, a per-resource reconciliation dispatcher and dependent resource
workflows. This command inspects the operator configuration those pieces
are built from.`,
	// Errors are reported by Execute, usage output would only hide them.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.InitForCLI(level, cmd.ErrOrStderr())
		return nil
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code describing the failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "reconcilekit version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		return ExitCodeInvalidConfig
	}

	var configErr config.ConfigurationError
	if errors.As(err, &configErr) {
		return ExitCodeInvalidConfig
	}

	return ExitCodeError
}

// resolveConfigPath returns the file named on the command line, then the
// --config flag, then the default location.
func resolveConfigPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/reconcilekit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
}
