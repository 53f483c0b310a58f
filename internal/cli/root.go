// Package cli provides the bankcheck command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kidandcat/bankcheck/internal/logging"
	"github.com/kidandcat/bankcheck/pkg/config"
)

// ErrCasesFailed is returned by run when any case did not pass. The results
// have already been printed.
var ErrCasesFailed = errors.New("one or more cases failed")

type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root command for bankcheck
func NewRootCmd(version string) *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "bankcheck",
		Short:         "Functional and visual checks of the demo banking app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configFile, "config", "", "Config file path (default: bankcheck.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: console or json")

	rootCmd.AddCommand(newRunCmd(&g))
	rootCmd.AddCommand(newServeVisualCmd(&g))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bankcheck %s\n", version)
		},
	})
	return rootCmd
}

// settings loads the config file and applies the global flags.
func (g *globalFlags) settings(cmd *cobra.Command) (config.Settings, error) {
	s, path, err := config.Load(g.configFile)
	if err != nil {
		return s, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		s.LogLevel = g.logLevel
	}
	if flags.Changed("log-format") {
		s.LogFormat = g.logFormat
	}
	return s, nil
}

func newLogger(cmd *cobra.Command, s config.Settings) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(s.LogLevel, zerolog.WarnLevel),
		Format: s.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
}
