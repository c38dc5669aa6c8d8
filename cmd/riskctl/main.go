package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"credit-risk-api/internal/cfg"
	"credit-risk-api/internal/common"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs once the config is resolved.
type app struct {
	configFile string
	settings   cfg.Settings
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Credit risk model operations: training, calibration, offline scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newTrainCommand(a))
	root.AddCommand(newCalibrateCommand(a))
	root.AddCommand(newScoreCommand(a))
	root.AddCommand(newRunsCommand(a))
	root.AddCommand(newVersionsCommand(a))
	root.AddCommand(newRollbackCommand(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	if a.configFile != "" {
		if err := os.Setenv(common.EnvConfigFile, a.configFile); err != nil {
			return err
		}
	}
	s, err := cfg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		s.LogLevel = lvl
	}
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})
	a.settings = s
	return nil
}
