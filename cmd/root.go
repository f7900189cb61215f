package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spinescan/spinescan/cmd/config"
	"github.com/spinescan/spinescan/cmd/migrate"
	"github.com/spinescan/spinescan/cmd/run"
	"github.com/spinescan/spinescan/cmd/serve"
	"github.com/spinescan/spinescan/cmd/summary"
	"github.com/spinescan/spinescan/internal/buildinfo"
	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/logger"
)

// RootCommand creates and returns the root command. Subcommands receive the
// settings pointer, which is filled in before any of them run.
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string
	var debug bool

	rootCmd := &cobra.Command{
		Use:           "spinescan",
		Short:         "SpineScan scoliosis screening service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default search: ., ~/.config/spinescan, /etc/spinescan)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		serve.Command(settings),
		migrate.Command(settings),
		run.Command(settings),
		summary.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		if debug {
			viper.Set("debug", true)
		}
		return initialize(settings, info)
	}

	return rootCmd
}

// initialize loads the settings and installs the global logger. It runs
// before any subcommand.
func initialize(settings *conf.Settings, info *buildinfo.Context) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded
	settings.Version = info.GetVersion()
	settings.BuildDate = info.GetBuildDate()

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}
