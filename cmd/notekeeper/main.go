package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/notekeeper/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "notekeeper",
		Short:         "Offline-first note staging and sync client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newAddCommand(),
		newEditCommand(),
		newDeleteCommand(),
		newListCommand(),
		newPendingCommand(),
		newSyncCommand(),
		newWatchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyClientDefaults(viper.GetViper())
	defaults := config.NewClientViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "Local SQLite store path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("remote.base_url"), "Base URL of the note collection API")
	cmd.PersistentFlags().String("session-token", "", "Session token (overrides env)")
	cmd.PersistentFlags().Duration("debounce", defaults.GetDuration("sync.debounce"), "Reconnect debounce window")
	cmd.PersistentFlags().Duration("record-timeout", defaults.GetDuration("sync.record_timeout"), "Timeout for each remote call during sync")
	cmd.PersistentFlags().String("probe-url", defaults.GetString("connectivity.probe_url"), "Health URL polled for connectivity (defaults to <remote-url>/healthz)")
	cmd.PersistentFlags().Duration("probe-interval", defaults.GetDuration("connectivity.probe_interval"), "Connectivity probe interval")

	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-url")
	bindFlag(cmd, "session.token", "session-token")
	bindFlag(cmd, "sync.debounce", "debounce")
	bindFlag(cmd, "sync.record_timeout", "record-timeout")
	bindFlag(cmd, "connectivity.probe_url", "probe-url")
	bindFlag(cmd, "connectivity.probe_interval", "probe-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}
