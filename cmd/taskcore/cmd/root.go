// Package cmd implements the taskcore CLI: cobra commands wiring
// internal/config through the registry, isolation, model gateway, tool
// runtime, executor, scheduler, and merge packages into a runnable
// batch or a standing HTTP control API.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "taskcore",
	Short: "Delegate tasks to sub-agents under filesystem isolation",
	Long: `taskcore fans a batch of tasks out to sub-agent model turns running
concurrently, each under its own git worktree or overlay mount, and
merges their filesystem changes back into the parent workspace once
every task in the batch has settled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build-time version info, set from main's
// goreleaser-populated variables.
func SetVersion(v, commit, date string) {
	appVersion = v
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"settings file (default: .taskcore.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// rootViper exposes the package-level viper instance flags are bound
// to, so config.Loader can layer settings-file/env values on top of
// whatever the CLI flags already set.
func rootViper() *viper.Viper {
	return viper.GetViper()
}

func initConfig() error {
	viper.SetEnvPrefix("TASKCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}
