package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "walker",
	Short: "Chat-operated coding agents that turn mentions into pull requests",
	Long: `walker runs a crew of coding agents ("dogs") from a chat channel.
Mentioning the bot with a task description enqueues a job; a worker
picks a free dog, clones the repository, drives the coding agent
through planning, implementation, review and tests, and finalizes a
draft pull request while reporting progress in the thread.

A deployment runs three long-lived processes: 'walker serve' listens
to chat, 'walker work' executes tasks, and 'walker api' exposes
read-only status. 'walker doctor' checks an environment before first
use.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and reports the error itself, since
// cobra's own reporting is silenced.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .walker.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}
