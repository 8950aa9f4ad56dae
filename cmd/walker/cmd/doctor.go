package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanowens-dev/walker/internal/config"
	"github.com/bryanowens-dev/walker/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment before first use",
	Long: `Verify everything a deployment needs: configuration, coordination
store, required binaries (git, gh, the coding agent), optional tooling
(node, npm, chromium), disk space and memory. Prints the effective
configuration with secrets redacted and the most recent task results.

A failed check exits non-zero; warnings do not.

Examples:
  walker doctor
  walker doctor --config /etc/walker/walker.yaml`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	// The doctor reports an invalid config as a failed check instead of
	// refusing to run, so it loads without validating.
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	rep := diagnostics.New(cfg, loader.AllSettings(), logger).Run(ctx)
	rep.Render(os.Stdout)

	if !rep.Healthy() {
		return fmt.Errorf("environment check failed")
	}
	return nil
}
