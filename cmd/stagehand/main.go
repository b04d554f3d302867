// Command stagehand runs deploy pipelines against a Docker engine and
// serves their run history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stagehand",
		Short: "Single-shot deploy pipeline runner",
		Long: `Stagehand executes a fixed deploy pipeline described by a YAML file:
checkout, env staging, image pull, teardown, compose up and post-deploy
probes. Every run is recorded and can be inspected afterwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(
		newRunCommand(),
		newRenderCommand(),
		newHistoryCommand(),
		newServeCommand(),
		newVersionCommand(),
	)
	return root
}

// loadConfig loads the tool config honoring the --config flag.
func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
