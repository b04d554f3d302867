package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
	"github.com/kwonjuyong/stagehand/internal/shell/docker"
	"github.com/kwonjuyong/stagehand/internal/shell/git"
	"github.com/kwonjuyong/stagehand/internal/shell/runner"
	"github.com/kwonjuyong/stagehand/internal/shell/store"
)

func newRunCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a deploy pipeline",
		Long: `Execute the pipeline described by the given YAML file against the
local Docker engine. The run and every stage outcome are recorded in the
history database. The command exits non-zero when the run fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat a down probe target as a run failure")
	return cmd
}

func runPipeline(cmd *cobra.Command, specPath string, strict bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := SetupLogger(cfg)

	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("pipeline file: %w", err)
	}

	spec, err := pipeline.ParseSpec(data)
	if err != nil {
		return err
	}
	if strict {
		spec.Probes.Strict = true
	}

	engine, err := docker.NewEngine(cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Ping(cmd.Context()); err != nil {
		return err
	}

	var source runner.SourceSyncer
	if spec.Source != nil {
		checkout, err := git.NewCheckout()
		if err != nil {
			return err
		}
		source = checkout
	}

	history, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer history.Close()

	r := runner.New(engine, source, history, logger)
	run, err := r.Run(cmd.Context(), spec)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", run.ID, run.Status)
	if run.Status == pipeline.RunFailed {
		return fmt.Errorf("run failed: %s", run.Error)
	}
	return nil
}
