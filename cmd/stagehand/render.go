package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
	"github.com/kwonjuyong/stagehand/internal/core/recipe"
)

func newRenderCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render <pipeline.yaml>",
		Short: "Render the Dockerfile for a pipeline's build recipe",
		Long: `Render the Dockerfile the up stage would build from the pipeline's
recipe section, without touching the Docker engine. Useful for reviewing
what a run will build.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderRecipe(cmd, args[0], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func renderRecipe(cmd *cobra.Command, specPath, output string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("pipeline file: %w", err)
	}

	spec, err := pipeline.ParseSpec(data)
	if err != nil {
		return err
	}
	if spec.Recipe == nil {
		return fmt.Errorf("pipeline has no recipe section")
	}

	rec := recipe.Recipe{
		Base:         spec.Recipe.Base,
		Workdir:      spec.Recipe.Workdir,
		Env:          spec.Recipe.Env,
		PackagesFile: spec.Recipe.PackagesFile,
		Port:         spec.Recipe.Port,
		Command:      spec.Recipe.Command,
	}

	content, err := rec.Render()
	if err != nil {
		return err
	}

	if output != "" {
		return os.WriteFile(output, []byte(content), 0644)
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}
