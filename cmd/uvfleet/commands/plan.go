package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Render the work-item plan",
		Long: `Resolve the configuration for this machine and render it into an
ordered plan of work items: the uv package install, per-user uv.toml
config files, dotfile syncs, shell completions and tool operations.

The plan is printed to stdout and can be persisted with --out for
later application.`,
		Example: `  # Render the plan for this machine
  uvfleet plan -f ./formula -p pillar.yaml

  # Render for a specific machine identity and save it
  uvfleet plan --minion-id web-01 --role web --out plan.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			g, err := collectLocalGrains(ctx)
			if err != nil {
				return err
			}
			src, err := loadSources()
			if err != nil {
				return err
			}
			policies, err := newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			eng := engine.NewEngine(
				engine.WithPolicyEngine(policies),
				engine.WithEngineLogger(log.Logger),
			)
			_, plan, err := eng.Plan(ctx, g, src)
			if err != nil {
				return err
			}

			if outFile != "" {
				data, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to serialize plan: %w", err)
				}
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return fmt.Errorf("failed to write plan: %w", err)
				}
				log.Info().Str("out", outFile).Int("items", len(plan.Items)).Msg("Plan written")
			}

			return printDocument(plan)
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "persist the rendered plan to a file (JSON)")

	return cmd
}
