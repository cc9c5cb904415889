package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration documents and policies",
		Long: `Validate the pillar and parameter documents for this machine.

Validation runs the full resolution pass (merge, typing, CUE schema
checks) and gates both the resolved configuration and the rendered plan
through the policy engine. Nothing is applied.`,
		Example: `  # Validate a formula checkout with pillar overrides
  uvfleet validate -f ./formula -p pillar.yaml

  # Validate with additional site policies
  uvfleet validate -p pillar.yaml --policy ./policies

  # Validate against the production policy environment
  uvfleet validate -p pillar.yaml --environment production`,
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
			res, plan, err := eng.Plan(ctx, g, src)
			if err != nil {
				return err
			}

			log.Info().
				Str("minion_id", g.MinionID).
				Int("users", len(res.Users)).
				Int("items", len(plan.Items)).
				Msg("Configuration is valid")
			fmt.Printf("ok: %d users, %d plan items\n", len(res.Users), len(plan.Items))
			return nil
		},
	}

	return cmd
}
