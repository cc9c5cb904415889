package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/formula"
)

func newResolveCommand() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the layered configuration",
		Long: `Resolve the configuration for this machine and print the result.

The resolution layers, in ascending precedence:
  - embedded formula defaults
  - grain-keyed parameter documents (os_family, roles, minion id)
  - pillar overrides (tool_uv key)
  - per-user overlays

The output is the typed configuration plus the resolved user
collection; --raw prints the merged tree before typing instead.`,
		Example: `  # Resolve against a formula checkout with pillar overrides
  uvfleet resolve -f ./formula -p pillar.yaml

  # Resolve for a specific machine identity
  uvfleet resolve --minion-id web-01 --role web --role canary

  # Print the raw merged tree as JSON
  uvfleet resolve --raw --json`,
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

			res, err := formula.NewResolver(formula.WithLogger(log.Logger)).Resolve(ctx, g, src)
			if err != nil {
				return err
			}

			if raw {
				return printDocument(res.Tree)
			}
			return printDocument(map[string]any{
				"config": res.Config,
				"users":  res.Users,
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the merged tree instead of the typed configuration")

	return cmd
}
