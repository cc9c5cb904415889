package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/engine"
)

func newDriftCommand() *cobra.Command {
	var (
		inventoryPath string
		selector      string
		storePath     string
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect drift between desired and installed tools",
		Long: `Compare the desired tools of the resolved configuration against what
'uv tool list' reports on each selected machine.

Drift covers version-spec changes, versions outside their own spec,
missing or surplus injected packages, interpreter changes and pending
upgrades. Tool environments are inspected only as deeply as the
desired spec constrains them. Nothing is applied.`,
		Example: `  # Check the whole fleet
  uvfleet drift --inventory fleet.yaml -f ./formula -p pillar.yaml

  # Check one machine and print the report as JSON
  uvfleet drift --inventory fleet.yaml --select id=web-01 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			inv, err := engine.LoadInventory(inventoryPath)
			if err != nil {
				return err
			}
			machines := inv.Select(selector)
			if len(machines) == 0 {
				return fmt.Errorf("selector %q matches no machines", selector)
			}

			src, err := loadSources()
			if err != nil {
				return err
			}
			policies, err := newPolicyEngine(ctx)
			if err != nil {
				return err
			}

			opts := []engine.EngineOption{
				engine.WithPolicyEngine(policies),
				engine.WithEngineLogger(log.Logger),
			}
			if storePath != "" {
				store, err := openStore(ctx, storePath)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, engine.WithStore(store))
			}
			eng := engine.NewEngine(opts...)

			var drifted int
			for _, machine := range machines {
				report, err := eng.Drift(ctx, machine, src)
				if err != nil {
					return err
				}
				if report.InSync() {
					log.Info().Str("minion_id", machine.ID()).Msg("In sync")
					continue
				}
				drifted++
				if err := printDocument(report); err != nil {
					return err
				}
			}

			if drifted > 0 {
				return fmt.Errorf("%d of %d machines drifted", drifted, len(machines))
			}
			fmt.Printf("ok: %d machines in sync\n", len(machines))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "fleet inventory document (YAML)")
	cmd.Flags().StringVarP(&selector, "select", "s", "all", "machine selector (all, id=..., role=..., comma-separated terms)")
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite store for the grain cache")
	cmd.MarkFlagRequired("inventory")

	return cmd
}
