package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/engine"
	"github.com/uvfleet/uvfleet/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		inventoryPath string
		selector      string
		storePath     string
		dryRun        bool
		traceExporter string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile machines against the resolved configuration",
		Long: `Reconcile the selected machines: connect over SSH, collect grains,
resolve the layered configuration, gate it through the policy engine,
and apply the rendered plan.

Machines come from a YAML inventory document. A machine's pillar
overlay is merged over the --pillar document before resolution. Runs
and observed tool states are recorded in the SQLite store.

Package-install items are reported but not executed; acquiring the uv
binary itself belongs to the platform's package tooling.`,
		Example: `  # Apply to every machine in the inventory
  uvfleet apply --inventory fleet.yaml -f ./formula -p pillar.yaml

  # Apply to the web role only
  uvfleet apply --inventory fleet.yaml --select role=web

  # Preview without touching any machine
  uvfleet apply --inventory fleet.yaml --dry-run

  # Record runs and export traces
  uvfleet apply --inventory fleet.yaml --store uvfleet.db --trace stdout`,
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

			telCfg := telemetry.DefaultConfig()
			telCfg.Environment = environment
			telCfg.Tracing.Enabled = traceExporter != ""
			if traceExporter != "" {
				telCfg.Tracing.Exporter = traceExporter
			}
			telCfg.Metrics.Enabled = metricsListen != ""
			if metricsListen != "" {
				telCfg.Metrics.ListenAddress = metricsListen
			}
			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			ctx = tel.WithContext(ctx)
			defer func() {
				if err := tel.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
			if telCfg.Metrics.Enabled {
				if err := tel.StartMetricsServer(); err != nil {
					log.Warn().Err(err).Msg("Failed to start metrics server")
				}
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

			var failed int
			for _, machine := range machines {
				result, err := eng.Reconcile(ctx, machine, src, engine.ReconcileOptions{DryRun: dryRun})
				if err != nil {
					failed++
					log.Error().Err(err).Str("minion_id", machine.ID()).Msg("Reconciliation failed")
					if result == nil {
						continue
					}
				}
				fmt.Println(result.Summary())
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d machines failed", failed, len(machines))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "fleet inventory document (YAML)")
	cmd.Flags().StringVarP(&selector, "select", "s", "all", "machine selector (all, id=..., role=..., comma-separated terms)")
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite store for runs and tool states")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render and gate plans without applying them")
	cmd.Flags().StringVar(&traceExporter, "trace", "", "trace exporter (stdout, otlp)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve prometheus metrics on this address")
	cmd.MarkFlagRequired("inventory")

	return cmd
}
