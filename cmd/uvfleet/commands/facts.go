package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/engine"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/transports/ssh"
)

func newFactsCommand() *cobra.Command {
	var (
		inventoryPath string
		target        string
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Collect execution-context grains",
		Long: `Collect the grains a resolution pass is keyed on: minion id,
os_family (normalized from /etc/os-release), arch, kernel, libc tag
and roles.

Without --target the local machine is inspected. With --target and an
inventory, the machine is inspected over SSH and its inventory roles
are merged in.`,
		Example: `  # Grains of the local machine
  uvfleet facts

  # Grains as a specific machine identity
  uvfleet facts --minion-id web-01 --role web

  # Grains of a fleet machine, collected over SSH
  uvfleet facts --inventory fleet.yaml --target web-01 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var g grains.Grains
			var err error
			if target != "" {
				g, err = remoteGrains(ctx, inventoryPath, target)
			} else {
				g, err = collectLocalGrains(ctx)
			}
			if err != nil {
				return err
			}

			return printDocument(g)
		},
	}

	cmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "fleet inventory document (YAML)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "collect from this inventory machine over SSH")

	return cmd
}

// remoteGrains collects grains from one inventory machine over SSH.
func remoteGrains(ctx context.Context, inventoryPath, target string) (grains.Grains, error) {
	inv, err := engine.LoadInventory(inventoryPath)
	if err != nil {
		return grains.Grains{}, err
	}
	machine, err := inv.Get(target)
	if err != nil {
		return grains.Grains{}, err
	}

	client, err := ssh.NewClient(machine.TransportConfig(), ssh.WithLogger(log.Logger))
	if err != nil {
		return grains.Grains{}, err
	}
	if err := client.Connect(ctx); err != nil {
		return grains.Grains{}, err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Warn().Err(err).Str("minion_id", machine.ID()).Msg("Disconnect failed")
		}
	}()

	eng := engine.NewEngine(engine.WithEngineLogger(log.Logger))
	return eng.CollectGrains(ctx, machine, client)
}
