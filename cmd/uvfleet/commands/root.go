package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	formulaDir    string
	parametersDir string
	pillarPath    string
	hookPath      string
	policyPaths   []string
	environment   string
	jsonOutput    bool
	minionIDFlag  string
	rolesFlag     []string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uvfleet",
		Short: "uvfleet - declarative uv configuration for a fleet",
		Long: `uvfleet installs, configures and removes the uv Python package manager
across a fleet of machines, for one or many local users.

A resolution pass layers the embedded formula defaults, grain-keyed
parameter documents, pillar overrides and per-user overlays into one
typed configuration, renders it into an ordered plan of work items, and
applies the plan over SSH. Resolved configurations and rendered plans
are gated through OPA policies, and applied state is recorded in a
SQLite store for drift detection.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&formulaDir, "formula-dir", "f", ".", "formula root (parameter documents and dotconfig sources)")
	rootCmd.PersistentFlags().StringVar(&parametersDir, "parameters-dir", "", "parameter documents directory under the formula root (default \"parameters\")")
	rootCmd.PersistentFlags().StringVarP(&pillarPath, "pillar", "p", "", "pillar override document (YAML)")
	rootCmd.PersistentFlags().StringVar(&hookPath, "hook", "", "Starlark post-map hook script (map.star)")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories (Rego)")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "development", "deployment environment surfaced to policies")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&minionIDFlag, "minion-id", "", "override the minion id grain")
	rootCmd.PersistentFlags().StringSliceVar(&rolesFlag, "role", nil, "roles assigned to the machine, in order")

	// Add subcommands
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newSourcesCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
