package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/policy"
	"github.com/uvfleet/uvfleet/pkg/stores"
)

// loadSources assembles the resolution sources from the global flags: the
// formula root, the pillar document and the optional post-map hook.
func loadSources() (formula.Sources, error) {
	src := formula.Sources{ParametersDir: parametersDir}

	if formulaDir != "" {
		info, err := os.Stat(formulaDir)
		if err != nil {
			return formula.Sources{}, fmt.Errorf("formula root: %w", err)
		}
		if !info.IsDir() {
			return formula.Sources{}, fmt.Errorf("formula root %s is not a directory", formulaDir)
		}
		src.Root = os.DirFS(formulaDir)
	}

	if pillarPath != "" {
		data, err := os.ReadFile(pillarPath)
		if err != nil {
			return formula.Sources{}, fmt.Errorf("failed to read pillar document: %w", err)
		}
		var pillar formula.Tree
		if err := yaml.Unmarshal(data, &pillar); err != nil {
			return formula.Sources{}, fmt.Errorf("malformed pillar document %s: %w", pillarPath, err)
		}
		src.Pillar = pillar
	}

	if hookPath != "" {
		script, err := os.ReadFile(hookPath)
		if err != nil {
			return formula.Sources{}, fmt.Errorf("failed to read hook script: %w", err)
		}
		src.Hook = string(script)
	}

	return src, nil
}

// collectLocalGrains gathers grains from the local machine, applying the
// minion id and role overrides from the global flags.
func collectLocalGrains(ctx context.Context) (grains.Grains, error) {
	g, err := grains.Collect(ctx)
	if err != nil {
		return grains.Grains{}, fmt.Errorf("grain collection failed: %w", err)
	}
	if minionIDFlag != "" {
		g.MinionID = minionIDFlag
	}
	if len(rolesFlag) > 0 {
		g = g.WithRoles(rolesFlag)
	}
	return g, nil
}

// newPolicyEngine builds a policy engine with the builtin policies plus any
// user-supplied policy paths, scoped to the configured environment.
func newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	engine.SetEnvironment(environment)
	if len(policyPaths) > 0 {
		if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// openStore opens and migrates the SQLite store at the given path. The
// caller owns the returned store and must Close it.
func openStore(ctx context.Context, path string) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// printDocument writes a value to stdout as YAML, or JSON with --json.
func printDocument(v any) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
