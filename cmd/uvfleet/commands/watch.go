package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/engine"
	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve on parameter document changes",
		Long: `Watch the parameter documents and the pillar document and re-run the
resolution pass whenever one changes.

Each pass logs whether the configuration still resolves and passes the
policy gate, and how many work items the plan renders. Rapid edit
bursts are coalesced by the debounce interval. Runs until interrupted.`,
		Example: `  # Watch a formula checkout
  uvfleet watch -f ./formula -p pillar.yaml

  # Watch with a longer settle time
  uvfleet watch -f ./formula --debounce 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			g, err := collectLocalGrains(ctx)
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

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			if err := addWatchPaths(watcher); err != nil {
				return err
			}

			// Policy files reload live too, so a watch session exercises
			// rule edits alongside parameter edits.
			if len(policyPaths) > 0 {
				policyLoader := policy.NewLoader(log.Logger)
				defer policyLoader.Close()
				err := policyLoader.Watch(ctx, policyPaths, func(loaded []policy.Policy) error {
					if err := policies.ReplacePolicies(ctx, loaded); err != nil {
						return err
					}
					resolveOnce(ctx, eng, g)
					return nil
				})
				if err != nil {
					return err
				}
			}

			// Initial pass before the first change arrives.
			resolveOnce(ctx, eng, g)

			return watchLoop(ctx, watcher, debounce, func() {
				resolveOnce(ctx, eng, g)
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "settle time after a change before re-resolving")

	return cmd
}

// addWatchPaths registers the parameter document tree and the pillar
// document with the watcher.
func addWatchPaths(watcher *fsnotify.Watcher) error {
	dir := parametersDir
	if dir == "" {
		dir = formula.DefaultParametersDir
	}
	root := filepath.Join(formulaDir, dir)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	if pillarPath != "" {
		// Editors replace files instead of writing in place, so watch the
		// containing directory.
		if err := watcher.Add(filepath.Dir(pillarPath)); err != nil {
			return fmt.Errorf("failed to watch pillar document: %w", err)
		}
	}
	return nil
}

// watchLoop dispatches debounced change notifications until the context is
// cancelled.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration, onChange func()) error {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Change detected")
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")

		case <-timerC:
			timer = nil
			timerC = nil
			onChange()
		}
	}
}

// resolveOnce runs one resolution pass and logs the outcome.
func resolveOnce(ctx context.Context, eng *engine.Engine, g grains.Grains) {
	src, err := loadSources()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load sources")
		return
	}

	started := time.Now()
	res, plan, err := eng.Plan(ctx, g, src)
	if err != nil {
		log.Error().Err(err).Msg("Resolution failed")
		return
	}

	log.Info().
		Str("minion_id", g.MinionID).
		Int("users", len(res.Users)).
		Int("items", len(plan.Items)).
		Dur("duration", time.Since(started)).
		Msg("Configuration resolved")
}
