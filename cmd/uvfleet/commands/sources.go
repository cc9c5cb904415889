package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uvfleet/uvfleet/pkg/tofs"
)

func newSourcesCommand() *cobra.Command {
	var (
		users      []string
		firstMatch bool
	)

	cmd := &cobra.Command{
		Use:   "sources <prefix> <resource>",
		Short: "List prioritized source candidates for a resource",
		Long: `List the candidate source locations for a logical resource, most
specific first.

The tier order is fixed: minion id, then roles (declaration order)
followed by os_family, then the default tier. Within each tier,
user-scoped candidates precede user-less ones. With --first, only the
first candidate that exists under the formula root is printed.`,
		Example: `  # All candidates for the uv dotconfig directory
  uvfleet sources dotconfig uv --minion-id web-01 --role web --user alice

  # The candidate the dotfile sync would actually use
  uvfleet sources dotconfig uv --user alice --first -f ./formula`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, resource := args[0], args[1]

			g, err := collectLocalGrains(cmd.Context())
			if err != nil {
				return err
			}
			ctx := tofs.Context{
				MinionID: g.MinionID,
				OSFamily: g.OSFamily,
				Roles:    g.Roles,
				Users:    users,
			}

			if firstMatch {
				src, err := loadSources()
				if err != nil {
					return err
				}
				if src.Root == nil {
					return fmt.Errorf("--first needs a formula root (-f)")
				}
				candidate, found := tofs.SelectFS(ctx, prefix, resource, src.Root)
				if !found {
					return fmt.Errorf("no candidate for %s/%s exists", prefix, resource)
				}
				return printDocument(candidate)
			}

			return printDocument(tofs.Candidates(ctx, prefix, resource))
		},
	}

	cmd.Flags().StringSliceVarP(&users, "user", "u", nil, "usernames the lookup applies to, in order")
	cmd.Flags().BoolVar(&firstMatch, "first", false, "print only the first existing candidate")

	return cmd
}
