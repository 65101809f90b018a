package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/store"
)

const commandPackages = "packages"

// packagesCommand creates the bulk package refresh command.
func (c *CLI) packagesCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Refresh the package table from the bulk listing",
		Long: `Refresh the package table from the index's bulk listing of every
project and its last serial. Stored serials are never lowered.

The listing is large and is cached (see "pypidata cache"); use --refresh
to bypass the cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPackages(cmd.Context(), refresh)
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the listing cache")
	return cmd
}

func (c *CLI) runPackages(ctx context.Context, refresh bool) error {
	s, err := c.open(ctx, observability.Hooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	spin := newSpinner(ctx, "Listing packages...")
	spin.Start()

	var n int
	err = s.runner.Track(ctx, commandPackages, func(ctx context.Context, run *store.Run) error {
		var err error
		n, err = s.runner.RefreshPackages(ctx, refresh)
		run.Written = n
		return err
	})
	if err != nil {
		spin.StopWithError("Package refresh failed")
		return err
	}
	spin.StopWithSuccess("Refreshed %s packages", formatCount(int64(n)))
	return nil
}
