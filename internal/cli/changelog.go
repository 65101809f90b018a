package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/changelog"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/store"
)

const commandChangelog = "changelog"

// changelogCommand creates the changelog sync command.
func (c *CLI) changelogCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "changelog",
		Aliases: []string{"chg"},
		Short:   "Sync the index change feed into the local changelog",
		Long: `Sync the index change feed into the local changelog.

Entries after the highest stored serial are requested in batches and each
batch is committed in one transaction, so an interrupted sync resumes where
it stopped. Every entry also raises the last serial of its package, which is
what marks pages as stale for the pages command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runChangelog(cmd.Context())
		},
	}
}

func (c *CLI) runChangelog(ctx context.Context) error {
	s, err := c.open(ctx, observability.Hooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	prog := newProgress(c.Logger)
	var res changelog.Result
	err = s.runner.Track(ctx, commandChangelog, func(ctx context.Context, run *store.Run) error {
		tracker := changelog.NewTracker(s.client, s.db, changelog.Options{Logger: c.Logger})
		var err error
		res, err = tracker.Sync(ctx)
		run.Written = res.Entries
		return err
	})
	if err != nil {
		if res.Batches > 0 {
			printWarning("Stopped after %d batches, watermark %s", res.Batches, formatCount(res.To))
		}
		return err
	}

	prog.done("changelog synced")
	if res.Entries == 0 {
		printSuccess("Changelog up to date at serial %s", formatCount(res.To))
		return nil
	}
	printSuccess("Applied %s entries in %d batches", formatCount(int64(res.Entries)), res.Batches)
	printDetail("serial %s → %s (index at %s)", formatCount(res.From), formatCount(res.To), formatCount(res.Latest))
	return nil
}
