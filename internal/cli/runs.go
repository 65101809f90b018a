package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/store"
)

// runsCommand shows the run ledger.
func (c *CLI) runsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				printInfo("No runs recorded in %s", db.Path())
				return nil
			}
			printTable(c.Out, runHeaders, runRows(runs), 3, 4, 5, 6, 7)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "L", 20, "number of runs to show")
	return cmd
}

var runHeaders = []string{"Started", "Command", "Status", "Fetched", "304", "Gone", "Written", "Timeout", "Detail"}

func runRows(runs []store.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			formatRelativeTime(r.StartedAt),
			r.Command,
			runStatus(r.Status),
			strconv.Itoa(r.Fetched),
			strconv.Itoa(r.NotModified),
			strconv.Itoa(r.Gone),
			strconv.Itoa(r.Written),
			strconv.Itoa(r.TimedOut),
			r.Detail,
		})
	}
	return rows
}

func runStatus(status string) string {
	switch status {
	case store.RunSucceeded:
		return styleGood.Render(status)
	case store.RunFailed:
		return styleBad.Render(status)
	case store.RunAborted:
		return StyleWarning.Render(status)
	}
	return StyleDim.Render(status)
}
