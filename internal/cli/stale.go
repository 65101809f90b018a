package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/pages"
)

// staleCommand lists packages whose stored page is behind the index.
func (c *CLI) staleCommand() *cobra.Command {
	var (
		kind  string
		limit int
		wide  bool
	)

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List packages whose stored page is out of date",
		Long: `List packages whose last serial is newer than the serial of their stored
page. Pages never fetched, or fetched without a known serial, count as 0.

Names are printed one per line so the output can feed "pypidata pages -f -".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := pages.ParseKind(kind)
			if err != nil {
				return err
			}
			db, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			stale, err := db.OutOfDate(cmd.Context(), k, limit)
			if err != nil {
				return err
			}
			if !wide {
				for _, s := range stale {
					fmt.Fprintln(c.Out, s.Name)
				}
				return nil
			}

			rows := make([][]string, 0, len(stale))
			for _, s := range stale {
				page := "-"
				if s.PageSerial > 0 {
					page = strconv.FormatInt(s.PageSerial, 10)
				}
				rows = append(rows, []string{s.Name, strconv.FormatInt(s.LastSerial, 10), page, s.ETag})
			}
			printTable(c.Out, []string{"Name", "Last serial", "Page serial", "ETag"}, rows, 1, 2)
			printDetail("%s %s pages out of date", formatCount(int64(len(stale))), k)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "type", "t", string(pages.KindJSON), "page type (json or simple)")
	cmd.Flags().IntVarP(&limit, "limit", "L", 0, "list at most this many packages (0 for all)")
	cmd.Flags().BoolVarP(&wide, "wide", "w", false, "show serials and ETags in a table")
	_ = cmd.RegisterFlagCompletionFunc("type", completeKinds)

	return cmd
}
