package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/names"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/pages"
	"github.com/matzehuels/pypidata/pkg/pipeline"
)

// pagesFlags holds the flags of the pages command.
type pagesFlags struct {
	types       []string
	file        string
	limit       int
	concurrency int
	list        bool
	noRefresh   bool
	abort       bool
	progress    bool
}

// pagesCommand creates the page sync command.
func (c *CLI) pagesCommand() *cobra.Command {
	var f pagesFlags

	cmd := &cobra.Command{
		Use:     "pages [names...]",
		Aliases: []string{"raw"},
		Short:   "Fetch the JSON and simple pages that are behind",
		Long: `Fetch per-project pages from the index and store them.

Without names, every page whose stored serial is behind its package is
fetched, after a bulk refresh of the package table (skip it with
--no-refresh). With names (arguments, or --file, one per line, "-" for
stdin) exactly those projects are fetched.

Pages are revalidated with their stored ETag; unchanged pages cost a 304.
On Ctrl+C the pages already fetched are written before exiting, unless
--abort-on-interrupt is given.`,
		Example: `  pypidata pages --type json --limit 1000
  pypidata pages requests numpy
  pypidata stale --type simple | pypidata pages --type simple --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPages(cmd.Context(), cmd.InOrStdin(), args, f)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&f.types, "type", "t", nil, "page kind to sync: json or simple (repeatable, default both)")
	flags.StringVarP(&f.file, "file", "f", "", `read project names from a file ("-" for stdin)`)
	flags.IntVarP(&f.limit, "limit", "L", 0, "sync at most this many pages per kind")
	flags.IntVarP(&f.concurrency, "concurrency", "c", 0, "maximum fetches in flight (default from config, 100)")
	flags.BoolVarP(&f.list, "list", "l", false, "print the selected pages and exit")
	flags.BoolVar(&f.noRefresh, "no-refresh", false, "skip the bulk package refresh")
	flags.BoolVar(&f.abort, "abort-on-interrupt", false, "discard fetched but unwritten pages on interrupt")
	flags.BoolVar(&f.progress, "progress", false, "show a live progress view")
	_ = cmd.RegisterFlagCompletionFunc("type", completeKinds)

	return cmd
}

// parseKinds converts --type values into page kinds.
func parseKinds(types []string) ([]pages.Kind, error) {
	var kinds []pages.Kind
	for _, t := range types {
		for _, part := range strings.Split(t, ",") {
			k, err := pages.ParseKind(part)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// readNames collects project names from args and the --file source.
// Invalid names are returned separately.
func readNames(args []string, file string, stdin io.Reader) (valid, rejected []string, err error) {
	sources := []io.Reader{strings.NewReader(strings.Join(args, "\n"))}
	switch file {
	case "":
	case "-":
		sources = append(sources, stdin)
	default:
		fh, err := os.Open(file)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "open names file")
		}
		defer fh.Close()
		sources = append(sources, fh)
	}
	return names.Parse(io.MultiReader(interleaveNewlines(sources)...))
}

// interleaveNewlines separates readers so that the last line of one never
// joins the first line of the next.
func interleaveNewlines(rs []io.Reader) []io.Reader {
	out := make([]io.Reader, 0, 2*len(rs))
	for _, r := range rs {
		out = append(out, r, strings.NewReader("\n"))
	}
	return out
}

func (c *CLI) runPages(ctx context.Context, stdin io.Reader, args []string, f pagesFlags) error {
	kinds, err := parseKinds(f.types)
	if err != nil {
		return err
	}
	selected, rejected, err := readNames(args, f.file, stdin)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		c.Logger.Warn("skipping invalid project name", "name", r)
	}
	explicit := len(args) > 0 || f.file != ""
	if explicit && len(selected) == 0 {
		printInfo("No valid project names given")
		return nil
	}

	concurrency := f.concurrency
	if concurrency <= 0 {
		concurrency = c.cfg.Fetch.Concurrency
	}
	opts := pipeline.Options{
		Kinds:         kinds,
		Names:         selected,
		Limit:         f.limit,
		Refresh:       !f.noRefresh,
		AbortOnCancel: f.abort,
		Concurrency:   concurrency,
		Retry:         c.cfg.FetchRetry(),
		Writer:        c.cfg.WriterOptions(),
	}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return err
	}

	if f.list {
		return c.listTargets(ctx, opts)
	}
	if f.progress {
		return c.syncWithProgress(ctx, opts)
	}

	s, err := c.open(ctx, observability.Hooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.runner.SyncPages(ctx, opts)
	if res != nil {
		c.printSyncResult(res)
	}
	return err
}

// listTargets prints the pages a sync with opts would fetch.
func (c *CLI) listTargets(ctx context.Context, opts pipeline.Options) error {
	s, err := c.open(ctx, observability.Hooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Refresh && len(opts.Names) == 0 {
		if _, err := s.runner.RefreshPackages(ctx, opts.RefreshCache); err != nil {
			return err
		}
	}
	for _, kind := range opts.Kinds {
		targets, err := s.runner.Targets(ctx, kind, opts.Names, opts.Limit)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if len(opts.Kinds) > 1 {
				fmt.Fprintf(c.Out, "%s\t%s\n", kind, t.Name)
			} else {
				fmt.Fprintln(c.Out, t.Name)
			}
		}
	}
	return nil
}

// printSyncResult prints the per-kind table and totals of a page sync.
func (c *CLI) printSyncResult(res *pipeline.Result) {
	var rows [][]string
	for _, kind := range pages.Kinds {
		if _, ok := res.Targets[kind]; !ok {
			continue
		}
		s := res.Fetch[kind]
		rows = append(rows, []string{
			string(kind),
			formatCount(int64(res.Targets[kind])),
			formatCount(int64(s.Fetched)),
			formatCount(int64(s.NotModified)),
			formatCount(int64(s.Gone)),
			formatCount(int64(s.Timeout)),
		})
	}
	if len(rows) > 0 {
		printTable(c.Out, []string{"Kind", "Selected", "Fetched", "Unchanged", "Gone", "Timeout"}, rows, 1, 2, 3, 4, 5)
	}

	total := res.Total()
	switch {
	case res.Interrupted:
		printWarning("Interrupted after %s: %s written, %s discarded",
			res.Duration.Round(time.Millisecond), formatCount(int64(res.Writer.Written)), formatCount(int64(res.Writer.Discarded)))
	case total.Total() == 0:
		printSuccess("All pages up to date")
	default:
		printSuccess("Wrote %s pages in %s", formatCount(int64(res.Writer.Written)), res.Duration.Round(time.Millisecond))
	}
	if total.Timeout > 0 {
		printDetail("%d pages timed out and will be retried next run", total.Timeout)
	}
	if total.UnknownSerial > 0 {
		printDetail("%d pages stored without a serial", total.UnknownSerial)
	}
	if total.Anomalies > 0 {
		printDetail("%d anomalies in simple pages (see log)", total.Anomalies)
	}
	if res.RunID != "" {
		printDetail("run %s", res.RunID)
	}
}
