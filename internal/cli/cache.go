package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the package listing cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the cached package listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := cache.Open(c.cfg.CacheOptions())
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer cc.Close()

			if fc, ok := cc.(*cache.FileCache); ok {
				if err := fc.Clear(); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				printSuccess("Cleared cache")
				printDetail("Directory: %s", fc.Dir())
				return nil
			}

			key := c.cfg.Keyer().ListingKey(strings.TrimRight(c.cfg.Index.URL, "/"))
			if err := cc.Delete(cmd.Context(), key); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			printSuccess("Dropped cached listing")
			printDetail("Key: %s", key)
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the file cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := c.cfg.Cache.Dir
			if dir == "" {
				var err error
				if dir, err = cache.DefaultDir(); err != nil {
					return fmt.Errorf("get cache dir: %w", err)
				}
			}
			fmt.Fprintln(c.Out, dir)
			return nil
		},
	}
}
