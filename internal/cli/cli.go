// Package cli implements the pypidata command-line interface.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/matzehuels/pypidata/internal/config"
	"github.com/matzehuels/pypidata/pkg/buildinfo"
	"github.com/matzehuels/pypidata/pkg/cache"
	"github.com/matzehuels/pypidata/pkg/integrations/pypi"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/pipeline"
	"github.com/matzehuels/pypidata/pkg/store"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "pypidata"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
	LogWarn  = log.WarnLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Out    io.Writer // listings and summaries

	configPath string
	database   string
	cfg        config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Out:    os.Stdout,
		cfg:    config.Default(),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "pypidata keeps a local SQLite mirror of PyPI metadata in sync",
		Long: `pypidata mirrors PyPI project metadata into a local SQLite database.

It follows the index change feed, keeps a table of every project and its
latest serial, and refetches only the JSON and simple pages that are behind.`,
		Version:           buildinfo.Version,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return c.loadConfig(cmd) },
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.SetGlobalNormalizationFunc(flagAliases)

	flags := root.PersistentFlags()
	flags.StringVar(&c.database, "database", "", "SQLite database path (default from config, else pypi.db)")
	flags.StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/pypidata/config.toml)")

	root.AddCommand(c.changelogCommand())
	root.AddCommand(c.packagesCommand())
	root.AddCommand(c.pagesCommand())
	root.AddCommand(c.staleCommand())
	root.AddCommand(c.runsCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// flagAliases maps alternative flag spellings onto their canonical names.
func flagAliases(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "db":
		name = "database"
	}
	return pflag.NormalizedName(name)
}

// loadConfig reads the config file and applies global flag overrides.
func (c *CLI) loadConfig(cmd *cobra.Command) error {
	cfg, path, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("database") {
		cfg.Database = c.database
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if path != "" {
		c.Logger.Debug("loaded config", "path", path)
	}
	c.cfg = cfg
	return nil
}

// =============================================================================
// Session - resources for one command
// =============================================================================

// session holds the database, index client and runner of one command.
type session struct {
	db     *store.DB
	client *pypi.Client
	cache  cache.Cache
	runner *pipeline.Runner
}

// openStore opens only the database, for commands that never touch the index.
func (c *CLI) openStore(ctx context.Context) (*store.DB, error) {
	db, err := store.Open(ctx, c.cfg.Database)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("opened database", "path", db.Path())
	return db, nil
}

// open opens the database, the listing cache and the index client.
func (c *CLI) open(ctx context.Context, hooks observability.Hooks) (*session, error) {
	db, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	listing, err := cache.Open(c.cfg.CacheOptions())
	if err != nil {
		c.Logger.Warn("listing cache unavailable, continuing without it", "err", err)
		listing = cache.NewNullCache()
	}

	client, err := pypi.NewClient(c.cfg.ClientOptions(listing))
	if err != nil {
		listing.Close()
		db.Close()
		return nil, err
	}

	return &session{
		db:     db,
		client: client,
		cache:  listing,
		runner: pipeline.NewRunner(db, client, c.Logger, hooks),
	}, nil
}

// Close releases everything the session opened.
func (s *session) Close() {
	s.client.Close()
	s.cache.Close()
	s.db.Close()
}
