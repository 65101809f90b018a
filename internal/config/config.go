// Package config loads pypidata settings from a TOML file.
//
// Lookup order is the --config flag, then
// $XDG_CONFIG_HOME/pypidata/config.toml (~/.config/pypidata/config.toml when
// XDG_CONFIG_HOME is unset), then built-in defaults. A missing default file
// is not an error; a missing explicit file is. Command-line flags override
// whatever the file sets.
//
// Example file:
//
//	database = "/srv/mirror/pypi.db"
//
//	[index]
//	url = "https://pypi.org"
//	timeout = "30s"
//
//	[fetch]
//	concurrency = 50
//
//	[cache]
//	backend = "redis"
//	redis_addr = "localhost:6379"
package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/pypidata/pkg/cache"
	"github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/fetch"
	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/integrations/pypi"
	"github.com/matzehuels/pypidata/pkg/pipeline"
)

const appName = "pypidata"

// DefaultDatabase is used when neither the file nor a flag names one.
const DefaultDatabase = "pypi.db"

// Duration is a time.Duration written as a string ("1s", "250ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full configuration.
type Config struct {
	Database  string          `toml:"database"`
	UserAgent string          `toml:"user_agent"`
	Index     IndexConfig     `toml:"index"`
	Fetch     FetchConfig     `toml:"fetch"`
	Writer    WriterConfig    `toml:"writer"`
	Changelog ChangelogConfig `toml:"changelog"`
	Cache     CacheConfig     `toml:"cache"`
}

type IndexConfig struct {
	URL       string   `toml:"url"`
	XMLRPCURL string   `toml:"xmlrpc_url"`
	Timeout   Duration `toml:"timeout"`
}

type FetchConfig struct {
	Concurrency int      `toml:"concurrency"`
	Retries     int      `toml:"retries"`
	RetryDelay  Duration `toml:"retry_delay"`
}

type WriterConfig struct {
	QueueSize    int `toml:"queue_size"`
	BatchSize    int `toml:"batch_size"`
	BatchRetries int `toml:"batch_retries"`
}

type ChangelogConfig struct {
	MinInterval Duration `toml:"min_interval"`
}

type CacheConfig struct {
	Backend   string   `toml:"backend"`
	Dir       string   `toml:"dir"`
	TTL       Duration `toml:"ttl"`
	RedisAddr string   `toml:"redis_addr"`
	RedisDB   int      `toml:"redis_db"`
	// Prefix scopes keys when several mirrors share one Redis.
	Prefix string `toml:"prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		Index: IndexConfig{
			URL:     pypi.DefaultIndexURL,
			Timeout: Duration{httputil.DefaultTimeout},
		},
		Fetch: FetchConfig{
			Concurrency: fetch.DefaultConcurrency,
			Retries:     fetch.DefaultRetries,
			RetryDelay:  Duration{fetch.DefaultRetryDelay},
		},
		Writer: WriterConfig{
			QueueSize:    pipeline.DefaultQueueSize,
			BatchSize:    pipeline.DefaultBatchSize,
			BatchRetries: pipeline.DefaultBatchRetries,
		},
		Changelog: ChangelogConfig{MinInterval: Duration{time.Second}},
		Cache: CacheConfig{
			Backend: cache.BackendFile,
			TTL:     Duration{time.Hour},
		},
	}
}

// DefaultPath returns the config file location following XDG conventions.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// Load reads the config file at path over the defaults. An empty path means
// [DefaultPath], which may be absent. It returns the path actually read, or
// "" when only defaults apply.
func Load(path string) (Config, string, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, "", nil
		}
		path = p
	}

	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case err == nil:
	case !explicit && stderrors.Is(err, fs.ErrNotExist):
		return Default(), "", nil
	default:
		return Default(), path, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config %s", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return cfg, path, errors.New(errors.ErrCodeInvalidConfig, "unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, path, cfg.Validate()
}

// Validate checks values that would otherwise fail deep inside a sync.
func (c Config) Validate() error {
	if err := errors.ValidateDatabasePath(c.Database); err != nil {
		return err
	}
	if err := errors.ValidateURL(c.Index.URL); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "index.url")
	}
	if c.Index.XMLRPCURL != "" {
		if err := errors.ValidateURL(c.Index.XMLRPCURL); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "index.xmlrpc_url")
		}
	}

	positive := []struct {
		key string
		v   int
	}{
		{"fetch.concurrency", c.Fetch.Concurrency},
		{"writer.queue_size", c.Writer.QueueSize},
		{"writer.batch_size", c.Writer.BatchSize},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return errors.New(errors.ErrCodeInvalidConfig, "%s must be positive, got %d", p.key, p.v)
		}
	}
	if c.Fetch.Retries < 0 || c.Writer.BatchRetries < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "retry counts must not be negative")
	}
	if c.Index.Timeout.Duration < 0 || c.Fetch.RetryDelay.Duration < 0 ||
		c.Changelog.MinInterval.Duration < 0 || c.Cache.TTL.Duration < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "durations must not be negative")
	}

	switch c.Cache.Backend {
	case cache.BackendFile, cache.BackendNone:
	case cache.BackendRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "cache.redis_addr is required for the redis backend")
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "cache.backend must be file, redis or none, got %q", c.Cache.Backend)
	}
	return nil
}

// FetchRetry returns the page fetch retry policy.
func (c Config) FetchRetry() *httputil.Policy {
	p := httputil.FixedPolicy(c.Fetch.Retries, c.Fetch.RetryDelay.Duration)
	return &p
}

// WriterOptions returns the write pipeline settings.
func (c Config) WriterOptions() pipeline.WriterOptions {
	p := httputil.Backoff(c.Writer.BatchRetries, pipeline.DefaultBatchDelay)
	return pipeline.WriterOptions{
		QueueSize: c.Writer.QueueSize,
		BatchSize: c.Writer.BatchSize,
		Retry:     &p,
	}
}

// CacheOptions returns the listing cache settings.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:   c.Cache.Backend,
		Dir:       c.Cache.Dir,
		RedisAddr: c.Cache.RedisAddr,
		RedisDB:   c.Cache.RedisDB,
	}
}

// Keyer returns the cache keyer, scoped when a prefix is set.
func (c Config) Keyer() cache.Keyer {
	if c.Cache.Prefix == "" {
		return cache.NewDefaultKeyer()
	}
	return cache.NewScopedKeyer(nil, c.Cache.Prefix)
}

// ClientOptions returns the index client settings using the given cache.
func (c Config) ClientOptions(listing cache.Cache) pypi.Options {
	return pypi.Options{
		Keyer:       c.Keyer(),
		IndexURL:    c.Index.URL,
		XMLRPCURL:   c.Index.XMLRPCURL,
		UserAgent:   c.UserAgent,
		Timeout:     c.Index.Timeout.Duration,
		MinInterval: c.Changelog.MinInterval.Duration,
		Cache:       listing,
		CacheTTL:    c.Cache.TTL.Duration,
	}
}
