package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/pypidata/pkg/cache"
)

func cacheConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := fmt.Sprintf("[cache]\nbackend = \"file\"\ndir = %q\n", dir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCachePath(t *testing.T) {
	var out bytes.Buffer
	c := testCLI(t, &out)
	dir := filepath.Join(t.TempDir(), "listing")

	if err := execute(t, c, "--config", cacheConfig(t, dir), "cache", "path"); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != dir {
		t.Errorf("path = %q, want %q", got, dir)
	}
}

func TestCacheClear(t *testing.T) {
	var out bytes.Buffer
	c := testCLI(t, &out)
	dir := t.TempDir()

	fc, err := cache.NewFileCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := fc.Set(ctx, "listing", []byte(`{"demo":5}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, c, "--config", cacheConfig(t, dir), "cache", "clear"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fc.Get(ctx, "listing"); ok {
		t.Error("entry survived cache clear")
	}
}
