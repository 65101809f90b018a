package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pypidata/pkg/integrations/pypi/pypitest"
	"github.com/matzehuels/pypidata/pkg/pages"
	"github.com/matzehuels/pypidata/pkg/store"
)

const demoJSON = `{"info": {"name": "Demo", "version": "1.0"}, "last_serial": 5, "releases": {}, "urls": []}`

const demoSimple = `<html><body><a href="https://files.test/Demo-1.0.tar.gz#sha256=aa11">Demo-1.0.tar.gz</a></body></html>`

// testCLI returns a CLI writing listings to out, with an isolated config home.
func testCLI(t *testing.T, out *bytes.Buffer) *CLI {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	c := New(&bytes.Buffer{}, log.ErrorLevel)
	c.Out = out
	return c
}

func execute(t *testing.T, c *CLI, args ...string) error {
	t.Helper()
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func writeConfig(t *testing.T, indexURL, db string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := fmt.Sprintf(`database = %q

[index]
url = %q

[fetch]
retries = 1
retry_delay = "1ms"

[changelog]
min_interval = "1ms"

[cache]
backend = "none"
`, db, indexURL)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommandWiring(t *testing.T) {
	root := New(&bytes.Buffer{}, log.InfoLevel).RootCommand()
	for _, name := range []string{"changelog", "packages", "pages", "stale", "runs", "cache", "completion"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err = %v)", name, err)
		}
	}
	if cmd, _, _ := root.Find([]string{"raw"}); cmd.Name() != "pages" {
		t.Errorf("alias raw resolves to %q", cmd.Name())
	}
}

func TestDatabaseFlagAlias(t *testing.T) {
	var out bytes.Buffer
	c := testCLI(t, &out)
	path := filepath.Join(t.TempDir(), "alias.db")

	if err := execute(t, c, "--db", path, "runs"); err != nil {
		t.Fatal(err)
	}
	if c.cfg.Database != path {
		t.Errorf("database = %q, want %q", c.cfg.Database, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestBadConfigFails(t *testing.T) {
	var out bytes.Buffer
	c := testCLI(t, &out)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[fetch]\nworkers = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, c, "--config", path, "runs"); err == nil {
		t.Fatal("unknown config key accepted")
	}
}

func TestStaleListsOutOfDatePages(t *testing.T) {
	var out bytes.Buffer
	c := testCLI(t, &out)
	path := filepath.Join(t.TempDir(), "pypi.db")

	db, err := store.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	err = db.UpsertPackages(context.Background(), []store.Package{
		{Name: "beta", DisplayName: "Beta", LastSerial: 7},
		{Name: "alpha", DisplayName: "Alpha", LastSerial: 3},
	})
	db.Close()
	if err != nil {
		t.Fatal(err)
	}

	if err := execute(t, c, "--database", path, "stale", "-t", "simple"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "alpha\nbeta\n" {
		t.Errorf("stale = %q", got)
	}

	out.Reset()
	if err := execute(t, c, "--database", path, "stale", "--limit", "1", "--wide"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "alpha") || strings.Contains(got, "beta") {
		t.Errorf("limited table = %q", got)
	}

	if err := execute(t, c, "--database", path, "stale", "-t", "wheel"); err == nil {
		t.Error("unknown page type accepted")
	}
}

func TestSyncCommandsEndToEnd(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("demo", pypitest.Project{DisplayName: "Demo", Serial: 5, JSON: demoJSON, Simple: demoSimple})
	ix.AddEvents(
		pypitest.Event{Name: "Demo", Version: "1.0", Timestamp: 1700000000, Action: "new release", Serial: 4},
		pypitest.Event{Name: "Demo", Version: "1.0", Timestamp: 1700000001, Action: "add source file", Serial: 5},
	)

	var out bytes.Buffer
	c := testCLI(t, &out)
	dbPath := filepath.Join(t.TempDir(), "pypi.db")
	cfg := writeConfig(t, ix.URL, dbPath)

	for _, args := range [][]string{
		{"changelog"},
		{"packages", "--refresh"},
		{"pages"},
	} {
		if err := execute(t, c, append([]string{"--config", cfg}, args...)...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	db, err := store.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if w, _ := db.Watermark(context.Background()); w != 5 {
		t.Errorf("watermark = %d, want 5", w)
	}
	for _, kind := range pages.Kinds {
		stale, err := db.OutOfDate(context.Background(), kind, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(stale) != 0 {
			t.Errorf("%s: %d pages still stale", kind, len(stale))
		}
	}

	runs, err := db.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	for _, r := range runs {
		if r.Status != store.RunSucceeded {
			t.Errorf("run %s status = %s", r.Command, r.Status)
		}
	}

	out.Reset()
	if err := execute(t, c, "--config", cfg, "pages", "--list"); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be selected, got %q", out.String())
	}
}

func TestPagesListExplicitNames(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()

	var out bytes.Buffer
	c := testCLI(t, &out)
	cfg := writeConfig(t, ix.URL, filepath.Join(t.TempDir(), "pypi.db"))

	if err := execute(t, c, "--config", cfg, "pages", "--list", "-t", "json", "Foo_Bar", "not a name"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "foo-bar\n" {
		t.Errorf("list = %q", got)
	}
	if n := len(ix.RPCCalls()); n != 0 {
		t.Errorf("explicit names should not refresh the listing, saw %d calls", n)
	}
}

func TestParseKinds(t *testing.T) {
	tests := []struct {
		in      []string
		want    []pages.Kind
		wantErr bool
	}{
		{nil, nil, false},
		{[]string{"json"}, []pages.Kind{pages.KindJSON}, false},
		{[]string{"json,simple"}, []pages.Kind{pages.KindJSON, pages.KindSimple}, false},
		{[]string{"simple", "JSON"}, []pages.Kind{pages.KindSimple, pages.KindJSON}, false},
		{[]string{"wheel"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.in, "+"), func(t *testing.T) {
			got, err := parseKinds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("kinds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadNames(t *testing.T) {
	file := filepath.Join(t.TempDir(), "names.txt")
	if err := os.WriteFile(file, []byte("# wanted\nRequests\nzope.interface"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name         string
		args         []string
		file         string
		stdin        string
		want, reject []string
	}{
		{"args only", []string{"Django", "bad name"}, "", "", []string{"django"}, []string{"bad name"}},
		{"file", []string{"flask"}, file, "", []string{"flask", "requests", "zope-interface"}, nil},
		{"stdin without trailing newline", []string{"flask"}, "-", "numpy", []string{"flask", "numpy"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rejected, err := readNames(tt.args, tt.file, strings.NewReader(tt.stdin))
			if err != nil {
				t.Fatal(err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("names = %v, want %v", got, tt.want)
			}
			if fmt.Sprint(rejected) != fmt.Sprint(tt.reject) {
				t.Errorf("rejected = %v, want %v", rejected, tt.reject)
			}
		})
	}

	if _, _, err := readNames(nil, filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("missing file accepted")
	}
}
