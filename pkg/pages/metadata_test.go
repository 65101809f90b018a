package pages

import (
	"os"
	"testing"

	"github.com/matzehuels/pypidata/pkg/errors"
)

func TestDecodeMetadataFixture(t *testing.T) {
	body, err := os.ReadFile("testdata/project.json")
	if err != nil {
		t.Fatal(err)
	}
	md, err := DecodeMetadata(body)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}

	if md.Serial == nil || *md.Serial != 4242 {
		t.Errorf("Serial = %v, want 4242", md.Serial)
	}
	if md.Project.Name != "Demo" || md.Project.Version != "1.1" {
		t.Errorf("Project = %+v", md.Project)
	}
	if md.Project.YankedReason != "" {
		t.Errorf("null yanked_reason should decode empty, got %q", md.Project.YankedReason)
	}
	if len(md.Project.RequiresDist) != 1 || md.Project.RequiresDist[0] != "requests>=2" {
		t.Errorf("RequiresDist = %v", md.Project.RequiresDist)
	}
	if md.URLs["Source"] != "https://example.org/src" {
		t.Errorf("URLs = %v", md.URLs)
	}

	if len(md.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(md.Files))
	}
	wantOrder := []struct{ version, filename string }{
		{"1.0", "demo-1.0.tar.gz"},
		{"1.1", "demo-1.1-py3-none-any.whl"},
		{"1.1", "demo-1.1.tar.gz"},
	}
	for i, w := range wantOrder {
		if md.Files[i].Version != w.version || md.Files[i].Filename != w.filename {
			t.Errorf("file %d = %s/%s, want %s/%s", i, md.Files[i].Version, md.Files[i].Filename, w.version, w.filename)
		}
	}
	if !md.Files[0].Yanked || md.Files[0].YankedReason != "bad" {
		t.Errorf("yanked file = %+v", md.Files[0])
	}
	if md.Files[2].Digests["sha256"] != "bb" || md.Files[2].Size != 2048 {
		t.Errorf("sdist = %+v", md.Files[2])
	}
}

func TestDecodeMetadataErrors(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantEmbedded bool
	}{
		{"not json", "<html>", false},
		{"no info", `{"last_serial": 9, "releases": {}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMetadata([]byte(tt.body))
			if !errors.Is(err, errors.ErrCodeDecode) {
				t.Fatalf("expected DECODE_ERROR, got %v", err)
			}
			d, err := Decode(KindJSON, []byte(tt.body))
			if err == nil {
				t.Fatal("Decode should fail")
			}
			if (d.Embedded != nil) != tt.wantEmbedded {
				t.Errorf("Embedded = %v, want present=%v", d.Embedded, tt.wantEmbedded)
			}
		})
	}
}

func TestDecodeDispatch(t *testing.T) {
	d, err := Decode(KindSimple, []byte(`<a href="/x/a.whl">a.whl</a><!--SERIAL 3-->`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Simple == nil || d.Metadata != nil {
		t.Fatalf("expected simple page only: %+v", d)
	}
	if d.Embedded == nil || *d.Embedded != 3 {
		t.Errorf("Embedded = %v", d.Embedded)
	}
	if len(d.Anomalies()) != 0 {
		t.Errorf("Anomalies = %v", d.Anomalies())
	}
}
