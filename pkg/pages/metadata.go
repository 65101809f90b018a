package pages

import (
	"encoding/json"
	"sort"

	"github.com/matzehuels/pypidata/pkg/errors"
)

// Metadata is a decoded /pypi/{name}/json document.
type Metadata struct {
	Serial  *int64 // last_serial, nil when absent
	Project Project
	URLs    map[string]string // project_urls, label -> URL
	Files   []ReleaseFile     // every file of every release
}

// Project is the "info" block of the metadata document.
type Project struct {
	Name                   string   `json:"name"`
	Version                string   `json:"version"`
	Summary                string   `json:"summary"`
	Description            string   `json:"description"`
	DescriptionContentType string   `json:"description_content_type"`
	Author                 string   `json:"author"`
	AuthorEmail            string   `json:"author_email"`
	Maintainer             string   `json:"maintainer"`
	MaintainerEmail        string   `json:"maintainer_email"`
	License                string   `json:"license"`
	Keywords               string   `json:"keywords"`
	Classifiers            []string `json:"classifiers"`
	HomePage               string   `json:"home_page"`
	DownloadURL            string   `json:"download_url"`
	DocsURL                string   `json:"docs_url"`
	BugtrackURL            string   `json:"bugtrack_url"`
	PackageURL             string   `json:"package_url"`
	ProjectURL             string   `json:"project_url"`
	ReleaseURL             string   `json:"release_url"`
	Platform               string   `json:"platform"`
	RequiresDist           []string `json:"requires_dist"`
	RequiresPython         string   `json:"requires_python"`
	Yanked                 bool     `json:"yanked"`
	YankedReason           string   `json:"yanked_reason"`
}

// ReleaseFile is one file of one release.
type ReleaseFile struct {
	Version        string            `json:"-"`
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	PackageType    string            `json:"packagetype"`
	PythonVersion  string            `json:"python_version"`
	RequiresPython string            `json:"requires_python"`
	Size           int64             `json:"size"`
	UploadTime     string            `json:"upload_time_iso_8601"`
	MD5Digest      string            `json:"md5_digest"`
	Digests        map[string]string `json:"digests"`
	HasSig         bool              `json:"has_sig"`
	CommentText    string            `json:"comment_text"`
	Yanked         bool              `json:"yanked"`
	YankedReason   string            `json:"yanked_reason"`
}

type metadataDoc struct {
	LastSerial *int64                   `json:"last_serial"`
	Info       *projectInfo             `json:"info"`
	Releases   map[string][]ReleaseFile `json:"releases"`
}

type projectInfo struct {
	Project
	ProjectURLs map[string]string `json:"project_urls"`
}

// DecodeMetadata decodes a JSON metadata document. Files are ordered by
// version and then filename so repeated decodes are stable.
func DecodeMetadata(body []byte) (*Metadata, error) {
	var doc metadataDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecode, err, "decode metadata document")
	}
	if doc.Info == nil {
		return nil, errors.New(errors.ErrCodeDecode, "metadata document has no info block")
	}

	md := &Metadata{
		Serial:  doc.LastSerial,
		Project: doc.Info.Project,
		URLs:    doc.Info.ProjectURLs,
	}

	versions := make([]string, 0, len(doc.Releases))
	for v := range doc.Releases {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	for _, v := range versions {
		files := doc.Releases[v]
		sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
		for _, f := range files {
			f.Version = v
			md.Files = append(md.Files, f)
		}
	}
	return md, nil
}

// EmbeddedSerial reads only last_serial from a metadata document, for pages
// whose full decode failed.
func EmbeddedSerial(body []byte) *int64 {
	var doc struct {
		LastSerial *int64 `json:"last_serial"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return nil
	}
	return doc.LastSerial
}
