package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/matzehuels/pypidata/pkg/pages"
)

func deleteRecords(ctx context.Context, tx *sql.Tx, kind pages.Kind, name string) error {
	var stmts []string
	switch kind {
	case pages.KindSimple:
		stmts = []string{`DELETE FROM file_records WHERE project = ?`}
	case pages.KindJSON:
		stmts = []string{
			`DELETE FROM file_digests WHERE project_name = ?`,
			`DELETE FROM project_files WHERE project_name = ?`,
			`DELETE FROM project_urls WHERE project_name = ?`,
			`DELETE FROM projects WHERE name = ?`,
		}
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return err
		}
	}
	return nil
}

func replaceFileRecords(ctx context.Context, tx *sql.Tx, project string, files []pages.FileRecord) error {
	if err := deleteRecords(ctx, tx, pages.KindSimple, project); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_records (project, filename, url, requires_python, hash_algo, hash_value, gpg_sig, yanked, yank_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, filename) DO UPDATE SET
			url = excluded.url,
			requires_python = excluded.requires_python,
			hash_algo = excluded.hash_algo,
			hash_value = excluded.hash_value,
			gpg_sig = excluded.gpg_sig,
			yanked = excluded.yanked,
			yank_reason = excluded.yank_reason`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		var sig sql.NullBool
		if f.GPGSig != nil {
			sig = sql.NullBool{Bool: *f.GPGSig, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, project, f.Filename, f.URL, f.RequiresPython,
			f.HashAlgo, f.HashValue, sig, f.Yanked, f.YankReason); err != nil {
			return err
		}
	}
	return nil
}

func replaceProject(ctx context.Context, tx *sql.Tx, name string, serial sql.NullInt64, md *pages.Metadata) error {
	if err := deleteRecords(ctx, tx, pages.KindJSON, name); err != nil {
		return err
	}

	p := md.Project
	classifiers, _ := json.Marshal(nonNil(p.Classifiers))
	requires, _ := json.Marshal(nonNil(p.RequiresDist))
	display := p.Name
	if display == "" {
		display = name
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (
			name, display_name, last_serial, version, summary, description, description_content_type,
			author, author_email, maintainer, maintainer_email, license, keywords, classifiers,
			home_page, download_url, docs_url, bugtrack_url, package_url, project_url, release_url,
			platform, requires_dist, requires_python, yanked, yanked_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, display, serial, p.Version, p.Summary, p.Description, p.DescriptionContentType,
		p.Author, p.AuthorEmail, p.Maintainer, p.MaintainerEmail, p.License, p.Keywords, string(classifiers),
		p.HomePage, p.DownloadURL, p.DocsURL, p.BugtrackURL, p.PackageURL, p.ProjectURL, p.ReleaseURL,
		p.Platform, string(requires), p.RequiresPython, p.Yanked, p.YankedReason)
	if err != nil {
		return err
	}

	for label, u := range md.URLs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_urls (project_name, url_type, url) VALUES (?, ?, ?)
			ON CONFLICT(project_name, url_type) DO UPDATE SET url = excluded.url`,
			name, label, u); err != nil {
			return err
		}
	}

	files, err := tx.PrepareContext(ctx, `
		INSERT INTO project_files (
			project_name, version, filename, url, packagetype, python_version, requires_python,
			size, upload_time, md5_digest, has_sig, comment_text, yanked, yanked_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_name, filename) DO UPDATE SET
			version = excluded.version,
			url = excluded.url,
			packagetype = excluded.packagetype,
			python_version = excluded.python_version,
			requires_python = excluded.requires_python,
			size = excluded.size,
			upload_time = excluded.upload_time,
			md5_digest = excluded.md5_digest,
			has_sig = excluded.has_sig,
			comment_text = excluded.comment_text,
			yanked = excluded.yanked,
			yanked_reason = excluded.yanked_reason`)
	if err != nil {
		return err
	}
	defer files.Close()
	digests, err := tx.PrepareContext(ctx, `
		INSERT INTO file_digests (project_name, filename, hash_type, hash_value) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_name, filename, hash_type) DO UPDATE SET hash_value = excluded.hash_value`)
	if err != nil {
		return err
	}
	defer digests.Close()

	for _, f := range md.Files {
		if _, err := files.ExecContext(ctx, name, f.Version, f.Filename, f.URL, f.PackageType, f.PythonVersion,
			f.RequiresPython, f.Size, f.UploadTime, f.MD5Digest, f.HasSig, f.CommentText, f.Yanked, f.YankedReason); err != nil {
			return err
		}
		for algo, v := range f.Digests {
			if _, err := digests.ExecContext(ctx, name, f.Filename, algo, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FileRecords returns the decoded simple-page records of a project in
// filename order.
func (db *DB) FileRecords(ctx context.Context, project string) ([]pages.FileRecord, error) {
	rows, err := db.r.QueryContext(ctx, `
		SELECT filename, url, requires_python, hash_algo, hash_value, gpg_sig, yanked, yank_reason
		FROM file_records WHERE project = ? ORDER BY filename`, project)
	if err != nil {
		return nil, storageErr(err, "read file records for %s", project)
	}
	defer rows.Close()

	var out []pages.FileRecord
	for rows.Next() {
		var f pages.FileRecord
		var sig sql.NullBool
		if err := rows.Scan(&f.Filename, &f.URL, &f.RequiresPython, &f.HashAlgo, &f.HashValue, &sig, &f.Yanked, &f.YankReason); err != nil {
			return nil, storageErr(err, "scan file record")
		}
		if sig.Valid {
			v := sig.Bool
			f.GPGSig = &v
		}
		out = append(out, f)
	}
	return out, storageErr(rows.Err(), "read file records for %s", project)
}

// ProjectSummary is the stored view of a project's metadata.
type ProjectSummary struct {
	Name        string
	DisplayName string
	Version     string
	Summary     string
	URLs        map[string]string
	Files       []pages.ReleaseFile
}

// Project returns the decoded metadata of a project.
func (db *DB) Project(ctx context.Context, name string) (ProjectSummary, bool, error) {
	ps := ProjectSummary{URLs: map[string]string{}}
	var version, summary sql.NullString
	err := db.r.QueryRowContext(ctx,
		`SELECT name, display_name, version, summary FROM projects WHERE name = ?`, name,
	).Scan(&ps.Name, &ps.DisplayName, &version, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectSummary{}, false, nil
	}
	if err != nil {
		return ProjectSummary{}, false, storageErr(err, "read project %s", name)
	}
	ps.Version, ps.Summary = version.String, summary.String

	urls, err := db.r.QueryContext(ctx, `SELECT url_type, url FROM project_urls WHERE project_name = ?`, name)
	if err != nil {
		return ProjectSummary{}, false, storageErr(err, "read project urls for %s", name)
	}
	defer urls.Close()
	for urls.Next() {
		var label, u string
		if err := urls.Scan(&label, &u); err != nil {
			return ProjectSummary{}, false, storageErr(err, "scan project url")
		}
		ps.URLs[label] = u
	}
	if err := urls.Err(); err != nil {
		return ProjectSummary{}, false, storageErr(err, "read project urls for %s", name)
	}

	files, err := db.r.QueryContext(ctx, `
		SELECT f.version, f.filename, f.url, coalesce(f.packagetype, ''), coalesce(f.size, 0), f.yanked,
		       coalesce(d.hash_value, '')
		FROM project_files f
		LEFT JOIN file_digests d ON d.project_name = f.project_name AND d.filename = f.filename AND d.hash_type = 'sha256'
		WHERE f.project_name = ?
		ORDER BY f.version, f.filename`, name)
	if err != nil {
		return ProjectSummary{}, false, storageErr(err, "read project files for %s", name)
	}
	defer files.Close()
	for files.Next() {
		var f pages.ReleaseFile
		var sha string
		if err := files.Scan(&f.Version, &f.Filename, &f.URL, &f.PackageType, &f.Size, &f.Yanked, &sha); err != nil {
			return ProjectSummary{}, false, storageErr(err, "scan project file")
		}
		if sha != "" {
			f.Digests = map[string]string{"sha256": sha}
		}
		ps.Files = append(ps.Files, f)
	}
	return ps, true, storageErr(files.Err(), "read project files for %s", name)
}
