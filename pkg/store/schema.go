package store

const schema = `
CREATE TABLE IF NOT EXISTS packages (
    name TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    last_serial INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS changelog (
    name TEXT NOT NULL,
    display_name TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    action TEXT NOT NULL,
    serial INTEGER NOT NULL,
    PRIMARY KEY (serial, name, version, action)
);

CREATE TABLE IF NOT EXISTS json_pages (
    name TEXT PRIMARY KEY,
    serial INTEGER,
    serial_source TEXT NOT NULL,
    url TEXT NOT NULL,
    etag TEXT,
    body BLOB,
    fetched_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS simple_pages (
    name TEXT PRIMARY KEY,
    serial INTEGER,
    serial_source TEXT NOT NULL,
    url TEXT NOT NULL,
    etag TEXT,
    body BLOB,
    fetched_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS file_records (
    project TEXT NOT NULL,
    filename TEXT NOT NULL,
    url TEXT NOT NULL,
    requires_python TEXT NOT NULL DEFAULT '',
    hash_algo TEXT NOT NULL DEFAULT '',
    hash_value TEXT NOT NULL DEFAULT '',
    gpg_sig BOOLEAN,
    yanked BOOLEAN NOT NULL DEFAULT 0,
    yank_reason TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (project, filename)
);

CREATE TABLE IF NOT EXISTS projects (
    name TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    last_serial INTEGER,
    version TEXT,
    summary TEXT,
    description TEXT,
    description_content_type TEXT,
    author TEXT,
    author_email TEXT,
    maintainer TEXT,
    maintainer_email TEXT,
    license TEXT,
    keywords TEXT,
    classifiers TEXT,
    home_page TEXT,
    download_url TEXT,
    docs_url TEXT,
    bugtrack_url TEXT,
    package_url TEXT,
    project_url TEXT,
    release_url TEXT,
    platform TEXT,
    requires_dist TEXT,
    requires_python TEXT,
    yanked BOOLEAN NOT NULL DEFAULT 0,
    yanked_reason TEXT
);

CREATE TABLE IF NOT EXISTS project_urls (
    project_name TEXT NOT NULL,
    url_type TEXT NOT NULL,
    url TEXT NOT NULL,
    PRIMARY KEY (project_name, url_type)
);

CREATE TABLE IF NOT EXISTS project_files (
    project_name TEXT NOT NULL,
    version TEXT NOT NULL,
    filename TEXT NOT NULL,
    url TEXT NOT NULL,
    packagetype TEXT,
    python_version TEXT,
    requires_python TEXT,
    size INTEGER,
    upload_time TEXT,
    md5_digest TEXT,
    has_sig BOOLEAN NOT NULL DEFAULT 0,
    comment_text TEXT,
    yanked BOOLEAN NOT NULL DEFAULT 0,
    yanked_reason TEXT,
    PRIMARY KEY (project_name, filename)
);

CREATE TABLE IF NOT EXISTS file_digests (
    project_name TEXT NOT NULL,
    filename TEXT NOT NULL,
    hash_type TEXT NOT NULL,
    hash_value TEXT NOT NULL,
    PRIMARY KEY (project_name, filename, hash_type)
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    status TEXT NOT NULL,
    fetched INTEGER NOT NULL DEFAULT 0,
    not_modified INTEGER NOT NULL DEFAULT 0,
    timed_out INTEGER NOT NULL DEFAULT 0,
    gone INTEGER NOT NULL DEFAULT 0,
    written INTEGER NOT NULL DEFAULT 0,
    discarded INTEGER NOT NULL DEFAULT 0,
    detail TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_changelog_name ON changelog(name);
CREATE INDEX IF NOT EXISTS idx_packages_serial ON packages(last_serial);
CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
`
