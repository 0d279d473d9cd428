package storage

const schemaSQL = `
-- One row per directory node; id is the node's position in the crawl tree
CREATE TABLE IF NOT EXISTS directories (
    id INTEGER PRIMARY KEY,
    parent_id INTEGER REFERENCES directories(id),
    url TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    parser TEXT,
    depth INTEGER NOT NULL,
    finished BOOLEAN NOT NULL DEFAULT 0,
    error BOOLEAN NOT NULL DEFAULT 0
);

-- size is NULL when it could not be determined
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    directory_id INTEGER NOT NULL REFERENCES directories(id),
    url TEXT NOT NULL,
    name TEXT NOT NULL,
    size INTEGER,
    description TEXT
);

CREATE TABLE IF NOT EXISTS crawl_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS http_status (
    code INTEGER PRIMARY KEY,
    count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_directories_parent ON directories(parent_id);
CREATE INDEX IF NOT EXISTS idx_files_directory ON files(directory_id);
CREATE INDEX IF NOT EXISTS idx_files_url ON files(url);
`

// Tables rewritten on every export, children first.
var exportTables = []string{"files", "directories", "crawl_errors", "http_status"}
