package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- Installed server versions
CREATE TABLE installations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    sha256 TEXT NOT NULL DEFAULT '',
    install_path TEXT NOT NULL,
    installed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX idx_installations_version ON installations(version);

-- Lifecycle state changes, newest last
CREATE TABLE status_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_status_history_created ON status_history(created_at);

-- Resource samples from the running process
CREATE TABLE resource_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pid INTEGER NOT NULL,
    cpu_percent REAL NOT NULL,
    memory_rss INTEGER NOT NULL,
    sampled_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_resource_samples_sampled ON resource_samples(sampled_at);
`,
		Down: `
DROP TABLE resource_samples;
DROP TABLE status_history;
DROP TABLE installations;
`,
	},
	{
		Version: "002_backups",
		Up: `
-- Completed world backups
CREATE TABLE backups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    destination TEXT NOT NULL,
    remote_path TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    triggered_by TEXT NOT NULL DEFAULT 'manual',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX idx_backups_name ON backups(name);
CREATE INDEX idx_backups_created ON backups(created_at);
`,
		Down: `
DROP TABLE backups;
`,
	},
}
