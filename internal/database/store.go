package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Installation is one installed server version
type Installation struct {
	ID          int64     `json:"id"`
	Version     string    `json:"version"`
	URL         string    `json:"url"`
	SHA256      string    `json:"sha256"`
	InstallPath string    `json:"install_path"`
	InstalledAt time.Time `json:"installed_at"`
}

// StatusChange is one recorded lifecycle transition
type StatusChange struct {
	ID        int64     `json:"id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceSample is one persisted CPU/memory observation
type ResourceSample struct {
	ID         int64     `json:"id"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	SampledAt  time.Time `json:"sampled_at"`
}

// BackupRecord is one completed backup
type BackupRecord struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Destination string    `json:"destination"`
	RemotePath  string    `json:"remote_path"`
	SizeBytes   int64     `json:"size_bytes"`
	Trigger     string    `json:"trigger"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordInstallation upserts the installed version
func (db *DB) RecordInstallation(version, url, sha256, installPath string) error {
	_, err := db.Exec(`
		INSERT INTO installations (version, url, sha256, install_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			url = excluded.url,
			sha256 = excluded.sha256,
			install_path = excluded.install_path,
			installed_at = CURRENT_TIMESTAMP`,
		version, url, sha256, installPath)
	if err != nil {
		return fmt.Errorf("failed to record installation: %w", err)
	}
	return nil
}

// GetInstallation returns the installation for a version, or nil if absent
func (db *DB) GetInstallation(version string) (*Installation, error) {
	row := db.QueryRow(`
		SELECT id, version, url, sha256, install_path, installed_at
		FROM installations WHERE version = ?`, version)

	var inst Installation
	err := row.Scan(&inst.ID, &inst.Version, &inst.URL, &inst.SHA256, &inst.InstallPath, &inst.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query installation: %w", err)
	}
	return &inst, nil
}

// ListInstallations returns all installations, newest first
func (db *DB) ListInstallations() ([]Installation, error) {
	rows, err := db.Query(`
		SELECT id, version, url, sha256, install_path, installed_at
		FROM installations ORDER BY installed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer rows.Close()

	var result []Installation
	for rows.Next() {
		var inst Installation
		if err := rows.Scan(&inst.ID, &inst.Version, &inst.URL, &inst.SHA256, &inst.InstallPath, &inst.InstalledAt); err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// DeleteInstallation removes the record for a version
func (db *DB) DeleteInstallation(version string) error {
	_, err := db.Exec("DELETE FROM installations WHERE version = ?", version)
	if err != nil {
		return fmt.Errorf("failed to delete installation: %w", err)
	}
	return nil
}

// RecordStatusChange appends one lifecycle transition
func (db *DB) RecordStatusChange(from, to, reason string) error {
	_, err := db.Exec(`
		INSERT INTO status_history (from_state, to_state, reason)
		VALUES (?, ?, ?)`, from, to, reason)
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

// ListStatusHistory returns the most recent transitions, newest first
func (db *DB) ListStatusHistory(limit int) ([]StatusChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, from_state, to_state, reason, created_at
		FROM status_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var result []StatusChange
	for rows.Next() {
		var sc StatusChange
		if err := rows.Scan(&sc.ID, &sc.FromState, &sc.ToState, &sc.Reason, &sc.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

// RecordResourceSample appends one resource observation
func (db *DB) RecordResourceSample(pid int, cpuPercent float64, memoryRSS uint64) error {
	_, err := db.Exec(`
		INSERT INTO resource_samples (pid, cpu_percent, memory_rss)
		VALUES (?, ?, ?)`, pid, cpuPercent, memoryRSS)
	if err != nil {
		return fmt.Errorf("failed to record resource sample: %w", err)
	}
	return nil
}

// ListResourceSamples returns samples newer than the given time, oldest first
func (db *DB) ListResourceSamples(since time.Time) ([]ResourceSample, error) {
	rows, err := db.Query(`
		SELECT id, pid, cpu_percent, memory_rss, sampled_at
		FROM resource_samples WHERE sampled_at >= ? ORDER BY id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource samples: %w", err)
	}
	defer rows.Close()

	var result []ResourceSample
	for rows.Next() {
		var rs ResourceSample
		if err := rows.Scan(&rs.ID, &rs.PID, &rs.CPUPercent, &rs.MemoryRSS, &rs.SampledAt); err != nil {
			return nil, err
		}
		result = append(result, rs)
	}
	return result, rows.Err()
}

// PruneResourceSamples deletes samples older than the cutoff and returns
// how many rows were removed
func (db *DB) PruneResourceSamples(before time.Time) (int64, error) {
	res, err := db.Exec("DELETE FROM resource_samples WHERE sampled_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune resource samples: %w", err)
	}
	return res.RowsAffected()
}

// RecordBackup appends one completed backup
func (db *DB) RecordBackup(name, destination, remotePath string, sizeBytes int64, trigger string) error {
	_, err := db.Exec(`
		INSERT INTO backups (name, destination, remote_path, size_bytes, triggered_by)
		VALUES (?, ?, ?, ?, ?)`, name, destination, remotePath, sizeBytes, trigger)
	if err != nil {
		return fmt.Errorf("failed to record backup: %w", err)
	}
	return nil
}

// ListBackups returns all recorded backups, newest first
func (db *DB) ListBackups() ([]BackupRecord, error) {
	rows, err := db.Query(`
		SELECT id, name, destination, remote_path, size_bytes, triggered_by, created_at
		FROM backups ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var result []BackupRecord
	for rows.Next() {
		var br BackupRecord
		if err := rows.Scan(&br.ID, &br.Name, &br.Destination, &br.RemotePath, &br.SizeBytes, &br.Trigger, &br.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, br)
	}
	return result, rows.Err()
}

// DeleteBackup removes the record for a backup name
func (db *DB) DeleteBackup(name string) error {
	_, err := db.Exec("DELETE FROM backups WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}
