package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/events"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
)

// ErrServerRunning is returned by Restore while the server process is
// alive
var ErrServerRunning = errors.New("cannot restore while the server is running")

// ServerControl is the slice of the supervisor the backup manager
// needs: pause world saves around the archive step and locate the
// server directory
type ServerControl interface {
	Running() bool
	Installing() bool
	SendCommand(command string) error
	InstallPath() string
}

// Manager produces world backups on a schedule or on demand, ships
// them to the configured destination, and enforces the retention
// policy. One backup runs at a time.
type Manager struct {
	cfg    config.BackupConfig
	dest   Destination
	db     *database.DB
	bus    *events.Bus
	server ServerControl
	logger *slog.Logger
	cron   *cron.Cron

	mu sync.Mutex
}

// NewManager creates a backup manager. localDir is the fallback path
// for the local destination.
func NewManager(cfg config.BackupConfig, localDir string, db *database.DB, bus *events.Bus, server ServerControl) (*Manager, error) {
	dest, err := NewDestination(cfg, localDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:    cfg,
		dest:   dest,
		db:     db,
		bus:    bus,
		server: server,
		logger: logging.Component("backup"),
	}, nil
}

// Start installs the cron schedule when backups are enabled
func (m *Manager) Start() error {
	if !m.cfg.Enabled || m.cfg.Schedule == "" {
		return nil
	}

	m.cron = cron.New()
	_, err := m.cron.AddFunc(m.cfg.Schedule, func() {
		if _, err := m.RunBackup("schedule"); err != nil {
			m.logger.Error("scheduled backup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", m.cfg.Schedule, err)
	}

	m.cron.Start()
	m.logger.Info("backup schedule installed", "schedule", m.cfg.Schedule)
	return nil
}

// Stop halts the cron schedule
func (m *Manager) Stop() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}

// RunBackup creates one backup now. trigger is recorded as "manual" or
// "schedule". While the server is running, world saves are flushed and
// paused for the duration of the archive step.
func (m *Manager) RunBackup(trigger string) (*database.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// An install is rewriting the server directory; skip rather than
	// archive a half-written tree
	if m.server.Installing() {
		return nil, fmt.Errorf("server is installing, backup skipped")
	}

	sourceDir := m.server.InstallPath()
	if sourceDir == "" {
		return nil, fmt.Errorf("no server installation to back up")
	}

	name := "world-" + time.Now().Format("20060102-150405")
	filename := name + ".zip"

	m.logger.Info("backup started", "name", name, "trigger", trigger)
	m.bus.Publish(events.TypeBackupStarted, events.BackupPayload{Name: name})

	if m.server.Running() {
		m.pauseSaves()
		defer m.resumeSaves()
	}

	tmpDir, err := os.MkdirTemp("", "backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, filename)
	size, err := CreateArchive(sourceDir, m.cfg.Include, m.cfg.Exclude, archivePath)
	if err != nil {
		m.publishFailure(name, err)
		return nil, err
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		m.publishFailure(name, err)
		return nil, err
	}
	uploadErr := m.dest.Upload(filename, archive, size)
	archive.Close()
	if uploadErr != nil {
		m.publishFailure(name, uploadErr)
		return nil, uploadErr
	}

	if err := m.db.RecordBackup(name, m.dest.Type(), filename, size, trigger); err != nil {
		m.logger.Error("failed to record backup", "error", err)
	}

	m.bus.Publish(events.TypeBackupCompleted, events.BackupPayload{Name: name, Size: size})
	m.logger.Info("backup complete", "name", name, "bytes", size)

	if err := m.enforceRetention(); err != nil {
		m.logger.Warn("retention enforcement failed", "error", err)
	}

	// Prefer the persisted row for its id; the backup itself succeeded
	// even when the lookup cannot find one
	if records, err := m.db.ListBackups(); err == nil {
		for i := range records {
			if records[i].Name == name {
				return &records[i], nil
			}
		}
	}
	return &database.BackupRecord{
		Name:        name,
		Destination: m.dest.Type(),
		RemotePath:  filename,
		SizeBytes:   size,
		Trigger:     trigger,
		CreatedAt:   time.Now(),
	}, nil
}

// Restore extracts a backup archive into the server directory. The
// server must not be running.
func (m *Manager) Restore(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server.Running() {
		return ErrServerRunning
	}

	sourceDir := m.server.InstallPath()
	if sourceDir == "" {
		return fmt.Errorf("no server installation to restore into")
	}

	tmpDir, err := os.MkdirTemp("", "restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, filename)
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	downloadErr := m.dest.Download(filename, out)
	if closeErr := out.Close(); downloadErr == nil {
		downloadErr = closeErr
	}
	if downloadErr != nil {
		return downloadErr
	}

	if err := ExtractArchive(archivePath, sourceDir); err != nil {
		return err
	}

	m.logger.Info("backup restored", "file", filename)
	return nil
}

// List returns the archives at the destination
func (m *Manager) List() ([]File, error) {
	return m.dest.List()
}

// Delete removes one archive and its record
func (m *Manager) Delete(filename string) error {
	if err := m.dest.Delete(filename); err != nil {
		return err
	}
	name := filename
	if ext := filepath.Ext(filename); ext != "" {
		name = filename[:len(filename)-len(ext)]
	}
	return m.db.DeleteBackup(name)
}

// pauseSaves flushes the world to disk and disables autosave so the
// archive sees a consistent tree
func (m *Manager) pauseSaves() {
	for _, command := range []string{"save-off", "save-all"} {
		if err := m.server.SendCommand(command); err != nil {
			m.logger.Warn("failed to send save command", "command", command, "error", err)
			return
		}
	}
	// Give the server a moment to finish flushing
	time.Sleep(2 * time.Second)
}

func (m *Manager) resumeSaves() {
	if !m.server.Running() {
		return
	}
	if err := m.server.SendCommand("save-on"); err != nil {
		m.logger.Warn("failed to re-enable saves", "error", err)
	}
}

func (m *Manager) publishFailure(name string, err error) {
	m.bus.Publish(events.TypeBackupCompleted, events.BackupPayload{Name: name, Error: err.Error()})
}
