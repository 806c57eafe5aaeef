package backup

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/events"
)

// fakeServer implements ServerControl for tests
type fakeServer struct {
	mu         sync.Mutex
	running    bool
	installing bool
	path       string
	commands   []string
}

func (f *fakeServer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeServer) Installing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installing
}

func (f *fakeServer) SendCommand(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeServer) InstallPath() string {
	return f.path
}

func writeServerTree(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"world/level.dat":             "level data",
		"world/region/r.0.0.mca":      "region data",
		"world_nether/level.dat":      "nether data",
		"logs/latest.log":             "log chatter",
		"server.properties":           "motd=test",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
}

func TestCreateAndExtractArchive(t *testing.T) {
	source := t.TempDir()
	writeServerTree(t, source)

	archivePath := filepath.Join(t.TempDir(), "test.zip")
	size, err := CreateArchive(source, []string{"world", "world_nether"}, []string{"world/region"}, archivePath)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if size <= 0 {
		t.Fatal("archive reported zero size")
	}

	dest := t.TempDir()
	if err := ExtractArchive(archivePath, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "world", "level.dat"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(data) != "level data" {
		t.Errorf("restored content mismatch: %q", data)
	}

	// Excluded subtree is absent
	if _, err := os.Stat(filepath.Join(dest, "world", "region")); !os.IsNotExist(err) {
		t.Error("excluded path made it into the archive")
	}
	// Entries outside the include list are absent
	if _, err := os.Stat(filepath.Join(dest, "logs")); !os.IsNotExist(err) {
		t.Error("non-included path made it into the archive")
	}
}

func TestCreateArchiveToleratesMissingInclude(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "server.properties"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "test.zip")
	if _, err := CreateArchive(source, []string{"world", "server.properties"}, nil, archivePath); err != nil {
		t.Fatalf("archive failed on missing include: %v", err)
	}
}

func newTestManager(t *testing.T, cfg config.BackupConfig, server ServerControl) (*Manager, *database.DB, *events.Bus) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	bus := events.NewBus()
	m, err := NewManager(cfg, t.TempDir(), db, bus, server)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, db, bus
}

func TestRunBackupStoppedServer(t *testing.T) {
	source := t.TempDir()
	writeServerTree(t, source)
	server := &fakeServer{path: source}

	m, db, bus := newTestManager(t, config.BackupConfig{
		Enabled: true,
		Include: []string{"world"},
	}, server)

	ch, cancel := bus.Subscribe(8)
	defer cancel()

	record, err := m.RunBackup("manual")
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if record == nil || record.SizeBytes <= 0 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Trigger != "manual" {
		t.Errorf("trigger = %s", record.Trigger)
	}

	// Stopped server gets no save commands
	if len(server.commands) != 0 {
		t.Errorf("commands sent to stopped server: %v", server.commands)
	}

	files, err := m.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(files))
	}

	records, err := db.ListBackups()
	if err != nil || len(records) != 1 {
		t.Fatalf("backup not recorded: %v, %d", err, len(records))
	}

	var seen []events.Type
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-ch:
			seen = append(seen, ev.Type)
		case <-timeout:
			t.Fatalf("missing backup events, got %v", seen)
		}
	}
	if seen[0] != events.TypeBackupStarted || seen[1] != events.TypeBackupCompleted {
		t.Errorf("unexpected event order: %v", seen)
	}
}

func TestRunBackupReturnsRecordWhenPersistenceFails(t *testing.T) {
	source := t.TempDir()
	writeServerTree(t, source)
	server := &fakeServer{path: source}

	m, db, _ := newTestManager(t, config.BackupConfig{
		Enabled: true,
		Include: []string{"world"},
	}, server)

	// A dead database must not turn a finished backup into a nil result
	db.Close()

	record, err := m.RunBackup("manual")
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if record == nil {
		t.Fatal("no record returned for a completed backup")
	}
	if record.SizeBytes <= 0 || record.Trigger != "manual" || record.Name == "" {
		t.Errorf("unexpected record: %+v", record)
	}
}

func TestRunBackupPausesSavesWhileRunning(t *testing.T) {
	source := t.TempDir()
	writeServerTree(t, source)
	server := &fakeServer{path: source, running: true}

	m, _, _ := newTestManager(t, config.BackupConfig{
		Enabled: true,
		Include: []string{"world"},
	}, server)

	if _, err := m.RunBackup("manual"); err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	want := []string{"save-off", "save-all", "save-on"}
	if len(server.commands) != len(want) {
		t.Fatalf("commands = %v, want %v", server.commands, want)
	}
	for i, c := range want {
		if server.commands[i] != c {
			t.Errorf("command %d = %s, want %s", i, server.commands[i], c)
		}
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	source := t.TempDir()
	writeServerTree(t, source)
	server := &fakeServer{path: source}

	localDir := t.TempDir()
	m, db, _ := newTestManager(t, config.BackupConfig{
		Enabled:        true,
		Include:        []string{"world"},
		RetentionCount: 2,
		Path:           localDir,
	}, server)

	// Seed three aged archives directly at the destination
	names := []string{"world-20260101-000000.zip", "world-20260102-000000.zip", "world-20260103-000000.zip"}
	for i, name := range names {
		path := filepath.Join(localDir, name)
		if err := os.WriteFile(path, []byte("archive"), 0644); err != nil {
			t.Fatalf("failed to seed archive: %v", err)
		}
		mod := time.Now().Add(time.Duration(i-10) * time.Hour)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("failed to set mtime: %v", err)
		}
		if err := db.RecordBackup(name[:len(name)-4], "local", name, 7, "schedule"); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}

	if err := m.enforceRetention(); err != nil {
		t.Fatalf("retention failed: %v", err)
	}

	files, err := m.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 archives after retention, got %d", len(files))
	}
	for _, f := range files {
		if f.Filename == names[0] {
			t.Error("oldest archive survived retention")
		}
	}
}

func TestRunBackupSkipsWhileInstalling(t *testing.T) {
	server := &fakeServer{path: t.TempDir(), installing: true}
	m, _, _ := newTestManager(t, config.BackupConfig{Enabled: true}, server)

	if _, err := m.RunBackup("schedule"); err == nil {
		t.Fatal("expected backup to be skipped during install")
	}
	if len(server.commands) != 0 {
		t.Errorf("commands sent during install: %v", server.commands)
	}
}

func TestRestoreRejectsRunningServer(t *testing.T) {
	server := &fakeServer{path: t.TempDir(), running: true}
	m, _, _ := newTestManager(t, config.BackupConfig{Enabled: true}, server)

	if err := m.Restore("world-x.zip"); err == nil {
		t.Fatal("expected restore to fail while running")
	}
}
