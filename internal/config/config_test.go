package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Supervisor.StopCommand != "stop" {
		t.Errorf("expected default stop command, got %q", cfg.Supervisor.StopCommand)
	}
	if cfg.Supervisor.StartupTimeoutDuration() != 120*time.Second {
		t.Errorf("unexpected startup timeout %v", cfg.Supervisor.StartupTimeoutDuration())
	}
	if cfg.Monitor.Interval != 1 {
		t.Errorf("expected 1s sampling interval, got %d", cfg.Monitor.Interval)
	}
	if !cfg.Supervisor.RequireEULA {
		t.Error("expected EULA requirement on by default")
	}
	if cfg.Backup.Enabled {
		t.Error("expected backups disabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: 0.0.0.0
  port: 9090
supervisor:
  version: "1.21.4"
  stop_command: end
  startup_timeout: 60
  stop_timeout: 10
  console_rules:
    - name: ready
      kind: ready
      pattern: 'Server started'
backup:
  enabled: true
  destination: local
  schedule: "0 3 * * *"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Supervisor.Version != "1.21.4" {
		t.Errorf("expected version 1.21.4, got %q", cfg.Supervisor.Version)
	}
	if cfg.Supervisor.StopCommand != "end" {
		t.Errorf("expected stop command end, got %q", cfg.Supervisor.StopCommand)
	}
	if len(cfg.Supervisor.ConsoleRules) != 1 || cfg.Supervisor.ConsoleRules[0].Kind != "ready" {
		t.Errorf("console rules not loaded: %+v", cfg.Supervisor.ConsoleRules)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Schedule != "0 3 * * *" {
		t.Errorf("backup settings not loaded: %+v", cfg.Backup)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DATABASE_PATH", "/tmp/override.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("JAVA_PATH", "/opt/java/bin/java")
	t.Setenv("INSTALL_DIR", filepath.Join(dir, "servers"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("expected database path override, got %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Supervisor.JavaPath != "/opt/java/bin/java" {
		t.Errorf("expected java path override, got %q", cfg.Supervisor.JavaPath)
	}
	if cfg.Storage.InstallDir != filepath.Join(dir, "servers") {
		t.Errorf("expected install dir override, got %q", cfg.Storage.InstallDir)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Supervisor: SupervisorConfig{StartupTimeout: 120, StopTimeout: 30},
			Monitor:    MonitorConfig{Interval: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero stop timeout", func(c *Config) { c.Supervisor.StopTimeout = 0 }, true},
		{"zero startup timeout", func(c *Config) { c.Supervisor.StartupTimeout = 0 }, true},
		{"zero monitor interval", func(c *Config) { c.Monitor.Interval = 0 }, true},
		{"negative retries", func(c *Config) { c.Installer.MaxRetries = -1 }, true},
		{"negative cpu alert", func(c *Config) { c.Monitor.CPUAlertPercent = -1 }, true},
		{"negative memory alert", func(c *Config) { c.Monitor.MemoryAlertMB = -1 }, true},
		{"tls without certs", func(c *Config) { c.Server.TLS.Enabled = true }, true},
		{"unknown backup destination", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Destination = "ftp"
		}, true},
		{"sftp without host", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Destination = "sftp"
		}, true},
		{"s3 without bucket", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Destination = "s3"
		}, true},
		{"local backup", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Destination = "local"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeStoragePaths(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{},
	}
	cfg.normalizeStoragePaths("/opt/supervisor/configs/config.yaml")

	if cfg.Storage.DataDir != "/opt/supervisor/data" {
		t.Errorf("expected data dir under config root, got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.InstallDir != "/opt/supervisor/data/servers" {
		t.Errorf("expected install dir under data dir, got %q", cfg.Storage.InstallDir)
	}
	if cfg.Storage.BackupDir != "/opt/supervisor/data/backups" {
		t.Errorf("expected backup dir under data dir, got %q", cfg.Storage.BackupDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := &Config{
		Supervisor: SupervisorConfig{Version: "1.20.1", StartupTimeout: 90, StopTimeout: 15},
		Monitor:    MonitorConfig{Interval: 2},
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Supervisor.Version != "1.20.1" {
		t.Errorf("expected saved version back, got %q", loaded.Supervisor.Version)
	}
	if loaded.Supervisor.StartupTimeout != 90 {
		t.Errorf("expected saved startup timeout back, got %d", loaded.Supervisor.StartupTimeout)
	}
}
