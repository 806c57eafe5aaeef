package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     HTTPConfig       `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Security   SecurityConfig   `yaml:"security" json:"security"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Installer  InstallerConfig  `yaml:"installer" json:"installer"`
	Monitor    MonitorConfig    `yaml:"monitor" json:"monitor"`
	Backup     BackupConfig     `yaml:"backup" json:"backup"`
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	InstallDir string `yaml:"install_dir" json:"install_dir"`
	BackupDir  string `yaml:"backup_dir" json:"backup_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// SecurityConfig contains security settings for the HTTP surface
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// SupervisorConfig contains settings for the supervised server process
type SupervisorConfig struct {
	Version        string       `yaml:"version" json:"version"`
	JavaPath       string       `yaml:"java_path" json:"java_path"`
	JavaArgs       []string     `yaml:"java_args" json:"java_args"`
	ServerJar      string       `yaml:"server_jar" json:"server_jar"`
	ServerArgs     []string     `yaml:"server_args" json:"server_args"`
	StopCommand    string       `yaml:"stop_command" json:"stop_command"`
	StartupTimeout int          `yaml:"startup_timeout" json:"startup_timeout"` // seconds
	StopTimeout    int          `yaml:"stop_timeout" json:"stop_timeout"`       // seconds
	RequireEULA    bool         `yaml:"require_eula" json:"require_eula"`
	ConsoleRules   []RuleConfig `yaml:"console_rules" json:"console_rules"`
}

// RuleConfig is one log classification rule. Rules are evaluated in order
// and the first matching rule wins. An empty list falls back to the
// built-in table.
type RuleConfig struct {
	Name    string `yaml:"name" json:"name"`
	Kind    string `yaml:"kind" json:"kind"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

// InstallerConfig contains settings for resolving and downloading server
// distributions
type InstallerConfig struct {
	ManifestURL  string         `yaml:"manifest_url" json:"manifest_url"`
	Versions     []VersionEntry `yaml:"versions" json:"versions"`
	MaxRetries   int            `yaml:"max_retries" json:"max_retries"`
	RetryBackoff int            `yaml:"retry_backoff" json:"retry_backoff"` // seconds, doubled per attempt
}

// VersionEntry pins a version to a download URL and optional checksum
type VersionEntry struct {
	Version string `yaml:"version" json:"version"`
	URL     string `yaml:"url" json:"url"`
	SHA256  string `yaml:"sha256" json:"sha256"`
}

// MonitorConfig contains resource sampling settings
type MonitorConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	Interval      int  `yaml:"interval" json:"interval"` // seconds
	RetentionDays int  `yaml:"retention_days" json:"retention_days"`

	// Alert thresholds; zero disables the check
	CPUAlertPercent float64 `yaml:"cpu_alert_percent" json:"cpu_alert_percent"`
	MemoryAlertMB   int64   `yaml:"memory_alert_mb" json:"memory_alert_mb"`
}

// BackupConfig contains world backup settings
type BackupConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Schedule       string   `yaml:"schedule" json:"schedule"` // cron expression
	Include        []string `yaml:"include" json:"include"`
	Exclude        []string `yaml:"exclude" json:"exclude"`
	RetentionCount int      `yaml:"retention_count" json:"retention_count"`

	Destination string `yaml:"destination" json:"destination"` // "local", "sftp", "s3"
	Path        string `yaml:"path" json:"path"`

	SFTPHost        string `yaml:"sftp_host" json:"sftp_host"`
	SFTPPort        int    `yaml:"sftp_port" json:"sftp_port"`
	SFTPUsername    string `yaml:"sftp_username" json:"sftp_username"`
	SFTPPassword    string `yaml:"sftp_password" json:"sftp_password"`
	SFTPKeyPath     string `yaml:"sftp_key_path" json:"sftp_key_path"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`

	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Region    string `yaml:"s3_region" json:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key" json:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" json:"s3_secret_key"`
	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint"`
}

// StartupTimeoutDuration returns the startup timeout as a duration
func (s SupervisorConfig) StartupTimeoutDuration() time.Duration {
	return time.Duration(s.StartupTimeout) * time.Second
}

// StopTimeoutDuration returns the graceful stop timeout as a duration
func (s SupervisorConfig) StopTimeoutDuration() time.Duration {
	return time.Duration(s.StopTimeout) * time.Second
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Default configuration
	cfg := &Config{
		Server: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8080,
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Database: DatabaseConfig{
			Path:           "./data/supervisor.db",
			MaxConnections: 25,
		},
		Storage: StorageConfig{
			DataDir:    "./data",
			InstallDir: "./data/servers",
			BackupDir:  "./data/backups",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Supervisor: SupervisorConfig{
			JavaArgs:       []string{"-Xmx2G", "-Xms1G"},
			ServerJar:      "server.jar",
			ServerArgs:     []string{"nogui"},
			StopCommand:    "stop",
			StartupTimeout: 120,
			StopTimeout:    30,
			RequireEULA:    true,
		},
		Installer: InstallerConfig{
			MaxRetries:   3,
			RetryBackoff: 2,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			Interval:      1,
			RetentionDays: 2,
		},
		Backup: BackupConfig{
			Enabled:         false,
			Schedule:        "0 4 * * *",
			Include:         []string{"world"},
			RetentionCount:  7,
			Destination:     "local",
			SFTPPort:        22,
			TrustOnFirstUse: true,
		},
	}

	// Load from config file if it exists
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if installDir := os.Getenv("INSTALL_DIR"); installDir != "" {
		cfg.Storage.InstallDir = installDir
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		cfg.Storage.BackupDir = backupDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if manifestURL := os.Getenv("MANIFEST_URL"); manifestURL != "" {
		cfg.Installer.ManifestURL = manifestURL
	}

	if javaPath := os.Getenv("JAVA_PATH"); javaPath != "" {
		cfg.Supervisor.JavaPath = javaPath
	}

	// Normalize storage paths based on config location
	cfg.normalizeStoragePaths(configPath)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	if c.Supervisor.StopTimeout <= 0 {
		return fmt.Errorf("supervisor stop_timeout must be positive")
	}

	if c.Supervisor.StartupTimeout <= 0 {
		return fmt.Errorf("supervisor startup_timeout must be positive")
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}

	if c.Monitor.CPUAlertPercent < 0 {
		return fmt.Errorf("monitor cpu_alert_percent must not be negative")
	}

	if c.Monitor.MemoryAlertMB < 0 {
		return fmt.Errorf("monitor memory_alert_mb must not be negative")
	}

	if c.Installer.MaxRetries < 0 {
		return fmt.Errorf("installer max_retries must not be negative")
	}

	if c.Backup.Enabled {
		switch c.Backup.Destination {
		case "local", "sftp", "s3":
		default:
			return fmt.Errorf("unsupported backup destination: %s", c.Backup.Destination)
		}
		if c.Backup.Destination == "sftp" && c.Backup.SFTPHost == "" {
			return fmt.Errorf("backup destination is sftp but sftp_host is missing")
		}
		if c.Backup.Destination == "s3" && c.Backup.S3Bucket == "" {
			return fmt.Errorf("backup destination is s3 but s3_bucket is missing")
		}
	}

	return nil
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.InstallDir) == "" {
		c.Storage.InstallDir = filepath.Join(c.Storage.DataDir, "servers")
	}
	c.Storage.InstallDir = resolvePath(c.Storage.InstallDir)

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		c.Storage.BackupDir = filepath.Join(c.Storage.DataDir, "backups")
	}
	c.Storage.BackupDir = resolvePath(c.Storage.BackupDir)

	if strings.TrimSpace(c.Backup.KnownHostsPath) != "" {
		c.Backup.KnownHostsPath = resolvePath(c.Backup.KnownHostsPath)
	}
}
