package daemon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ramfs/internal/artifacts"
	"ramfs/internal/common"
)

// getConfigDir returns the config directory path.
// Uses RAMFS_CONFIG_DIR env var if set, otherwise defaults to ~/.ramfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("RAMFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ramfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), "daemon.pid")
}

// LogPath returns the log file path.
// Uses RAMFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/daemon.log.
func LogPath() string {
	if envPath := os.Getenv("RAMFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "daemon.log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), "daemon.lock")
}

// SocketPath returns the control socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), "daemon.sock")
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := SettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.DefaultSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings holds the daemon configuration from settings.yaml. Every field
// can be overridden from the environment.
type Settings struct {
	Listen        string `yaml:"listen" env:"RAMFS_LISTEN"`                   // Server address, host:port
	ShareName     string `yaml:"share_name" env:"RAMFS_SHARE_NAME"`           // SMB share name
	LogLevel      string `yaml:"log_level" env:"RAMFS_LOG_LEVEL"`             // trace, debug, info, warn, error, off
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" env:"RAMFS_LOG_MAX_SIZE_MB"` // Rotate the daemon log at this size
	LogMaxBackups int    `yaml:"log_max_backups" env:"RAMFS_LOG_MAX_BACKUPS"` // Rotated logs to keep
	MaxBytes      int64  `yaml:"max_bytes" env:"RAMFS_MAX_BYTES"`             // Content byte budget, 0 = unlimited
	SeedDir       string `yaml:"seed_dir" env:"RAMFS_SEED_DIR"`               // Host directory copied in at start
	SeedGitignore bool   `yaml:"seed_gitignore" env:"RAMFS_SEED_GITIGNORE"`   // Skip paths matched by .gitignore
	MetricsListen string `yaml:"metrics_listen" env:"RAMFS_METRICS_LISTEN"`   // Prometheus endpoint, empty = off
	Transport     string `yaml:"transport" env:"RAMFS_TRANSPORT"`             // nfs or smb
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = "127.0.0.1:12049"
	}
	if s.ShareName == "" {
		s.ShareName = "ramfs"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogMaxSizeMB <= 0 {
		s.LogMaxSizeMB = 10
	}
	if s.LogMaxBackups < 0 {
		s.LogMaxBackups = 0
	}
	if s.Transport == "" {
		s.Transport = NetFSType()
	}
	s.LogLevel = strings.ToLower(s.LogLevel)
	s.Transport = strings.ToLower(s.Transport)
}

// Validate checks the settings against what this binary can do.
func (s *Settings) Validate() error {
	if s.MaxBytes < 0 {
		return fmt.Errorf("%w: max_bytes must not be negative", common.ErrBadArguments)
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", common.ErrBadArguments, err)
	}
	if s.Transport != NetFSType() {
		return fmt.Errorf("%w: settings ask for %q but this binary serves %q",
			common.ErrTransportMismatch, s.Transport, NetFSType())
	}
	return nil
}

// LogLevelEnabled reports whether logging is on at all.
func (s *Settings) LogLevelEnabled() bool {
	return s.LogLevel != "" && s.LogLevel != "off" && s.LogLevel != "none"
}

// ParseLogLevel maps a settings log level to logrus. "off" and "none" map
// to PanicLevel, which the daemon never logs at.
func ParseLogLevel(level string) (log.Level, error) {
	switch strings.ToLower(level) {
	case "off", "none":
		return log.PanicLevel, nil
	}
	return log.ParseLevel(level)
}

// loadDefaultSettings parses default settings from the embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.DefaultSettings, &settings); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return settings
}

// LoadSettings reads settings.yaml with environment overrides applied.
// Falls back to the embedded defaults (still with overrides) if the file
// doesn't exist.
func LoadSettings() (*Settings, error) {
	settings := loadDefaultSettings()

	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		settings = Settings{}
		if err := cleanenv.ReadConfig(path, &settings); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&settings); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, err
	}

	settings.ApplyDefaults()
	return &settings, nil
}

// SaveSettings writes settings to settings.yaml
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := MarshalSettings(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(SettingsPath(), data, 0600)
}

// MarshalSettings renders settings the way SaveSettings stores them.
func MarshalSettings(settings *Settings) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# ramfs daemon settings\n# See: ramfs settings --help\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
