package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/stackctl/internal/backup"
	"github.com/loykin/stackctl/internal/scan"
)

// Defaults applied when the config file omits a value.
const (
	DefaultSettleInterval = 2 * time.Second
	DefaultSystem         = "appstack"
	// PasswordEnv overrides the server backend password from the
	// environment so it can stay out of the config file.
	PasswordEnv = "STACKCTL_DB_PASSWORD"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	System         string          `toml:"system" mapstructure:"system"`
	Ports          []uint32        `toml:"ports" mapstructure:"ports"`
	SettleInterval time.Duration   `toml:"settle_interval" mapstructure:"settle_interval"`
	Processes      ProcessPatterns `toml:"processes" mapstructure:"processes"`
	Database       DatabaseConfig  `toml:"database" mapstructure:"database"`
	Server         ServerConfig    `toml:"server" mapstructure:"server"`
	History        HistoryConfig   `toml:"history" mapstructure:"history"`
	Metrics        MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Log            LogConfig       `toml:"log" mapstructure:"log"`
}

// ProcessPatterns lists command-line substrings per stack component.
type ProcessPatterns struct {
	Web      []string `toml:"web" mapstructure:"web"`
	Pipeline []string `toml:"pipeline" mapstructure:"pipeline"`
	App      []string `toml:"app" mapstructure:"app"`
}

// DatabaseConfig locates the embedded database file and its
// backup/selection companions.
type DatabaseConfig struct {
	Path          string `toml:"path" mapstructure:"path"`
	BackupDir     string `toml:"backup_dir" mapstructure:"backup_dir"`
	SelectionPath string `toml:"selection_path" mapstructure:"selection_path"`
}

// ServerConfig mirrors backup.ServerConfig for TOML parsing.
type ServerConfig struct {
	Host           string `toml:"host" mapstructure:"host"`
	Port           int    `toml:"port" mapstructure:"port"`
	User           string `toml:"user" mapstructure:"user"`
	Password       string `toml:"password" mapstructure:"password"`
	Database       string `toml:"database" mapstructure:"database"`
	DumpCommand    string `toml:"dump_command" mapstructure:"dump_command"`
	RestoreCommand string `toml:"restore_command" mapstructure:"restore_command"`
}

// HistoryConfig selects the audit sink by DSN; empty disables auditing.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig names an optional node_exporter textfile destination.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures the rotating operation log file; stdout logging
// is always on.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Load parses a TOML config file and applies defaults. The server
// password can be supplied via STACKCTL_DB_PASSWORD, which wins over
// the file value.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&fc)
	if pw := os.Getenv(PasswordEnv); pw != "" {
		fc.Server.Password = pw
	}
	if err := fc.Validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func applyDefaults(fc *FileConfig) {
	if strings.TrimSpace(fc.System) == "" {
		fc.System = DefaultSystem
	}
	if fc.SettleInterval <= 0 {
		fc.SettleInterval = DefaultSettleInterval
	}
	if fc.Database.BackupDir == "" && fc.Database.Path != "" {
		fc.Database.BackupDir = "backups"
	}
	if fc.Database.SelectionPath == "" && fc.Database.Path != "" {
		fc.Database.SelectionPath = fc.Database.Path + ".backend.json"
	}
}

// Validate rejects configs the controller cannot act on.
func (fc FileConfig) Validate() error {
	for _, p := range fc.Patterns() {
		if strings.TrimSpace(p.Substr) == "" {
			return fmt.Errorf("empty process pattern in category %s", p.Category)
		}
	}
	for _, port := range fc.Ports {
		if port == 0 || port > 65535 {
			return fmt.Errorf("invalid port %d", port)
		}
	}
	return nil
}

// Patterns flattens the per-category pattern lists into scan patterns.
func (fc FileConfig) Patterns() []scan.Pattern {
	var out []scan.Pattern
	for _, s := range fc.Processes.Web {
		out = append(out, scan.Pattern{Category: scan.CategoryWeb, Substr: s})
	}
	for _, s := range fc.Processes.Pipeline {
		out = append(out, scan.Pattern{Category: scan.CategoryPipeline, Substr: s})
	}
	for _, s := range fc.Processes.App {
		out = append(out, scan.Pattern{Category: scan.CategoryApp, Substr: s})
	}
	return out
}

// ServerBackendConfig converts the parsed server section into the
// backup package's config shape.
func (fc FileConfig) ServerBackendConfig() backup.ServerConfig {
	return backup.ServerConfig{
		Host:           fc.Server.Host,
		Port:           fc.Server.Port,
		User:           fc.Server.User,
		Password:       fc.Server.Password,
		Database:       fc.Server.Database,
		DumpCommand:    fc.Server.DumpCommand,
		RestoreCommand: fc.Server.RestoreCommand,
	}
}
