package logger

import (
	"os"
	"strconv"
)

// Config holds logging configuration. It is read from the logging section
// of the bridge configuration file.
type Config struct {
	Level          string `yaml:"level"`
	ConsoleEnabled bool   `yaml:"console_enabled"`
	ConsoleFormat  string `yaml:"console_format"`
	FileEnabled    bool   `yaml:"file_enabled"`
	FilePath       string `yaml:"file_path"`
	FileFormat     string `yaml:"file_format"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
	FileCompress   bool   `yaml:"file_compress"`
}

// DefaultConfig returns console-only INFO logging.
func DefaultConfig() Config {
	return Config{
		Level:          "INFO",
		ConsoleEnabled: true,
		ConsoleFormat:  "text",
		FileEnabled:    false,
		FilePath:       "logs/bridge.log",
		FileFormat:     "text",
		FileMaxSizeMB:  10,
		FileMaxBackups: 5,
		FileMaxAgeDays: 30,
	}
}

// ApplyEnv overrides configuration values from BRIDGE_LOG_* environment
// variables. Unparseable values are ignored.
func (c *Config) ApplyEnv() {
	if level := os.Getenv("BRIDGE_LOG_LEVEL"); level != "" {
		c.Level = level
	}

	if format := os.Getenv("BRIDGE_LOG_CONSOLE_FORMAT"); format != "" {
		c.ConsoleFormat = format
	}

	if fileEnabled := os.Getenv("BRIDGE_LOG_FILE_ENABLED"); fileEnabled != "" {
		if enabled, err := strconv.ParseBool(fileEnabled); err == nil {
			c.FileEnabled = enabled
		}
	}

	if filePath := os.Getenv("BRIDGE_LOG_FILE_PATH"); filePath != "" {
		c.FilePath = filePath
	}
}

// fillDefaults replaces zero numeric and string values with defaults, so a
// partially written logging section still yields a usable config.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.ConsoleFormat == "" {
		c.ConsoleFormat = d.ConsoleFormat
	}
	if c.FilePath == "" {
		c.FilePath = d.FilePath
	}
	if c.FileFormat == "" {
		c.FileFormat = d.FileFormat
	}
	if c.FileMaxSizeMB <= 0 {
		c.FileMaxSizeMB = d.FileMaxSizeMB
	}
	if c.FileMaxBackups <= 0 {
		c.FileMaxBackups = d.FileMaxBackups
	}
	if c.FileMaxAgeDays <= 0 {
		c.FileMaxAgeDays = d.FileMaxAgeDays
	}
}
