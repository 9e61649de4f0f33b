package logger

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnvConfig is the logger setup read from LOG_* variables before the
// application config exists.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // overrides every other sink when set
	ServiceName string
	Environment string // "local" keeps logs on stdout only

	// LogFile defaults to <LogDir>/<ServiceName>.log so binaries sharing a
	// host never rotate each other's files.
	LogFile     string
	LogDir      string
	LogFileOnly bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var envDefaults = map[string]interface{}{
	"log_level":       "info",
	"log_format":      "json",
	"service_name":    "ecosync",
	"app_env":         "local",
	"log_dir":         "/var/log/ecosync",
	"log_file_only":   false,
	"log_max_size":    100,
	"log_max_backups": 7,
	"log_max_age":     30,
	"log_compress":    true,
}

// LoadFromEnv reads the logger variables, falling back to envDefaults for
// anything unset or empty.
func LoadFromEnv() *EnvConfig {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range envDefaults {
		v.SetDefault(key, val)
	}

	return &EnvConfig{
		Level:       strings.ToLower(v.GetString("log_level")),
		Format:      strings.ToLower(v.GetString("log_format")),
		ServiceName: v.GetString("service_name"),
		Environment: strings.ToLower(v.GetString("app_env")),
		LogFile:     v.GetString("log_file"),
		LogDir:      v.GetString("log_dir"),
		LogFileOnly: v.GetBool("log_file_only"),
		MaxSizeMB:   v.GetInt("log_max_size"),
		MaxBackups:  v.GetInt("log_max_backups"),
		MaxAgeDays:  v.GetInt("log_max_age"),
		Compress:    v.GetBool("log_compress"),
	}
}

func (e *EnvConfig) local() bool {
	return e.Environment == "" || e.Environment == "local"
}

func (e *EnvConfig) logFilePath() string {
	if e.LogFile != "" {
		return e.LogFile
	}
	if e.LogDir == "" || e.ServiceName == "" {
		return ""
	}
	return filepath.Join(e.LogDir, e.ServiceName+".log")
}

// fileSink returns the rotated log file, or nil when logs stay on stdout.
func (e *EnvConfig) fileSink() *lumberjack.Logger {
	if e.local() {
		return nil
	}
	path := e.logFilePath()
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    e.MaxSizeMB,
		MaxBackups: e.MaxBackups,
		MaxAge:     e.MaxAgeDays,
		Compress:   e.Compress,
	}
}

// writesStdout reports whether stdout stays a sink.
func (e *EnvConfig) writesStdout(hasFile bool) bool {
	return !hasFile || !e.LogFileOnly
}
