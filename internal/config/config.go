// Package config loads the Transport Facade's runtime configuration (spec
// §6.4) from a YAML file, applying field defaults and struct validation
// before conversion to core.Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleconn/internal/core"
)

// Default config file search locations, checked in order when no explicit
// path is given.
var searchPaths = []string{
	"./blecentral.yaml",
	"./blecentral.yml",
	"~/.config/blecentral/config.yaml",
	"/etc/blecentral/config.yaml",
}

// File is the on-disk representation of the facade's tunables. Durations
// are expressed in milliseconds so the YAML stays free of Go duration
// syntax; ToCoreConfig converts them.
type File struct {
	LogLevel                  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error" default:"info"`
	ConnectTimeoutMS          int    `yaml:"connect_timeout_ms" validate:"gt=0" default:"10000"`
	ServiceDiscoveryTimeoutMS int    `yaml:"service_discovery_timeout_ms" validate:"gt=0" default:"40000"`
	AutoReconnectTimeoutMS    int    `yaml:"auto_reconnect_timeout_ms" validate:"gt=0" default:"15000"`
	WriteTimeoutMS            int    `yaml:"write_timeout_ms" validate:"gt=0" default:"5000"`
	WritePacingDelayMS        int    `yaml:"write_pacing_delay_ms" validate:"gte=0" default:"0"`
	DataStreamBufferChunks    int    `yaml:"data_stream_buffer_chunks" validate:"gt=0" default:"512"`
	RSSIKeepalivePeriodMS     int    `yaml:"rssi_keepalive_period_ms" validate:"gt=0" default:"15000"`
	PowerOffGraceMS           int    `yaml:"power_off_grace_ms" validate:"gt=0" default:"1000"`
}

// DefaultFile returns a File with every field set to its struct-tag default.
func DefaultFile() *File {
	f := &File{}
	defaults.SetDefaults(f)
	return f
}

// Load reads path, or the first existing file among searchPaths if path is
// empty, applies defaults to any field the file omits, validates the
// result, and falls back to DefaultFile if no file is found anywhere.
func Load(path string) (*File, error) {
	if path != "" {
		return loadFile(path)
	}
	for _, p := range searchPaths {
		if len(p) > 0 && p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}
	return DefaultFile(), nil
}

func loadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	f := &File{}
	defaults.SetDefaults(f)
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(f); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return f, nil
}

func validate(f *File) error {
	return validator.New().Struct(f)
}

// ToCoreConfig converts the on-disk File into a core.Config, leaving the NUS
// identifiers at their fixed runtime values (spec §6.3: not
// externally configurable).
func (f *File) ToCoreConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.ConnectTimeout = time.Duration(f.ConnectTimeoutMS) * time.Millisecond
	cfg.ServiceDiscoveryTimeout = time.Duration(f.ServiceDiscoveryTimeoutMS) * time.Millisecond
	cfg.AutoReconnectTimeout = time.Duration(f.AutoReconnectTimeoutMS) * time.Millisecond
	cfg.WriteTimeout = time.Duration(f.WriteTimeoutMS) * time.Millisecond
	cfg.WritePacingDelay = time.Duration(f.WritePacingDelayMS) * time.Millisecond
	cfg.DataStreamBufferChunks = f.DataStreamBufferChunks
	cfg.RSSIKeepalivePeriod = time.Duration(f.RSSIKeepalivePeriodMS) * time.Millisecond
	cfg.PowerOffGrace = time.Duration(f.PowerOffGraceMS) * time.Millisecond
	return cfg
}

// Logger builds a logrus.Logger at the level named by LogLevel, defaulting
// to info on an unrecognized or empty value.
func (f *File) Logger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	return log
}
