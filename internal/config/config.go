// Package config resolves daemon settings from defaults, an optional TOML
// file, SAVESTATED_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store kinds.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds the savestated daemon configuration.
type Config struct {
	Addr       string
	DataDir    string
	PayloadDir string
	BackupDir  string
	Store      string

	BackupRetention time.Duration
	Backups         bool
	Advertise       bool
	Mock            bool
	Debug           bool

	ActiveGame      string
	SnapshotCommand string
	RestoreCommand  string
}

// DefaultConfig returns a Config with default values. Directories are
// derived from DataDir during Validate.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		Store:           StoreJSON,
		BackupRetention: 90 * 24 * time.Hour,
		Backups:         true,
		Advertise:       true,
	}
}

// DefaultDataDir returns ~/.local/share/savestated, or a relative directory
// if the home directory is unknown.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".local", "share", "savestated")
	}
	return "savestated-data"
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.PayloadDir == "" {
		c.PayloadDir = filepath.Join(c.DataDir, "payloads")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}

	switch c.Store {
	case StoreJSON, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want json, sqlite or memory)", c.Store)
	}

	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Backups && c.BackupRetention <= 0 {
		return fmt.Errorf("backup retention must be positive")
	}
	if !c.Mock && (c.SnapshotCommand == "" || c.RestoreCommand == "") {
		return fmt.Errorf("snapshot-cmd and restore-cmd are required unless --mock is set")
	}
	return nil
}

// Port returns the TCP port of Addr, or 80 when none is given.
func (c *Config) Port() int {
	port := 80
	if i := strings.LastIndex(c.Addr, ":"); i >= 0 && i < len(c.Addr)-1 {
		if p, err := strconv.Atoi(c.Addr[i+1:]); err == nil {
			port = p
		}
	}
	return port
}

// configSetter applies values only when the matching flag was not set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// DurationValue is a pflag.Value accepting the same syntax as the config
// file and environment, so "30d" works on the command line too.
type DurationValue struct {
	d *time.Duration
}

// NewDurationValue sets *p to def and returns a flag value writing into p.
func NewDurationValue(def time.Duration, p *time.Duration) *DurationValue {
	*p = def
	return &DurationValue{d: p}
}

func (v *DurationValue) String() string {
	if v.d == nil {
		return ""
	}
	day := 24 * time.Hour
	if *v.d > 0 && *v.d%day == 0 {
		return strconv.FormatInt(int64(*v.d/day), 10) + "d"
	}
	return v.d.String()
}

func (v *DurationValue) Set(s string) error {
	d, err := parseDuration(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

func (v *DurationValue) Type() string { return "duration" }

// parseDuration accepts time.ParseDuration syntax plus a whole-day suffix
// such as "30d".
func parseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}
