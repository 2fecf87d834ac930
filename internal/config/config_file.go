package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with TOML-friendly types.
type FileConfig struct {
	Addr            string `toml:"addr"`
	DataDir         string `toml:"data_dir"`
	PayloadDir      string `toml:"payload_dir"`
	BackupDir       string `toml:"backup_dir"`
	Store           string `toml:"store"`
	BackupRetention string `toml:"backup_retention"`
	Backups         *bool  `toml:"backups"`
	Advertise       *bool  `toml:"advertise"`
	Mock            *bool  `toml:"mock"`
	Debug           *bool  `toml:"debug"`
	ActiveGame      string `toml:"active_game"`
	SnapshotCommand string `toml:"snapshot_cmd"`
	RestoreCommand  string `toml:"restore_cmd"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.config/savestated/config.toml, or "" when the
// home directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".config", "savestated", "config.toml")
	}
	return ""
}

// ApplyFileConfig copies file values into cfg, skipping flags in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", fc.Addr, &cfg.Addr)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("payload-dir", fc.PayloadDir, &cfg.PayloadDir)
	s.setString("backup-dir", fc.BackupDir, &cfg.BackupDir)
	s.setString("store", fc.Store, &cfg.Store)
	s.setString("game", fc.ActiveGame, &cfg.ActiveGame)
	s.setString("snapshot-cmd", fc.SnapshotCommand, &cfg.SnapshotCommand)
	s.setString("restore-cmd", fc.RestoreCommand, &cfg.RestoreCommand)

	if err := s.setDuration("backup-retention", fc.BackupRetention, &cfg.BackupRetention); err != nil {
		return err
	}

	s.setBool("backups", fc.Backups, &cfg.Backups)
	s.setBool("advertise", fc.Advertise, &cfg.Advertise)
	s.setBool("mock", fc.Mock, &cfg.Mock)
	s.setBool("debug", fc.Debug, &cfg.Debug)

	return nil
}

// FileExists reports whether a file exists at p.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
