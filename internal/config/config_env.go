package config

import "os"

// ApplyEnvConfig applies SAVESTATED_* environment variables, skipping flags
// in changed. It runs after ApplyFileConfig so the environment wins over the
// file.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", os.Getenv("SAVESTATED_ADDR"), &cfg.Addr)
	s.setString("data-dir", os.Getenv("SAVESTATED_DATA_DIR"), &cfg.DataDir)
	s.setString("payload-dir", os.Getenv("SAVESTATED_PAYLOAD_DIR"), &cfg.PayloadDir)
	s.setString("backup-dir", os.Getenv("SAVESTATED_BACKUP_DIR"), &cfg.BackupDir)
	s.setString("store", os.Getenv("SAVESTATED_STORE"), &cfg.Store)
	s.setString("game", os.Getenv("SAVESTATED_GAME"), &cfg.ActiveGame)
	s.setString("snapshot-cmd", os.Getenv("SAVESTATED_SNAPSHOT_CMD"), &cfg.SnapshotCommand)
	s.setString("restore-cmd", os.Getenv("SAVESTATED_RESTORE_CMD"), &cfg.RestoreCommand)

	if err := s.setDuration("backup-retention", os.Getenv("SAVESTATED_BACKUP_RETENTION"), &cfg.BackupRetention); err != nil {
		return err
	}

	s.setBoolFromString("backups", os.Getenv("SAVESTATED_BACKUPS"), &cfg.Backups)
	s.setBoolFromString("advertise", os.Getenv("SAVESTATED_ADVERTISE"), &cfg.Advertise)
	s.setBoolFromString("mock", os.Getenv("SAVESTATED_MOCK"), &cfg.Mock)
	s.setBoolFromString("debug", os.Getenv("SAVESTATED_DEBUG"), &cfg.Debug)

	return nil
}
