// Command savestated is the save-state index daemon for an emulator
// front-end. Run with --mock to use an in-memory emulator core.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/deltaemu/savestated/internal/config"
	"github.com/deltaemu/savestated/internal/identity"
)

var exampleUsage = strings.TrimSpace(`
  savestated --mock --game mario
  savestated --store sqlite --snapshot-cmd "emuctl snapshot" --restore-cmd "emuctl restore"
  savestated --config $HOME/.config/savestated/config.toml
`)

func main() {
	cfg := config.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "savestated",
		Short:         "Save-state index daemon for emulator front-ends",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", identity.Version(""), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if err := resolveConfig(&cfg, cfgPath, changed); err != nil {
				return err
			}
			setupLogging(cfg.Debug)
			return run(cmd.Context(), cfg, identity.Version(cfg.DataDir))
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "", "config file (default: ~/.config/savestated/config.toml)")
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory (default: ~/.local/share/savestated)")
	flags.StringVar(&cfg.PayloadDir, "payload-dir", cfg.PayloadDir, "snapshot payload directory (default: <data-dir>/payloads)")
	flags.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "backup archive directory (default: <data-dir>/backups)")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "record store: json, sqlite or memory")
	flags.Var(config.NewDurationValue(cfg.BackupRetention, &cfg.BackupRetention), "backup-retention", "delete backup archives older than this (Go duration or Nd)")
	flags.BoolVar(&cfg.Backups, "backups", cfg.Backups, "archive the data directory daily at 02:00")
	flags.BoolVar(&cfg.Advertise, "advertise", cfg.Advertise, "advertise the API over mDNS")
	flags.BoolVar(&cfg.Mock, "mock", cfg.Mock, "use an in-memory emulator core")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flags.StringVar(&cfg.ActiveGame, "game", cfg.ActiveGame, "game to mark active at startup")
	flags.StringVar(&cfg.SnapshotCommand, "snapshot-cmd", cfg.SnapshotCommand, "command writing a snapshot payload to stdout")
	flags.StringVar(&cfg.RestoreCommand, "restore-cmd", cfg.RestoreCommand, "command reading a snapshot payload from stdin")

	if err := root.Execute(); err != nil {
		slog.Error("savestated failed", "err", err)
		os.Exit(1)
	}
}

// resolveConfig layers the config file and environment under the flags.
func resolveConfig(cfg *config.Config, cfgPath string, changed map[string]bool) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = config.DefaultConfigPath()
	}
	if cfgFile != "" && config.FileExists(cfgFile) {
		fc, err := config.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}

	if err := config.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

func setupLogging(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
