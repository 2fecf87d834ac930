// Package maintenance runs background upkeep for savestated: scheduled
// archives of the data directory and pruning of expired archives.
package maintenance

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix = "savestated-"
	backupSuffix = ".tar.gz"
	backupLayout = "2006-01-02-150405"
	backupHour   = 2
)

// QuiesceFunc runs fn while no store commit is in flight.
type QuiesceFunc func(ctx context.Context, fn func() error) error

// Backup describes one archive in the backup directory.
type Backup struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// Service manages scheduled backups.
type Service struct {
	dataDir   string
	backupDir string
	retention time.Duration
	quiesce   QuiesceFunc
	now       func() time.Time
}

// New creates a maintenance Service archiving dataDir into backupDir.
// quiesce may be nil.
func New(dataDir, backupDir string, retention time.Duration, quiesce QuiesceFunc) *Service {
	if quiesce == nil {
		quiesce = func(_ context.Context, fn func() error) error { return fn() }
	}
	return &Service{
		dataDir:   dataDir,
		backupDir: backupDir,
		retention: retention,
		quiesce:   quiesce,
		now:       time.Now,
	}
}

// BackupDir returns the directory archives are written to.
func (s *Service) BackupDir() string { return s.backupDir }

// Start runs the daily backup loop. Blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for {
		delay := untilNext(s.now(), backupHour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			path, err := s.RunBackupNow(ctx)
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// untilNext returns the time from now to the next occurrence of hour:00.
func untilNext(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// RunBackupNow archives the data directory immediately, prunes expired
// archives and returns the new archive path.
func (s *Service) RunBackupNow(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dest := filepath.Join(s.backupDir, backupPrefix+s.now().Format(backupLayout)+backupSuffix)

	err := s.quiesce(ctx, func() error {
		return writeArchive(dest, s.dataDir, s.backupDir)
	})
	if err != nil {
		return "", err
	}

	pruneOldBackups(s.backupDir, s.retention, s.now())
	return dest, nil
}

// writeArchive writes a gzip-compressed tar of srcDir to dest. Entries under
// skipDir and temporary files are left out.
func writeArchive(dest, srcDir, skipDir string) (err error) {
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	skip, _ := filepath.Abs(skipDir)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, _ := filepath.Abs(path); d.IsDir() && abs == skip {
			return filepath.SkipDir
		}
		if strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil || rel == "." {
			return err
		}
		return addToArchive(tw, path, filepath.ToSlash(rel), d)
	})
	if walkErr != nil {
		return fmt.Errorf("archive %s: %w", srcDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func addToArchive(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !d.IsDir() && !info.Mode().IsRegular() {
		return nil
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if d.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if d.IsDir() {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

// ListBackups returns the archives in dir, oldest first.
func ListBackups(dir string) ([]Backup, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Backup{}, nil
	}
	if err != nil {
		return nil, err
	}

	backups := []Backup{}
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			Created: info.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name < backups[j].Name })
	return backups, nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix)
}

// pruneOldBackups deletes archives in backupDir older than maxAge.
func pruneOldBackups(backupDir string, maxAge time.Duration, now time.Time) {
	if maxAge <= 0 {
		return
	}
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	cutoff := now.Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			} else {
				slog.Info("maintenance: pruned old backup", "file", path)
			}
		}
	}
}
