package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"turfie/internal/config"
)

const backupPrefix = "turfie_"

// BackupService periodically snapshots the live database with VACUUM INTO.
type BackupService struct {
	db  *DB
	cfg config.BackupConfig
	now func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig) *BackupService {
	return &BackupService{db: db, cfg: cfg, now: time.Now}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.db.logger.Info().Msg("backup service disabled")
		return
	}

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.db.logger.Info().Dur("interval", interval).Str("dir", s.cfg.StoragePath).Msg("backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.db.logger.Error().Err(err).Msg("backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes a consistent copy of the database and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.db", backupPrefix, s.now().UTC().Format("20060102_150405.000"))
	target := filepath.Join(s.cfg.StoragePath, name)

	quoted := "'" + strings.ReplaceAll(target, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}

	s.db.logger.Info().Str("path", target).Msg("database backup written")
	return target, nil
}

// CleanupOldBackups removes snapshots older than the retention window, always
// keeping the newest one.
func (s *BackupService) CleanupOldBackups() {
	if s.cfg.RetentionDays <= 0 {
		return
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.db.logger.Error().Err(err).Msg("read backup directory")
		return
	}

	var backups []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			backups = append(backups, e)
		}
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name() < backups[j].Name() })
	if len(backups) > 0 {
		backups = backups[:len(backups)-1]
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, e := range backups {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.StoragePath, e.Name())
		if err := os.Remove(path); err != nil {
			s.db.logger.Warn().Err(err).Str("file", path).Msg("remove old backup")
			continue
		}
		s.db.logger.Info().Str("file", path).Msg("old backup removed")
	}
}
