package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// SettingNewsSyncEnabled gates the scheduled queue sync.
const SettingNewsSyncEnabled = "news_sync_enabled"

// GetSetting returns a system setting, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a system setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strings.TrimSpace(value), s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SyncEnabled reports whether scheduled queue sync is on. Read failures
// count as enabled so a settings problem never stalls the pipeline.
func (s *Store) SyncEnabled(ctx context.Context) bool {
	v, err := s.GetSetting(ctx, SettingNewsSyncEnabled)
	if err != nil || v == "" {
		return true
	}
	return strings.EqualFold(v, "true")
}

// SetSyncEnabled turns scheduled queue sync on or off.
func (s *Store) SetSyncEnabled(ctx context.Context, enabled bool) error {
	return s.SetSetting(ctx, SettingNewsSyncEnabled, strconv.FormatBool(enabled))
}
