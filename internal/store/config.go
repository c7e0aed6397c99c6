package store

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SetConfig upserts an LMS configuration value.
func (s *Store) SetConfig(ctx context.Context, name, value string) error {
	if s.driver != DriverSQLite {
		return ErrReadOnlyLMS
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO {config} (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`),
		name, value,
	)
	return err
}

// GetConfig returns an LMS configuration value.
// Returns empty string and nil error if the name is missing.
func (s *Store) GetConfig(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM {config} WHERE name = ?`), name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SiteAdminIDs returns the ids of the site administrators.
func (s *Store) SiteAdminIDs(ctx context.Context) (map[int64]bool, error) {
	value, err := s.GetConfig(ctx, "siteadmins")
	if err != nil {
		return nil, err
	}
	admins := make(map[int64]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed siteadmins entry", "value", part)
			continue
		}
		admins[id] = true
	}
	return admins, nil
}

// SetSiteAdminIDs replaces the list of site administrators.
func (s *Store) SetSiteAdminIDs(ctx context.Context, ids []int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return s.SetConfig(ctx, "siteadmins", strings.Join(parts, ","))
}

// GetImportedFileHash returns the hash recorded for an imported snapshot file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT hash FROM {report_imported_files} WHERE path = ?`), path,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported snapshot file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO {report_imported_files} (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`),
		path, hash, time.Now(),
	)
	return err
}
