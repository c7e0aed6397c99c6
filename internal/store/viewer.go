package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/eledia/assessmentreport/internal/model"
)

const viewerColumns = `id, username, display_name, password_hash, role, lms_user_id, active, created_at`

// CreateViewer inserts a new viewer account.
func (s *Store) CreateViewer(ctx context.Context, v model.Viewer) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO {report_viewers} (username, display_name, password_hash, role, lms_user_id, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		v.Username, v.DisplayName, v.PasswordHash, v.Role, v.LMSUserID, v.Active, time.Now(),
	).Scan(&id)
	if err != nil {
		slog.Error("failed to create viewer", "username", v.Username, "error", err)
		return 0, err
	}
	slog.Info("created viewer", "id", id, "username", v.Username, "role", v.Role)
	return id, nil
}

func scanViewer(row interface{ Scan(...any) error }) (*model.Viewer, error) {
	var v model.Viewer
	err := row.Scan(&v.ID, &v.Username, &v.DisplayName, &v.PasswordHash, &v.Role, &v.LMSUserID, &v.Active, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetViewerByUsername returns a viewer by username, or nil if not found.
func (s *Store) GetViewerByUsername(ctx context.Context, username string) (*model.Viewer, error) {
	v, err := scanViewer(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+viewerColumns+` FROM {report_viewers} WHERE username = ?`), username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// GetViewerByID returns a viewer by ID, or nil if not found.
func (s *Store) GetViewerByID(ctx context.Context, id int64) (*model.Viewer, error) {
	v, err := scanViewer(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+viewerColumns+` FROM {report_viewers} WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// ListViewers returns all viewer accounts.
func (s *Store) ListViewers(ctx context.Context) ([]model.Viewer, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+viewerColumns+` FROM {report_viewers} ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var viewers []model.Viewer
	for rows.Next() {
		v, err := scanViewer(rows)
		if err != nil {
			return nil, err
		}
		viewers = append(viewers, *v)
	}
	return viewers, rows.Err()
}

// ToggleViewerActive flips the active flag on a viewer.
func (s *Store) ToggleViewerActive(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE {report_viewers} SET active = NOT active WHERE id = ?`), id)
	return err
}

// ViewerCount returns the total number of viewer accounts.
func (s *Store) ViewerCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM {report_viewers}`)).Scan(&count)
	return count, err
}
