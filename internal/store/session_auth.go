package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/eledia/assessmentreport/internal/model"
)

// Viewer logins are rows in {report_auth_sessions}, keyed by a random token
// that doubles as the cookie value. Times are stored in UTC so that the
// cleanup query can compare them as text on sqlite.

const sessionLifetime = 12 * time.Hour

func newSessionToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// CreateAuthSession logs viewerID in and returns the session token.
func (s *Store) CreateAuthSession(ctx context.Context, viewerID int64) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	created := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO {report_auth_sessions} (id, viewer_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		token, viewerID, created, created.Add(sessionLifetime),
	); err != nil {
		return "", fmt.Errorf("insert session for viewer %d: %w", viewerID, err)
	}
	return token, nil
}

// GetAuthSession resolves a token. Unknown and expired tokens give nil, nil;
// an expired row is dropped on the way out.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	if token == "" {
		return nil, nil
	}
	sess := &model.AuthSession{}
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, viewer_id, created_at, expires_at FROM {report_auth_sessions} WHERE id = ?`), token,
	).Scan(&sess.ID, &sess.ViewerID, &sess.CreatedAt, &sess.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	case !sess.ExpiresAt.After(time.Now()):
		return nil, s.DeleteAuthSession(ctx, token)
	}
	return sess, nil
}

// DeleteAuthSession logs a token out. Unknown tokens are not an error.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM {report_auth_sessions} WHERE id = ?`), token)
	return err
}

// CleanupExpiredSessions purges expired sessions and returns how many rows
// went.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM {report_auth_sessions} WHERE expires_at <= ?`), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
