package local

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odin-security/odin-sync/internal/models"
)

// CreateSession stores a new token pair for a (user, org) pair.
func (s *Store) CreateSession(session *models.Session) error {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO sessions (user_id, org_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.UserID.String(), session.OrgID.String(), session.AccessToken,
		nullString(session.RefreshToken), formatTime(session.ExpiresAt),
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create session id: %w", err)
	}
	session.ID = id
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

// GetActiveSession returns the most recent unexpired session for the user
// and organization. Returns ErrSessionNotFound if none exists.
func (s *Store) GetActiveSession(userID, orgID uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, org_id, access_token, refresh_token, expires_at, created_at, updated_at
		FROM sessions
		WHERE user_id = ? AND org_id = ? AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`, userID.String(), orgID.String(), formatTime(time.Now()))

	return scanSession(row)
}

// UpdateSession replaces the token pair and expiry of an existing session.
func (s *Store) UpdateSession(id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE sessions
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, nullString(refreshToken), formatTime(expiresAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose expiry has passed.
func (s *Store) DeleteExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		session                          models.Session
		userStr, orgStr                  string
		refreshToken                     sql.NullString
		expiresAt, createdAt, updatedAt string
	)
	err := row.Scan(&session.ID, &userStr, &orgStr, &session.AccessToken,
		&refreshToken, &expiresAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if session.UserID, err = uuid.Parse(userStr); err != nil {
		return nil, fmt.Errorf("parse session user id: %w", err)
	}
	if session.OrgID, err = uuid.Parse(orgStr); err != nil {
		return nil, fmt.Errorf("parse session org id: %w", err)
	}
	session.RefreshToken = refreshToken.String
	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

// SetSetting upserts a user-preference key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetSetting returns a setting value, or the empty string when the key was
// never set.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM user_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// GetAllSettings returns every stored setting keyed by name.
func (s *Store) GetAllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM user_settings`)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}
