package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Device is a registered kiosk.
type Device struct {
	DeviceID  string
	ProjectID *string
	CreatedAt time.Time
}

// UpsertDevice ensures a device record exists and binds it to projectID
// when one is given.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID, projectID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	var project *string
	if projectID != "" {
		project = &projectID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, project_id)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET project_id = EXCLUDED.project_id
	`, deviceID, project)
	return err
}

// GetDevice returns a device, or nil when unknown.
func (r *Repository) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := r.db.QueryRowContext(ctx, `SELECT device_id, project_id, created_at FROM devices WHERE device_id = $1`, deviceID).
		Scan(&d.DeviceID, &d.ProjectID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a live token revoked. It reports whether the
// token was live, so a token can be rotated only once.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND revoked = FALSE AND expires_at > NOW()
	`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
