package pg

import (
	"context"
	"database/sql"
	"errors"

	"craftctrl.dev/internal/auth"
)

type resetTokenStore struct {
	db *sql.DB
}

func (s resetTokenStore) Create(ctx context.Context, t *auth.PasswordResetToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into password_reset_tokens (token, user_id, used, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, t.Token, t.UserID, t.Used, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

// Find only returns tokens that are unused and unexpired.
func (s resetTokenStore) Find(ctx context.Context, token string) (*auth.PasswordResetToken, error) {
	var t auth.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		select token, user_id, used, expires_at, created_at
		from password_reset_tokens
		where token = $1 and used = false and expires_at > now()
	`, token).Scan(&t.Token, &t.UserID, &t.Used, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s resetTokenStore) MarkUsed(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `update password_reset_tokens set used = true where token = $1`, token)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// LatestForUser feeds the request cooldown, so it deliberately counts used
// and expired tokens too.
func (s resetTokenStore) LatestForUser(ctx context.Context, userID string) (*auth.PasswordResetToken, error) {
	var t auth.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		select token, user_id, used, expires_at, created_at
		from password_reset_tokens
		where user_id = $1
		order by created_at desc
		limit 1
	`, userID).Scan(&t.Token, &t.UserID, &t.Used, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
