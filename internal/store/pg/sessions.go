package pg

import (
	"context"
	"database/sql"
	"errors"

	"craftctrl.dev/internal/auth"
)

type sessionStore struct {
	db *sql.DB
}

func (s sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_sessions (id, user_id, refresh_token, expires_at, user_agent, ip_address, created_at, last_active_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.UserID, sess.RefreshToken, sess.ExpiresAt,
		nullIfEmpty(sess.UserAgent), nullIfEmpty(sess.IPAddress), sess.CreatedAt, sess.LastActiveAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, refresh_token, expires_at, coalesce(user_agent, ''), coalesce(ip_address, ''), created_at, last_active_at
		from user_sessions
		where id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.RefreshToken, &sess.ExpiresAt,
		&sess.UserAgent, &sess.IPAddress, &sess.CreatedAt, &sess.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RotateRefreshToken is a single compare-and-swap update: concurrent refreshes
// with the same old token race for the row and exactly one wins.
func (s sessionStore) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	res, err := s.db.ExecContext(ctx, `
		update user_sessions
		set refresh_token = $3, last_active_at = now()
		where id = $1 and refresh_token = $2
	`, id, oldToken, newToken)
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

func (s sessionStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `update user_sessions set last_active_at = now() where id = $1`, id)
	return err
}

func (s sessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from user_sessions where id = $1`, id)
	return err
}

func (s sessionStore) DeleteAllForUser(ctx context.Context, userID, excludeID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_sessions
		where user_id = $1 and id != $2
	`, userID, excludeID)
	return err
}

func (s sessionStore) ListForUser(ctx context.Context, userID string) ([]auth.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, coalesce(user_agent, ''), coalesce(ip_address, ''), created_at, last_active_at, expires_at,
			expires_at > now() as is_active
		from user_sessions
		where user_id = $1
		order by last_active_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.SessionInfo
	for rows.Next() {
		var info auth.SessionInfo
		if err := rows.Scan(&info.ID, &info.UserID, &info.UserAgent, &info.IPAddress,
			&info.CreatedAt, &info.LastActiveAt, &info.ExpiresAt, &info.IsActive); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type tempSessionStore struct {
	db *sql.DB
}

func (s tempSessionStore) Create(ctx context.Context, ts *auth.TempSession) error {
	_, err := s.db.ExecContext(ctx, `
		insert into temp_sessions (token, user_id, kind, user_agent, ip_address, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, ts.Token, ts.UserID, string(ts.Kind), nullIfEmpty(ts.UserAgent), nullIfEmpty(ts.IPAddress), ts.ExpiresAt, ts.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

// Find enforces expiry in the predicate, so an expired row is identical to a
// missing one.
func (s tempSessionStore) Find(ctx context.Context, token string) (*auth.TempSession, error) {
	var (
		ts   auth.TempSession
		kind string
	)
	err := s.db.QueryRowContext(ctx, `
		select token, user_id, kind, coalesce(user_agent, ''), coalesce(ip_address, ''), expires_at, created_at
		from temp_sessions
		where token = $1 and expires_at > now()
	`, token).Scan(&ts.Token, &ts.UserID, &kind, &ts.UserAgent, &ts.IPAddress, &ts.ExpiresAt, &ts.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ts.Kind = auth.TempSessionKind(kind)
	return &ts, nil
}

func (s tempSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from temp_sessions where token = $1`, token)
	return err
}
