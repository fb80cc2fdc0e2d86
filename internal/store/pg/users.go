package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"craftctrl.dev/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, username, coalesce(email, ''), password_hash, is_active, is_super_admin,
	change_password, two_factor_enabled, coalesce(two_factor_secret, ''), created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsSuperAdmin,
		&u.ChangePassword, &u.TwoFactorEnabled, &u.TwoFactorSecret, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, is_active, is_super_admin,
			change_password, two_factor_enabled, two_factor_secret, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Username, nullIfEmpty(u.Email), u.PasswordHash, u.IsActive, u.IsSuperAdmin,
		u.ChangePassword, u.TwoFactorEnabled, nullIfEmpty(u.TwoFactorSecret), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`, username)
	return scanUser(row)
}

func (s userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.Email != nil {
		add("email", nullIfEmpty(*upd.Email))
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.ChangePassword != nil {
		add("change_password", *upd.ChangePassword)
	}
	if upd.TwoFactorEnabled != nil {
		add("two_factor_enabled", *upd.TwoFactorEnabled)
	}
	if upd.TwoFactorSecret != nil {
		add("two_factor_secret", nullIfEmpty(*upd.TwoFactorSecret))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, auth.ErrConflict
			}
			return nil, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return s.Find(ctx, id)
}

func (s userStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

func (s userStore) List(ctx context.Context, opts auth.ListUsersOptions) ([]*auth.User, int, error) {
	var (
		where string
		args  []any
	)
	if opts.Search != "" {
		where = `where username ilike $1 or email ilike $1`
		args = append(args, "%"+opts.Search+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (opts.Page - 1) * opts.Limit
	query := fmt.Sprintf(`select %s from users %s order by username limit $%d offset $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
