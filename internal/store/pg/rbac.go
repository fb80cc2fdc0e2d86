package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"craftctrl.dev/internal/auth"
	"craftctrl.dev/internal/ids"
)

type roleStore struct {
	db *sql.DB
}

func (s roleStore) Create(ctx context.Context, role *auth.Role, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into roles (id, name, description, is_system_role, created_at)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.IsSystemRole, role.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, role.ID, pid); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, is_system_role, created_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &desc, &role.IsSystemRole, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		role.Description = desc.String
	}

	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action, coalesce(p.description, ''), p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
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

func (s roleStore) Assign(ctx context.Context, userID, roleID, assignedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_by, assigned_at)
		values ($1, $2, $3, now())
		on conflict (user_id, role_id) do nothing
	`, userID, roleID, nullIfEmpty(assignedBy))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s roleStore) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	return err
}

type permissionStore struct {
	db *sql.DB
}

func (s permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, resource, action, description, created_at)
			values ($1, $2, $3, $4, $5, now())
			on conflict (name) do nothing
		`, id, p.Name, p.Resource, p.Action, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource, action, coalesce(description, ''), created_at
		from permissions
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s permissionStore) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

type grantStore struct {
	db *sql.DB
}

// Action lists are stored as JSON arrays; re-granting replaces the whole set
// via the upsert.
func (s grantStore) upsertGrant(ctx context.Context, table, resourceCol string, g *auth.ResourceGrant) error {
	id := g.ID
	if id == "" {
		id = ids.New()
	}
	actions, err := json.Marshal(g.Actions)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		insert into %s (id, user_id, %s, actions, granted_by, granted_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id, %s) do update
		set actions = excluded.actions, granted_by = excluded.granted_by, granted_at = excluded.granted_at
	`, table, resourceCol, resourceCol)
	if _, err := s.db.ExecContext(ctx, query, id, g.UserID, g.ResourceID, actions, nullIfEmpty(g.GrantedBy), g.GrantedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s grantStore) actionsFor(ctx context.Context, table, resourceCol, userID, resourceID string) ([]string, error) {
	var raw []byte
	query := fmt.Sprintf(`select actions from %s where user_id = $1 and %s = $2`, table, resourceCol)
	err := s.db.QueryRowContext(ctx, query, userID, resourceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var actions []string
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return actions, nil
}

func (s grantStore) actionsByUser(ctx context.Context, table, resourceCol, userID string) (map[string][]string, error) {
	query := fmt.Sprintf(`select %s, actions from %s where user_id = $1`, resourceCol, table)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var (
			resourceID string
			raw        []byte
		)
		if err := rows.Scan(&resourceID, &raw); err != nil {
			return nil, err
		}
		var actions []string
		if err := json.Unmarshal(raw, &actions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		out[resourceID] = actions
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s grantStore) GrantServer(ctx context.Context, g *auth.ResourceGrant) error {
	return s.upsertGrant(ctx, "server_permissions", "server_id", g)
}

func (s grantStore) RevokeServer(ctx context.Context, userID, serverID string) error {
	_, err := s.db.ExecContext(ctx, `delete from server_permissions where user_id = $1 and server_id = $2`, userID, serverID)
	return err
}

func (s grantStore) ServerActions(ctx context.Context, userID, serverID string) ([]string, error) {
	return s.actionsFor(ctx, "server_permissions", "server_id", userID, serverID)
}

func (s grantStore) ServerActionsByUser(ctx context.Context, userID string) (map[string][]string, error) {
	return s.actionsByUser(ctx, "server_permissions", "server_id", userID)
}

func (s grantStore) GrantGroup(ctx context.Context, g *auth.ResourceGrant) error {
	return s.upsertGrant(ctx, "group_permissions", "group_id", g)
}

func (s grantStore) RevokeGroup(ctx context.Context, userID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `delete from group_permissions where user_id = $1 and group_id = $2`, userID, groupID)
	return err
}

func (s grantStore) GroupActions(ctx context.Context, userID, groupID string) ([]string, error) {
	return s.actionsFor(ctx, "group_permissions", "group_id", userID, groupID)
}

func (s grantStore) GroupActionsByUser(ctx context.Context, userID string) (map[string][]string, error) {
	return s.actionsByUser(ctx, "group_permissions", "group_id", userID)
}
