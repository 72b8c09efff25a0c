package repo

import (
	"context"
	"database/sql"
	"fmt"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO roles(id, description) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET description=excluded.description`, id, nullable(desc))
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id) VALUES (?)`, id)
	return err
}

// ReplaceRolePermissions makes the role's permission set exactly perms.
func (r Repo) ReplaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, perms []string) error {
	q := r.on(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=?`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, p); err != nil {
			return fmt.Errorf("role %s permission %s: %w", roleID, p, err)
		}
	}
	return nil
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("role %s for actor %s: %w", roleID, actorID, ErrNotFound)
	}
	return nil
}

func (r Repo) RoleExists(ctx context.Context, tx *sql.Tx, roleID string) (bool, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE id=?`, roleID).Scan(&n)
	return n > 0, err
}

func (r Repo) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
}

// RoleHolders lists the actors holding roleID.
func (r Repo) RoleHolders(ctx context.Context, roleID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT actor_id FROM actor_roles WHERE role_id=? ORDER BY actor_id`, roleID)
}

func (r Repo) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT rp.permission_id FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? ORDER BY rp.permission_id`, actorID)
}

func (r Repo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
