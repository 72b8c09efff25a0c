package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC checks backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) ActorHasPermission(ctx context.Context, actorID, perm string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=? LIMIT 1`, actorID, perm).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Require returns ForbiddenError unless the actor holds perm through a role or in granted.
func (s Service) Require(ctx context.Context, actorID string, granted []string, perm string) error {
	for _, p := range granted {
		if p == perm {
			return nil
		}
	}
	ok, err := s.ActorHasPermission(ctx, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
