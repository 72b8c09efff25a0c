package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"auditline/internal/domain"
	"auditline/internal/events"
	"auditline/internal/repo"
)

// GrantRole assigns roleID to actorID, creating the actor when first seen.
func (e Engine) GrantRole(ctx context.Context, actorID, roleID, grantedBy string) error {
	if actorID == "" || roleID == "" {
		return fmt.Errorf("%w: actor and role are required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, repo.ErrNotFound)
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, e.stamp()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	if err := e.append(ctx, tx, events.Record{
		Type: events.RBACRoleGranted, EntityKind: "actor", EntityID: actorID, ActorID: grantedBy,
		Payload: events.EventPayload{"role": roleID},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeRole(ctx context.Context, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.RevokeRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	if err := e.append(ctx, tx, events.Record{
		Type: events.RBACRoleRevoked, EntityKind: "actor", EntityID: actorID, ActorID: revokedBy,
		Payload: events.EventPayload{"role": roleID},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey issues a key for actorID. The plaintext is returned once and never stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	plain, err := repo.GenerateAPIKey()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}
