package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	AuditCreated                = "audit.created"
	AuditStatusChanged          = "audit.status_changed"
	ChecklistStarted            = "checklist.started"
	ChecklistCompleted          = "checklist.completed"
	ChecklistCompletionRejected = "checklist.completion_rejected"
	ChecklistDeleted            = "checklist.deleted"
	ResponseRecorded            = "response.recorded"
	ResponseOverwritten         = "response.overwritten"
	TemplateSeeded              = "template.seeded"
	RBACRoleGranted             = "rbac.role_granted"
	RBACRoleRevoked             = "rbac.role_revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is one row to append.
type Record struct {
	Type       string
	AuditID    string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Append writes an event inside the caller's transaction so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := rec.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := rec.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,audit_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullable(rec.AuditID), rec.EntityKind, nullable(rec.EntityID), actor, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", rec.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
