package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"auditline/internal/domain"
)

// EventFilter narrows event listings; zero values match everything.
type EventFilter struct {
	AuditID    string
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.AuditID != "" {
		clauses = append(clauses, "audit_id=?")
		args = append(args, f.AuditID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

// LatestEventsFrom returns newest-first events with id below cursor (0 = from the top).
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,audit_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,audit_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var auditID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &auditID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.AuditID = auditID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
