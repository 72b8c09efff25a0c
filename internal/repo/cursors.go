package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LoadCursor returns the persisted cursor for a checklist instance.
func (r Repo) LoadCursor(ctx context.Context, checklistID string) (int, bool, error) {
	var pos int
	err := r.DB.QueryRowContext(ctx, `SELECT position FROM cursor_positions WHERE checklist_id=?`, checklistID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

func (r Repo) SaveCursor(ctx context.Context, checklistID string, position int) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cursor_positions(checklist_id,position,updated_at) VALUES (?,?,?)
ON CONFLICT(checklist_id) DO UPDATE SET position=excluded.position, updated_at=excluded.updated_at`,
		checklistID, position, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r Repo) DeleteCursor(ctx context.Context, checklistID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM cursor_positions WHERE checklist_id=?`, checklistID)
	return err
}
