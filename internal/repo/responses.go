package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"auditline/internal/domain"
)

func scanResponse(scan func(dest ...any) error) (domain.Response, error) {
	var r domain.Response
	var answer string
	var notes sql.NullString
	if err := scan(&r.ID, &r.ChecklistID, &r.QuestionID, &answer, &notes, &r.AnsweredAt, &r.AnsweredBy); err != nil {
		return r, err
	}
	r.Answer = domain.Answer(answer)
	if notes.Valid {
		r.Notes = notes.String
	}
	return r, nil
}

// GetResponseTx returns the response for one question of a checklist instance.
func (r Repo) GetResponseTx(ctx context.Context, tx *sql.Tx, checklistID, questionID string) (domain.Response, error) {
	resp, err := scanResponse(r.on(tx).QueryRowContext(ctx, `SELECT id,checklist_id,question_id,answer,notes,answered_at,answered_by
FROM checklist_responses WHERE checklist_id=? AND question_id=?`, checklistID, questionID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, fmt.Errorf("response %s/%s: %w", checklistID, questionID, ErrNotFound)
	}
	return resp, err
}

// UpsertResponse writes the single response for (checklist, question); resubmission overwrites it.
func (r Repo) UpsertResponse(ctx context.Context, tx *sql.Tx, resp domain.Response) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO checklist_responses(id,checklist_id,question_id,answer,notes,answered_at,answered_by) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(checklist_id, question_id) DO UPDATE SET answer=excluded.answer, notes=excluded.notes, answered_at=excluded.answered_at, answered_by=excluded.answered_by`,
		resp.ID, resp.ChecklistID, resp.QuestionID, string(resp.Answer), nullable(resp.Notes), resp.AnsweredAt, resp.AnsweredBy)
	return err
}

func (r Repo) ListResponses(ctx context.Context, checklistID string) ([]domain.Response, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,checklist_id,question_id,answer,notes,answered_at,answered_by
FROM checklist_responses WHERE checklist_id=? ORDER BY answered_at, id`, checklistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Response
	for rows.Next() {
		resp, err := scanResponse(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}

// ChecklistItems pairs every template question of the instance with its response, in question order.
func (r Repo) ChecklistItems(ctx context.Context, tx *sql.Tx, checklistID string) ([]domain.QuestionWithResponse, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT q.id,q.template_id,q.question_order,q.text,q.severity,
r.id,r.answer,r.notes,r.answered_at,r.answered_by
FROM audit_checklists c
JOIN checklist_questions q ON q.template_id=c.template_id
LEFT JOIN checklist_responses r ON r.checklist_id=c.id AND r.question_id=q.id
WHERE c.id=?
ORDER BY q.question_order, q.id`, checklistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionWithResponse
	for rows.Next() {
		var item domain.QuestionWithResponse
		var sev string
		var respID, answer, notes, answeredAt, answeredBy sql.NullString
		if err := rows.Scan(&item.Question.ID, &item.Question.TemplateID, &item.Question.Order, &item.Question.Text, &sev,
			&respID, &answer, &notes, &answeredAt, &answeredBy); err != nil {
			return nil, err
		}
		item.Question.Severity = domain.Severity(sev)
		if respID.Valid {
			item.Response = &domain.Response{
				ID:          respID.String,
				ChecklistID: checklistID,
				QuestionID:  item.Question.ID,
				Answer:      domain.Answer(answer.String),
				Notes:       notes.String,
				AnsweredAt:  answeredAt.String,
				AnsweredBy:  answeredBy.String,
			}
		}
		res = append(res, item)
	}
	return res, rows.Err()
}
