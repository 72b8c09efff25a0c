package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"auditline/internal/checklist"
	"auditline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on runs against tx when one is open, otherwise against the pool.
func (r Repo) on(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// Templates

func (r Repo) UpsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO checklist_templates(id,name,category,description,active,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category, description=excluded.description, active=excluded.active`,
		t.ID, t.Name, t.Category, nullable(t.Description), boolInt(t.Active), t.CreatedAt)
	return err
}

// UpsertQuestion keys questions by id; text and severity may change, order may not.
func (r Repo) UpsertQuestion(ctx context.Context, tx *sql.Tx, q domain.Question) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO checklist_questions(id,template_id,question_order,text,severity) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET text=excluded.text, severity=excluded.severity`,
		q.ID, q.TemplateID, q.Order, q.Text, string(q.Severity))
	return err
}

const templateColumns = `t.id,t.name,t.category,COALESCE(t.description,''),t.active,t.created_at,
(SELECT COUNT(*) FROM checklist_questions q WHERE q.template_id=t.id)`

func scanTemplate(scan func(dest ...any) error) (domain.Template, error) {
	var t domain.Template
	var active int
	if err := scan(&t.ID, &t.Name, &t.Category, &t.Description, &active, &t.CreatedAt, &t.QuestionsCount); err != nil {
		return t, err
	}
	t.Active = active != 0
	return t, nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM checklist_templates t WHERE t.id=?`, id)
	t, err := scanTemplate(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTemplates returns active templates, optionally restricted to one category.
func (r Repo) ListTemplates(ctx context.Context, category string) ([]domain.Template, error) {
	clauses := []string{"t.active=1"}
	var args []any
	if category != "" {
		clauses = append(clauses, "t.category=?")
		args = append(args, category)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM checklist_templates t WHERE `+strings.Join(clauses, " AND ")+` ORDER BY t.category, t.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,template_id,question_order,text,severity FROM checklist_questions WHERE template_id=? ORDER BY question_order, id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Question
	for rows.Next() {
		var q domain.Question
		var sev string
		if err := rows.Scan(&q.ID, &q.TemplateID, &q.Order, &q.Text, &sev); err != nil {
			return nil, err
		}
		q.Severity = domain.Severity(sev)
		res = append(res, q)
	}
	return res, rows.Err()
}

// Audits

func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, a domain.Audit) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO audits(id,name,description,status,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Description), string(a.Status), a.CreatedAt)
	return err
}

func (r Repo) getAudit(ctx context.Context, q queryer, id string) (domain.Audit, error) {
	var a domain.Audit
	var status string
	err := q.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),status,created_at FROM audits WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Description, &status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("audit %s: %w", id, ErrNotFound)
	}
	a.Status = domain.AuditStatus(status)
	return a, err
}

func (r Repo) GetAudit(ctx context.Context, id string) (domain.Audit, error) {
	return r.getAudit(ctx, r.DB, id)
}

func (r Repo) GetAuditTx(ctx context.Context, tx *sql.Tx, id string) (domain.Audit, error) {
	return r.getAudit(ctx, tx, id)
}

func (r Repo) ListAudits(ctx context.Context, status string) ([]domain.Audit, error) {
	query := `SELECT id,name,COALESCE(description,''),status,created_at FROM audits`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Audit
	for rows.Next() {
		var a domain.Audit
		var st string
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &st, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = domain.AuditStatus(st)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAuditStatus(ctx context.Context, tx *sql.Tx, id string, status domain.AuditStatus) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE audits SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("audit %s: %w", id, ErrNotFound)
	}
	return nil
}

// Checklist instances

func (r Repo) InsertChecklist(ctx context.Context, tx *sql.Tx, c domain.Checklist) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO audit_checklists(id,audit_id,template_id,status,started_at,started_by,completed_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.AuditID, c.TemplateID, string(c.Status), c.StartedAt, c.StartedBy, nullableStringPtr(c.CompletedAt))
	return err
}

const checklistSelect = `SELECT c.id,c.audit_id,c.template_id,t.name,t.category,c.status,c.started_at,c.started_by,c.completed_at,
(SELECT COUNT(*) FROM checklist_questions q WHERE q.template_id=c.template_id),
(SELECT COUNT(*) FROM checklist_responses r WHERE r.checklist_id=c.id)
FROM audit_checklists c JOIN checklist_templates t ON t.id=c.template_id`

func scanChecklist(scan func(dest ...any) error) (domain.Checklist, error) {
	var c domain.Checklist
	var status string
	var completed sql.NullString
	if err := scan(&c.ID, &c.AuditID, &c.TemplateID, &c.TemplateName, &c.Category, &status, &c.StartedAt, &c.StartedBy, &completed,
		&c.TotalQuestions, &c.AnsweredQuestions); err != nil {
		return c, err
	}
	c.Status = domain.ChecklistStatus(status)
	if completed.Valid {
		v := completed.String
		c.CompletedAt = &v
	}
	c.Progress = checklist.Progress(c.AnsweredQuestions, c.TotalQuestions)
	return c, nil
}

func (r Repo) getChecklist(ctx context.Context, q queryer, id string) (domain.Checklist, error) {
	c, err := scanChecklist(q.QueryRowContext(ctx, checklistSelect+` WHERE c.id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("checklist %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (r Repo) GetChecklist(ctx context.Context, id string) (domain.Checklist, error) {
	return r.getChecklist(ctx, r.DB, id)
}

func (r Repo) GetChecklistTx(ctx context.Context, tx *sql.Tx, id string) (domain.Checklist, error) {
	return r.getChecklist(ctx, tx, id)
}

func (r Repo) ListAuditChecklists(ctx context.Context, auditID string) ([]domain.Checklist, error) {
	rows, err := r.DB.QueryContext(ctx, checklistSelect+` WHERE c.audit_id=? ORDER BY c.started_at, c.id`, auditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Checklist
	for rows.Next() {
		c, err := scanChecklist(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) MarkChecklistCompleted(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE audit_checklists SET status=?, completed_at=? WHERE id=? AND status=?`,
		string(domain.ChecklistCompleted), completedAt, id, string(domain.ChecklistInProgress))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("checklist %s not in progress", id)
	}
	return nil
}

// DeleteChecklist removes the instance and its responses, returning how many responses went with it.
func (r Repo) DeleteChecklist(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	q := r.on(tx)
	res, err := q.ExecContext(ctx, `DELETE FROM checklist_responses WHERE checklist_id=?`, id)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()
	res, err = q.ExecContext(ctx, `DELETE FROM audit_checklists WHERE id=?`, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("checklist %s: %w", id, ErrNotFound)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM cursor_positions WHERE checklist_id=?`, id); err != nil {
		return 0, err
	}
	return removed, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
