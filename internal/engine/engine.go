package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"auditline/internal/checklist"
	"auditline/internal/config"
	"auditline/internal/domain"
	"auditline/internal/engine/auth"
	"auditline/internal/events"
	"auditline/internal/repo"
)

// questionNamespace derives stable question ids from template id and order.
var questionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("auditline/questions"))

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) append(ctx context.Context, tx *sql.Tx, rec events.Record) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, rec)
}

// QuestionID returns the stable id of the question at order within template.
func QuestionID(templateID string, order int) string {
	return uuid.NewSHA1(questionNamespace, []byte(templateID+"|"+strconv.Itoa(order))).String()
}

// Bootstrap seeds the template catalog and roles from config and makes actorID an owner.
func (e Engine) Bootstrap(ctx context.Context, actorID string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.stamp()
	if err := e.seedTemplates(ctx, tx, now, actorID); err != nil {
		return err
	}
	for _, perm := range config.KnownPermissions {
		if err := e.Repo.InsertPermission(ctx, tx, perm); err != nil {
			return fmt.Errorf("seed permission %s: %w", perm, err)
		}
	}
	for roleID, role := range e.Config.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return fmt.Errorf("seed role %s: %w", roleID, err)
		}
		if err := e.Repo.ReplaceRolePermissions(ctx, tx, roleID, role.Permissions); err != nil {
			return err
		}
	}
	if actorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return fmt.Errorf("ensure actor: %w", err)
		}
		if _, ok := e.Config.RBAC.Roles["owner"]; ok {
			if err := e.Repo.AssignRole(ctx, tx, actorID, "owner"); err != nil {
				return fmt.Errorf("assign owner: %w", err)
			}
		}
	}
	return tx.Commit()
}

// seedTemplates upserts every configured template and deactivates the ones no longer configured.
func (e Engine) seedTemplates(ctx context.Context, tx *sql.Tx, now, actorID string) error {
	configured := map[string]struct{}{}
	for _, tc := range e.Config.Templates {
		configured[tc.ID] = struct{}{}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM checklist_templates WHERE id=?`, tc.ID).Scan(&exists); err != nil {
			return err
		}
		if err := e.Repo.UpsertTemplate(ctx, tx, domain.Template{
			ID:          tc.ID,
			Name:        tc.Name,
			Category:    tc.Category,
			Description: tc.Description,
			Active:      true,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("seed template %s: %w", tc.ID, err)
		}
		for i, qc := range tc.Questions {
			sev, err := domain.ParseSeverity(qc.Severity)
			if err != nil {
				return fmt.Errorf("template %s: %w", tc.ID, err)
			}
			q := domain.Question{
				ID:         QuestionID(tc.ID, i+1),
				TemplateID: tc.ID,
				Order:      i + 1,
				Text:       qc.Text,
				Severity:   sev,
			}
			if err := e.Repo.UpsertQuestion(ctx, tx, q); err != nil {
				return fmt.Errorf("seed question %d of %s: %w", i+1, tc.ID, err)
			}
		}
		if exists == 0 {
			if err := e.append(ctx, tx, events.Record{
				Type: events.TemplateSeeded, EntityKind: "template", EntityID: tc.ID, ActorID: actorID,
				Payload: events.EventPayload{"name": tc.Name, "category": tc.Category, "questions": len(tc.Questions)},
			}); err != nil {
				return err
			}
		}
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM checklist_templates WHERE active=1`)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := configured[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `UPDATE checklist_templates SET active=0 WHERE id=?`, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateAuditOptions are parameters for creating an audit.
type CreateAuditOptions struct {
	ID          string
	Name        string
	Description string
	ActorID     string
}

func (e Engine) CreateAudit(ctx context.Context, opts CreateAuditOptions) (domain.Audit, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Audit{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	a := domain.Audit{
		ID:          id,
		Name:        name,
		Description: opts.Description,
		Status:      domain.AuditCreated,
		CreatedAt:   e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Audit{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAudit(ctx, tx, a); err != nil {
		return domain.Audit{}, fmt.Errorf("insert audit: %w", err)
	}
	if err := e.append(ctx, tx, events.Record{
		Type: events.AuditCreated, AuditID: a.ID, EntityKind: "audit", EntityID: a.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"name": a.Name, "status": a.Status},
	}); err != nil {
		return domain.Audit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Audit{}, err
	}
	return a, nil
}

func ensureAuditTransition(oldStatus, newStatus domain.AuditStatus) error {
	switch oldStatus {
	case domain.AuditCreated:
		if newStatus == domain.AuditInProgress {
			return nil
		}
	case domain.AuditInProgress:
		if newStatus == domain.AuditCompleted {
			return nil
		}
	}
	return fmt.Errorf("invalid audit status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) transitionAudit(ctx context.Context, tx *sql.Tx, a domain.Audit, to domain.AuditStatus, actorID string) error {
	if err := ensureAuditTransition(a.Status, to); err != nil {
		return err
	}
	if err := e.Repo.UpdateAuditStatus(ctx, tx, a.ID, to); err != nil {
		return err
	}
	return e.append(ctx, tx, events.Record{
		Type: events.AuditStatusChanged, AuditID: a.ID, EntityKind: "audit", EntityID: a.ID, ActorID: actorID,
		Payload: events.EventPayload{"from": a.Status, "to": to},
	})
}

// StartChecklistOptions are parameters for starting a checklist instance.
type StartChecklistOptions struct {
	AuditID    string
	TemplateID string
	ActorID    string
}

// StartChecklist creates an In_Progress checklist for the audit bound to the template's questions.
func (e Engine) StartChecklist(ctx context.Context, opts StartChecklistOptions) (domain.Checklist, error) {
	if opts.AuditID == "" || opts.TemplateID == "" {
		return domain.Checklist{}, fmt.Errorf("%w: audit_id and template_id are required", ErrInvalidInput)
	}
	tpl, err := e.Repo.GetTemplate(ctx, opts.TemplateID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if !tpl.Active {
		return domain.Checklist{}, fmt.Errorf("%w: template %s is inactive", ErrInvalidInput, tpl.ID)
	}
	if tpl.QuestionsCount == 0 {
		return domain.Checklist{}, fmt.Errorf("%w: template %s has no questions", ErrInvalidInput, tpl.ID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Checklist{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAuditTx(ctx, tx, opts.AuditID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if a.Status == domain.AuditCompleted {
		return domain.Checklist{}, fmt.Errorf("audit %s: %w", a.ID, ErrAuditCompleted)
	}
	c := domain.Checklist{
		ID:         uuid.NewString(),
		AuditID:    a.ID,
		TemplateID: tpl.ID,
		Status:     domain.ChecklistInProgress,
		StartedAt:  e.stamp(),
		StartedBy:  actorOrSystem(opts.ActorID),
	}
	if err := e.Repo.InsertChecklist(ctx, tx, c); err != nil {
		return domain.Checklist{}, fmt.Errorf("insert checklist: %w", err)
	}
	if a.Status == domain.AuditCreated {
		if err := e.transitionAudit(ctx, tx, a, domain.AuditInProgress, opts.ActorID); err != nil {
			return domain.Checklist{}, err
		}
	}
	if err := e.append(ctx, tx, events.Record{
		Type: events.ChecklistStarted, AuditID: a.ID, EntityKind: "checklist", EntityID: c.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"template_id": tpl.ID, "total_questions": tpl.QuestionsCount},
	}); err != nil {
		return domain.Checklist{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Checklist{}, err
	}
	return e.Repo.GetChecklist(ctx, c.ID)
}

// AnswerOptions are parameters for recording one response.
type AnswerOptions struct {
	AuditID     string
	ChecklistID string
	QuestionID  string
	Answer      domain.Answer
	Notes       string
	ActorID     string
}

// AnswerResult reports the stored response and whether it replaced an earlier one.
type AnswerResult struct {
	Response    domain.Response  `json:"response"`
	Overwritten bool             `json:"overwritten"`
	Previous    *domain.Response `json:"previous,omitempty"`
}

// AnswerQuestion upserts the response for one question. Last write wins.
func (e Engine) AnswerQuestion(ctx context.Context, opts AnswerOptions) (AnswerResult, error) {
	if !opts.Answer.Valid() {
		return AnswerResult{}, ErrInvalidAnswer
	}
	if opts.QuestionID == "" {
		return AnswerResult{}, fmt.Errorf("%w: question_id is required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AnswerResult{}, err
	}
	defer tx.Rollback()

	c, err := e.checklistInAudit(ctx, tx, opts.AuditID, opts.ChecklistID)
	if err != nil {
		return AnswerResult{}, err
	}
	if c.Status == domain.ChecklistCompleted {
		return AnswerResult{}, fmt.Errorf("checklist %s: %w", c.ID, ErrChecklistCompleted)
	}
	var belongs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM checklist_questions WHERE id=? AND template_id=?`, opts.QuestionID, c.TemplateID).Scan(&belongs); err != nil {
		return AnswerResult{}, err
	}
	if belongs == 0 {
		return AnswerResult{}, fmt.Errorf("question %s in checklist %s: %w", opts.QuestionID, c.ID, repo.ErrNotFound)
	}
	res := AnswerResult{}
	prev, err := e.Repo.GetResponseTx(ctx, tx, c.ID, opts.QuestionID)
	switch {
	case err == nil:
		res.Overwritten = true
		res.Previous = &prev
	case errors.Is(err, repo.ErrNotFound):
	default:
		return AnswerResult{}, err
	}
	resp := domain.Response{
		ID:          uuid.NewString(),
		ChecklistID: c.ID,
		QuestionID:  opts.QuestionID,
		Answer:      opts.Answer,
		Notes:       opts.Notes,
		AnsweredAt:  e.stamp(),
		AnsweredBy:  actorOrSystem(opts.ActorID),
	}
	if res.Previous != nil {
		resp.ID = res.Previous.ID
	}
	if err := e.Repo.UpsertResponse(ctx, tx, resp); err != nil {
		return AnswerResult{}, fmt.Errorf("upsert response: %w", err)
	}
	evtType := events.ResponseRecorded
	payload := events.EventPayload{"question_id": resp.QuestionID, "answer": resp.Answer}
	if res.Overwritten {
		evtType = events.ResponseOverwritten
		payload["previous_answer"] = res.Previous.Answer
	}
	if err := e.append(ctx, tx, events.Record{
		Type: evtType, AuditID: c.AuditID, EntityKind: "checklist", EntityID: c.ID, ActorID: opts.ActorID, Payload: payload,
	}); err != nil {
		return AnswerResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AnswerResult{}, err
	}
	res.Response = resp
	return res, nil
}

// CompleteOptions identify the checklist to complete.
type CompleteOptions struct {
	AuditID     string
	ChecklistID string
	ActorID     string
}

// CompleteChecklist re-counts unanswered questions and only then marks the checklist Completed.
// When every checklist of the audit is completed the audit follows.
func (e Engine) CompleteChecklist(ctx context.Context, opts CompleteOptions) (domain.Checklist, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Checklist{}, err
	}
	defer tx.Rollback()

	c, err := e.checklistInAudit(ctx, tx, opts.AuditID, opts.ChecklistID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if c.Status == domain.ChecklistCompleted {
		return domain.Checklist{}, fmt.Errorf("checklist %s: %w", c.ID, ErrChecklistCompleted)
	}
	items, err := e.Repo.ChecklistItems(ctx, tx, c.ID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if gaps := checklist.UnansweredIndexes(items, nil); len(gaps) > 0 {
		incomplete := IncompleteChecklistError{ChecklistID: c.ID, Unanswered: len(gaps)}
		for _, i := range gaps {
			incomplete.QuestionIDs = append(incomplete.QuestionIDs, items[i].Question.ID)
		}
		if err := e.append(ctx, tx, events.Record{
			Type: events.ChecklistCompletionRejected, AuditID: c.AuditID, EntityKind: "checklist", EntityID: c.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"unanswered": incomplete.Unanswered, "question_ids": incomplete.QuestionIDs},
		}); err != nil {
			return domain.Checklist{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Checklist{}, err
		}
		return domain.Checklist{}, incomplete
	}
	if err := e.Repo.MarkChecklistCompleted(ctx, tx, c.ID, e.stamp()); err != nil {
		return domain.Checklist{}, err
	}
	if err := e.append(ctx, tx, events.Record{
		Type: events.ChecklistCompleted, AuditID: c.AuditID, EntityKind: "checklist", EntityID: c.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"total_questions": len(items)},
	}); err != nil {
		return domain.Checklist{}, err
	}
	var open int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_checklists WHERE audit_id=? AND status<>?`, c.AuditID, string(domain.ChecklistCompleted)).Scan(&open); err != nil {
		return domain.Checklist{}, err
	}
	if open == 0 {
		a, err := e.Repo.GetAuditTx(ctx, tx, c.AuditID)
		if err != nil {
			return domain.Checklist{}, err
		}
		if a.Status == domain.AuditInProgress {
			if err := e.transitionAudit(ctx, tx, a, domain.AuditCompleted, opts.ActorID); err != nil {
				return domain.Checklist{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Checklist{}, err
	}
	return e.Repo.GetChecklist(ctx, c.ID)
}

// DeleteOptions identify the checklist to delete.
type DeleteOptions struct {
	AuditID     string
	ChecklistID string
	Confirm     bool
	ActorID     string
}

// DeleteChecklist removes a checklist and its responses. Completed checklists need Confirm.
func (e Engine) DeleteChecklist(ctx context.Context, opts DeleteOptions) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	c, err := e.checklistInAudit(ctx, tx, opts.AuditID, opts.ChecklistID)
	if err != nil {
		return 0, err
	}
	if c.Status == domain.ChecklistCompleted && !opts.Confirm {
		return 0, ConfirmationRequiredError{ChecklistID: c.ID}
	}
	removed, err := e.Repo.DeleteChecklist(ctx, tx, c.ID)
	if err != nil {
		return 0, err
	}
	if err := e.append(ctx, tx, events.Record{
		Type: events.ChecklistDeleted, AuditID: c.AuditID, EntityKind: "checklist", EntityID: c.ID, ActorID: opts.ActorID,
		Payload: events.EventPayload{"status": c.Status, "deleted_responses": removed},
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// ChecklistDetail returns the instance with its ordered question/response pairs.
func (e Engine) ChecklistDetail(ctx context.Context, auditID, checklistID string) (domain.ChecklistDetail, error) {
	c, err := e.checklistInAudit(ctx, nil, auditID, checklistID)
	if err != nil {
		return domain.ChecklistDetail{}, err
	}
	items, err := e.Repo.ChecklistItems(ctx, nil, c.ID)
	if err != nil {
		return domain.ChecklistDetail{}, err
	}
	if items == nil {
		items = []domain.QuestionWithResponse{}
	}
	return domain.ChecklistDetail{Checklist: c, Items: items}, nil
}

func (e Engine) ListAuditChecklists(ctx context.Context, auditID string) ([]domain.Checklist, error) {
	if _, err := e.Repo.GetAudit(ctx, auditID); err != nil {
		return nil, err
	}
	return e.Repo.ListAuditChecklists(ctx, auditID)
}

// ChecklistSummary aggregates the authoritative responses of a checklist.
func (e Engine) ChecklistSummary(ctx context.Context, auditID, checklistID string) (checklist.Summary, error) {
	detail, err := e.ChecklistDetail(ctx, auditID, checklistID)
	if err != nil {
		return checklist.Summary{}, err
	}
	return checklist.Summarize(detail.Items, nil), nil
}

// checklistInAudit loads the checklist and hides it when it belongs to another audit.
func (e Engine) checklistInAudit(ctx context.Context, tx *sql.Tx, auditID, checklistID string) (domain.Checklist, error) {
	if checklistID == "" {
		return domain.Checklist{}, fmt.Errorf("%w: checklist_id is required", ErrInvalidInput)
	}
	var (
		c   domain.Checklist
		err error
	)
	if tx != nil {
		c, err = e.Repo.GetChecklistTx(ctx, tx, checklistID)
	} else {
		c, err = e.Repo.GetChecklist(ctx, checklistID)
	}
	if err != nil {
		return domain.Checklist{}, err
	}
	if auditID != "" && c.AuditID != auditID {
		return domain.Checklist{}, fmt.Errorf("checklist %s in audit %s: %w", checklistID, auditID, repo.ErrNotFound)
	}
	return c, nil
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return "system"
	}
	return actorID
}
