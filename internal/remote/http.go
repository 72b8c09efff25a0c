package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"auditline/internal/domain"
	"auditline/internal/executor"
	auditlinesdk "auditline/sdk/go"
)

// HTTP talks to an auditline server. Payloads are validated into the domain
// model before they reach the executor.
type HTTP struct {
	Client *auditlinesdk.Client
}

var _ executor.Remote = HTTP{}

func (h HTTP) SubmitAnswer(ctx context.Context, auditID, checklistID, questionID string, answer domain.Answer, notes string) error {
	res, err := h.Client.AnswerQuestion(ctx, auditID, checklistID, questionID, string(answer), notes)
	if err != nil {
		return err
	}
	if res.Response.QuestionID != questionID {
		return &executor.MalformedResponseError{
			Operation: "answer",
			Problems:  []string{fmt.Sprintf("response echoes question %q, want %q", res.Response.QuestionID, questionID)},
		}
	}
	return nil
}

func (h HTTP) CompleteChecklist(ctx context.Context, auditID, checklistID string) error {
	_, err := h.Client.CompleteChecklist(ctx, auditID, checklistID)
	if err == nil {
		return nil
	}
	var apiErr *auditlinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		return err
	}
	body, ok := apiErr.Envelope()
	if !ok || body.Code != "checklist_incomplete" {
		return err
	}
	gaps := &executor.RemoteGaps{Message: body.Message}
	if n, ok := body.Details["unanswered"].(float64); ok {
		gaps.Count = int(n)
	}
	if ids, ok := body.Details["question_ids"].([]any); ok {
		for _, v := range ids {
			if s, ok := v.(string); ok && s != "" {
				gaps.QuestionIDs = append(gaps.QuestionIDs, s)
			}
		}
	}
	if gaps.Count == 0 {
		gaps.Count = len(gaps.QuestionIDs)
	}
	return gaps
}

func (h HTTP) FetchChecklistDetail(ctx context.Context, auditID, checklistID string) (domain.ChecklistDetail, error) {
	raw, err := h.Client.ChecklistDetail(ctx, auditID, checklistID)
	if err != nil {
		return domain.ChecklistDetail{}, err
	}
	return decodeDetail(raw, auditID, checklistID)
}

func (h HTTP) FetchAuditChecklists(ctx context.Context, auditID string) ([]domain.Checklist, error) {
	raw, err := h.Client.AuditChecklists(ctx, auditID)
	if err != nil {
		return nil, err
	}
	var problems []string
	res := make([]domain.Checklist, 0, len(raw))
	for i, c := range raw {
		dc, errs := decodeChecklist(c)
		for _, p := range errs {
			problems = append(problems, fmt.Sprintf("checklists[%d]: %s", i, p))
		}
		if c.AuditID != auditID {
			problems = append(problems, fmt.Sprintf("checklists[%d]: belongs to audit %q", i, c.AuditID))
		}
		res = append(res, dc)
	}
	if len(problems) > 0 {
		return nil, &executor.MalformedResponseError{Operation: "checklist list", Problems: problems}
	}
	return res, nil
}

func decodeDetail(raw auditlinesdk.ChecklistDetail, auditID, checklistID string) (domain.ChecklistDetail, error) {
	c, problems := decodeChecklist(raw.Checklist)
	if raw.Checklist.ID != checklistID {
		problems = append(problems, fmt.Sprintf("checklist id %q, want %q", raw.Checklist.ID, checklistID))
	}
	if raw.Checklist.AuditID != auditID {
		problems = append(problems, fmt.Sprintf("audit id %q, want %q", raw.Checklist.AuditID, auditID))
	}
	seen := map[string]struct{}{}
	items := make([]domain.QuestionWithResponse, 0, len(raw.Items))
	for i, it := range raw.Items {
		q := it.Question
		if q.ID == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: missing question id", i))
		} else if _, dup := seen[q.ID]; dup {
			problems = append(problems, fmt.Sprintf("items[%d]: duplicate question id %s", i, q.ID))
		}
		seen[q.ID] = struct{}{}
		sev, err := domain.ParseSeverity(q.Severity)
		if err != nil {
			problems = append(problems, fmt.Sprintf("items[%d]: %v", i, err))
		}
		item := domain.QuestionWithResponse{Question: domain.Question{
			ID:         q.ID,
			TemplateID: q.TemplateID,
			Order:      q.Order,
			Text:       q.Text,
			Severity:   sev,
		}}
		if r := it.Response; r != nil {
			answer := domain.Answer(r.Answer)
			if !answer.Valid() {
				problems = append(problems, fmt.Sprintf("items[%d]: invalid answer %q", i, r.Answer))
			}
			if r.QuestionID != q.ID {
				problems = append(problems, fmt.Sprintf("items[%d]: response for question %q", i, r.QuestionID))
			}
			item.Response = &domain.Response{
				ID:          r.ID,
				ChecklistID: r.ChecklistID,
				QuestionID:  r.QuestionID,
				Answer:      answer,
				Notes:       r.Notes,
				AnsweredAt:  r.AnsweredAt,
				AnsweredBy:  r.AnsweredBy,
			}
		}
		items = append(items, item)
	}
	if len(problems) > 0 {
		return domain.ChecklistDetail{}, &executor.MalformedResponseError{Operation: "checklist detail", Problems: problems}
	}
	return domain.ChecklistDetail{Checklist: c, Items: items}, nil
}

func decodeChecklist(c auditlinesdk.Checklist) (domain.Checklist, []string) {
	var problems []string
	if c.ID == "" {
		problems = append(problems, "missing checklist id")
	}
	status := domain.ChecklistStatus(c.Status)
	if status != domain.ChecklistInProgress && status != domain.ChecklistCompleted {
		problems = append(problems, fmt.Sprintf("invalid status %q", c.Status))
	}
	return domain.Checklist{
		ID:                c.ID,
		AuditID:           c.AuditID,
		TemplateID:        c.TemplateID,
		TemplateName:      c.TemplateName,
		Category:          c.Category,
		Status:            status,
		StartedAt:         c.StartedAt,
		StartedBy:         c.StartedBy,
		CompletedAt:       c.CompletedAt,
		TotalQuestions:    c.TotalQuestions,
		AnsweredQuestions: c.AnsweredQuestions,
		Progress:          c.Progress,
	}, problems
}
