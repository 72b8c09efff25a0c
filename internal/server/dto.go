package server

import (
	"encoding/json"

	"auditline/internal/checklist"
	"auditline/internal/domain"
	"auditline/internal/engine"
)

// Request payloads

type CreateAuditRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type StartChecklistRequest struct {
	TemplateID string `json:"template_id"`
}

type AnswerRequest struct {
	QuestionID string  `json:"question_id"`
	Answer     string  `json:"answer" enum:"Yes,No,N/A"`
	Notes      *string `json:"notes,omitempty"`
}

// Responses

type QuestionResponse struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Order      int    `json:"order"`
	Text       string `json:"text"`
	Severity   string `json:"severity" enum:"Low,Medium,High,Critical"`
}

type TemplateResponse struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Category       string             `json:"category"`
	Description    string             `json:"description,omitempty"`
	Active         bool               `json:"active"`
	QuestionsCount int                `json:"questions_count"`
	CreatedAt      string             `json:"created_at" format:"date-time"`
	Questions      []QuestionResponse `json:"questions,omitempty"`
}

type AuditResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"Created,In_Progress,Completed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ChecklistResponse struct {
	ID                string  `json:"id"`
	AuditID           string  `json:"audit_id"`
	TemplateID        string  `json:"template_id"`
	TemplateName      string  `json:"template_name"`
	Category          string  `json:"category"`
	Status            string  `json:"status" enum:"In_Progress,Completed"`
	StartedAt         string  `json:"started_at" format:"date-time"`
	StartedBy         string  `json:"started_by"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
	TotalQuestions    int     `json:"total_questions"`
	AnsweredQuestions int     `json:"answered_questions"`
	Progress          float64 `json:"progress"`
}

type ResponseRecord struct {
	ID          string `json:"id"`
	ChecklistID string `json:"checklist_id"`
	QuestionID  string `json:"question_id"`
	Answer      string `json:"answer" enum:"Yes,No,N/A"`
	Notes       string `json:"notes,omitempty"`
	AnsweredAt  string `json:"answered_at" format:"date-time"`
	AnsweredBy  string `json:"answered_by"`
}

type ChecklistItemResponse struct {
	Question QuestionResponse `json:"question"`
	Response *ResponseRecord  `json:"response,omitempty"`
}

type ChecklistDetailResponse struct {
	Checklist ChecklistResponse       `json:"checklist"`
	Items     []ChecklistItemResponse `json:"items"`
}

type AnswerResponse struct {
	Response    ResponseRecord  `json:"response"`
	Overwritten bool            `json:"overwritten"`
	Previous    *ResponseRecord `json:"previous,omitempty"`
}

type DeleteChecklistResponse struct {
	ChecklistID      string `json:"checklist_id"`
	DeletedResponses int64  `json:"deleted_responses"`
}

type SeverityStatsResponse struct {
	Total      int `json:"total"`
	Yes        int `json:"yes"`
	No         int `json:"no"`
	NA         int `json:"na"`
	Unanswered int `json:"unanswered"`
}

type SummaryResponse struct {
	ChecklistID       string                           `json:"checklist_id"`
	Total             int                              `json:"total"`
	Answered          int                              `json:"answered"`
	Unanswered        int                              `json:"unanswered"`
	Yes               int                              `json:"yes_count"`
	No                int                              `json:"no_count"`
	NA                int                              `json:"na_count"`
	ComplianceRate    int                              `json:"compliance_rate"`
	Progress          float64                          `json:"progress"`
	SeverityBreakdown map[string]SeverityStatsResponse `json:"severity_breakdown"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	AuditID    string         `json:"audit_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func questionResponse(q domain.Question) QuestionResponse {
	return QuestionResponse{ID: q.ID, TemplateID: q.TemplateID, Order: q.Order, Text: q.Text, Severity: string(q.Severity)}
}

func templateResponse(t domain.Template, questions []domain.Question) TemplateResponse {
	resp := TemplateResponse{
		ID:             t.ID,
		Name:           t.Name,
		Category:       t.Category,
		Description:    t.Description,
		Active:         t.Active,
		QuestionsCount: t.QuestionsCount,
		CreatedAt:      t.CreatedAt,
	}
	for _, q := range questions {
		resp.Questions = append(resp.Questions, questionResponse(q))
	}
	return resp
}

func auditResponse(a domain.Audit) AuditResponse {
	return AuditResponse{ID: a.ID, Name: a.Name, Description: a.Description, Status: string(a.Status), CreatedAt: a.CreatedAt}
}

func checklistResponse(c domain.Checklist) ChecklistResponse {
	return ChecklistResponse{
		ID:                c.ID,
		AuditID:           c.AuditID,
		TemplateID:        c.TemplateID,
		TemplateName:      c.TemplateName,
		Category:          c.Category,
		Status:            string(c.Status),
		StartedAt:         c.StartedAt,
		StartedBy:         c.StartedBy,
		CompletedAt:       c.CompletedAt,
		TotalQuestions:    c.TotalQuestions,
		AnsweredQuestions: c.AnsweredQuestions,
		Progress:          c.Progress,
	}
}

func responseRecord(r domain.Response) ResponseRecord {
	return ResponseRecord{
		ID:          r.ID,
		ChecklistID: r.ChecklistID,
		QuestionID:  r.QuestionID,
		Answer:      string(r.Answer),
		Notes:       r.Notes,
		AnsweredAt:  r.AnsweredAt,
		AnsweredBy:  r.AnsweredBy,
	}
}

func detailResponse(d domain.ChecklistDetail) ChecklistDetailResponse {
	resp := ChecklistDetailResponse{Checklist: checklistResponse(d.Checklist), Items: []ChecklistItemResponse{}}
	for _, item := range d.Items {
		entry := ChecklistItemResponse{Question: questionResponse(item.Question)}
		if item.Response != nil {
			rec := responseRecord(*item.Response)
			entry.Response = &rec
		}
		resp.Items = append(resp.Items, entry)
	}
	return resp
}

func answerResponse(res engine.AnswerResult) AnswerResponse {
	out := AnswerResponse{Response: responseRecord(res.Response), Overwritten: res.Overwritten}
	if res.Previous != nil {
		prev := responseRecord(*res.Previous)
		out.Previous = &prev
	}
	return out
}

func summaryResponse(checklistID string, s checklist.Summary) SummaryResponse {
	resp := SummaryResponse{
		ChecklistID:       checklistID,
		Total:             s.Total,
		Answered:          s.Answered,
		Unanswered:        s.Unanswered,
		Yes:               s.Yes,
		No:                s.No,
		NA:                s.NA,
		ComplianceRate:    s.ComplianceRate,
		Progress:          checklist.Progress(s.Answered, s.Total),
		SeverityBreakdown: map[string]SeverityStatsResponse{},
	}
	for sev, band := range s.SeverityBreakdown {
		resp.SeverityBreakdown[string(sev)] = SeverityStatsResponse(band)
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			payload = map[string]any{"raw": e.Payload}
		}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		AuditID:    e.AuditID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapAudits(items []domain.Audit) []AuditResponse {
	out := make([]AuditResponse, 0, len(items))
	for _, a := range items {
		out = append(out, auditResponse(a))
	}
	return out
}

func mapChecklists(items []domain.Checklist) []ChecklistResponse {
	out := make([]ChecklistResponse, 0, len(items))
	for _, c := range items {
		out = append(out, checklistResponse(c))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
