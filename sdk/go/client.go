package auditlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Auditline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Template struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Description    string     `json:"description,omitempty"`
	Active         bool       `json:"active"`
	QuestionsCount int        `json:"questions_count"`
	CreatedAt      string     `json:"created_at"`
	Questions      []Question `json:"questions,omitempty"`
}

type Question struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Order      int    `json:"order"`
	Text       string `json:"text"`
	Severity   string `json:"severity"`
}

type Audit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// Checklist is one run of a template against an audit.
type Checklist struct {
	ID                string  `json:"id"`
	AuditID           string  `json:"audit_id"`
	TemplateID        string  `json:"template_id"`
	TemplateName      string  `json:"template_name"`
	Category          string  `json:"category"`
	Status            string  `json:"status"`
	StartedAt         string  `json:"started_at"`
	StartedBy         string  `json:"started_by"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	TotalQuestions    int     `json:"total_questions"`
	AnsweredQuestions int     `json:"answered_questions"`
	Progress          float64 `json:"progress"`
}

type Response struct {
	ID          string `json:"id"`
	ChecklistID string `json:"checklist_id"`
	QuestionID  string `json:"question_id"`
	Answer      string `json:"answer"`
	Notes       string `json:"notes,omitempty"`
	AnsweredAt  string `json:"answered_at"`
	AnsweredBy  string `json:"answered_by"`
}

type ChecklistItem struct {
	Question Question  `json:"question"`
	Response *Response `json:"response,omitempty"`
}

type ChecklistDetail struct {
	Checklist Checklist       `json:"checklist"`
	Items     []ChecklistItem `json:"items"`
}

type AnswerResult struct {
	Response    Response  `json:"response"`
	Overwritten bool      `json:"overwritten"`
	Previous    *Response `json:"previous,omitempty"`
}

type SeverityStats struct {
	Total      int `json:"total"`
	Yes        int `json:"yes"`
	No         int `json:"no"`
	NA         int `json:"na"`
	Unanswered int `json:"unanswered"`
}

type Summary struct {
	ChecklistID       string                   `json:"checklist_id"`
	Total             int                      `json:"total"`
	Answered          int                      `json:"answered"`
	Unanswered        int                      `json:"unanswered"`
	Yes               int                      `json:"yes_count"`
	No                int                      `json:"no_count"`
	NA                int                      `json:"na_count"`
	ComplianceRate    int                      `json:"compliance_rate"`
	Progress          float64                  `json:"progress"`
	SeverityBreakdown map[string]SeverityStats `json:"severity_breakdown"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	AuditID    string         `json:"audit_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ErrorBody is the server's error envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Envelope decodes the error body. ok is false when the body is not an envelope.
func (e *APIError) Envelope() (ErrorBody, bool) {
	var wrapper struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &wrapper); err != nil || wrapper.Error.Code == "" {
		return ErrorBody{}, false
	}
	return wrapper.Error, true
}

// Templates lists active templates, optionally for one category.
func (c *Client) Templates(ctx context.Context, category string) ([]Template, error) {
	endpoint := "v0/templates"
	if category != "" {
		endpoint += "?category=" + url.QueryEscape(category)
	}
	var resp []Template
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Template returns one template with its questions.
func (c *Client) Template(ctx context.Context, id string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "v0/templates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateAudit creates an audit. id may be empty to let the server pick one.
func (c *Client) CreateAudit(ctx context.Context, id, name, description string) (Audit, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	if description != "" {
		body["description"] = description
	}
	var resp Audit
	err := c.do(ctx, http.MethodPost, "v0/audits", body, &resp)
	return resp, err
}

func (c *Client) Audits(ctx context.Context, status string) ([]Audit, error) {
	endpoint := "v0/audits"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Audit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Audit(ctx context.Context, id string) (Audit, error) {
	var resp Audit
	err := c.do(ctx, http.MethodGet, "v0/audits/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StartChecklist starts a checklist from templateID within auditID.
func (c *Client) StartChecklist(ctx context.Context, auditID, templateID string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodPost, c.auditPath(auditID, "checklists"), map[string]any{"template_id": templateID}, &resp)
	return resp, err
}

// AuditChecklists lists every checklist of an audit.
func (c *Client) AuditChecklists(ctx context.Context, auditID string) ([]Checklist, error) {
	var resp []Checklist
	err := c.do(ctx, http.MethodGet, c.auditPath(auditID, "checklists"), nil, &resp)
	return resp, err
}

// ChecklistDetail returns the ordered questions and responses of a checklist.
func (c *Client) ChecklistDetail(ctx context.Context, auditID, checklistID string) (ChecklistDetail, error) {
	var resp ChecklistDetail
	err := c.do(ctx, http.MethodGet, c.checklistPath(auditID, checklistID, ""), nil, &resp)
	return resp, err
}

// AnswerQuestion records or overwrites one answer.
func (c *Client) AnswerQuestion(ctx context.Context, auditID, checklistID, questionID, answer, notes string) (AnswerResult, error) {
	body := map[string]any{
		"question_id": questionID,
		"answer":      answer,
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp AnswerResult
	err := c.do(ctx, http.MethodPost, c.checklistPath(auditID, checklistID, "answers"), body, &resp)
	return resp, err
}

// CompleteChecklist asks the server to mark the checklist Completed.
// A 422 APIError carries the unanswered count and question ids in its envelope.
func (c *Client) CompleteChecklist(ctx context.Context, auditID, checklistID string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodPost, c.checklistPath(auditID, checklistID, "complete"), nil, &resp)
	return resp, err
}

// Summary returns progress and compliance figures for a checklist.
func (c *Client) Summary(ctx context.Context, auditID, checklistID string) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, c.checklistPath(auditID, checklistID, "summary"), nil, &resp)
	return resp, err
}

// DeleteChecklist deletes a checklist; completed ones need confirm.
func (c *Client) DeleteChecklist(ctx context.Context, auditID, checklistID string, confirm bool) (int64, error) {
	endpoint := c.checklistPath(auditID, checklistID, "")
	if confirm {
		endpoint += "?confirm=true"
	}
	var resp struct {
		DeletedResponses int64 `json:"deleted_responses"`
	}
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp.DeletedResponses, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "", "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, optionally scoped to one audit.
func (c *Client) EventsPage(ctx context.Context, limit int, auditID, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if auditID != "" {
		q.Set("audit_id", auditID)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WhoAmI describes the authenticated caller.
type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Me returns the caller's identity as resolved by the server.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) auditPath(auditID, p string) string {
	return fmt.Sprintf("v0/audits/%s/%s", url.PathEscape(auditID), strings.TrimLeft(p, "/"))
}

func (c *Client) checklistPath(auditID, checklistID, p string) string {
	base := c.auditPath(auditID, "checklists/"+url.PathEscape(checklistID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
