package domain

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Severities lists every severity in ascending risk order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func ParseSeverity(s string) (Severity, error) {
	for _, sev := range Severities {
		if strings.EqualFold(string(sev), strings.TrimSpace(s)) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("invalid severity %q", s)
}

type Answer string

const (
	AnswerYes Answer = "Yes"
	AnswerNo  Answer = "No"
	AnswerNA  Answer = "N/A"
)

// ParseAnswer accepts the canonical values plus the short forms used on the command line.
func ParseAnswer(s string) (Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return AnswerYes, nil
	case "no", "n":
		return AnswerNo, nil
	case "n/a", "na":
		return AnswerNA, nil
	}
	return "", fmt.Errorf("invalid answer %q", s)
}

func (a Answer) Valid() bool {
	return a == AnswerYes || a == AnswerNo || a == AnswerNA
}

type ChecklistStatus string

const (
	ChecklistInProgress ChecklistStatus = "In_Progress"
	ChecklistCompleted  ChecklistStatus = "Completed"
)

type AuditStatus string

const (
	AuditCreated    AuditStatus = "Created"
	AuditInProgress AuditStatus = "In_Progress"
	AuditCompleted  AuditStatus = "Completed"
)

// Template categories.
const (
	CategoryNetworkSecurity  = "Network_Security"
	CategoryAccessControl    = "Access_Control"
	CategoryDataProtection   = "Data_Protection"
	CategoryPhysicalSecurity = "Physical_Security"
	CategoryIncidentResponse = "Incident_Response"
)

var Categories = []string{
	CategoryNetworkSecurity,
	CategoryAccessControl,
	CategoryDataProtection,
	CategoryPhysicalSecurity,
	CategoryIncidentResponse,
}

func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

type Template struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	Description    string `json:"description,omitempty"`
	Active         bool   `json:"active"`
	QuestionsCount int    `json:"questions_count"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Question struct {
	ID         string   `json:"id"`
	TemplateID string   `json:"template_id"`
	Order      int      `json:"order"`
	Text       string   `json:"text"`
	Severity   Severity `json:"severity" enum:"Low,Medium,High,Critical"`
}

type Response struct {
	ID          string `json:"id"`
	ChecklistID string `json:"checklist_id"`
	QuestionID  string `json:"question_id"`
	Answer      Answer `json:"answer" enum:"Yes,No,N/A"`
	Notes       string `json:"notes,omitempty"`
	AnsweredAt  string `json:"answered_at" format:"date-time"`
	AnsweredBy  string `json:"answered_by"`
}

// QuestionWithResponse pairs a question with its authoritative response, if any.
type QuestionWithResponse struct {
	Question Question  `json:"question"`
	Response *Response `json:"response,omitempty"`
}

type Audit struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Status      AuditStatus `json:"status" enum:"Created,In_Progress,Completed"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
}

// Checklist is one run of a template's question set against one audit.
type Checklist struct {
	ID                string          `json:"id"`
	AuditID           string          `json:"audit_id"`
	TemplateID        string          `json:"template_id"`
	TemplateName      string          `json:"template_name"`
	Category          string          `json:"category"`
	Status            ChecklistStatus `json:"status" enum:"In_Progress,Completed"`
	StartedAt         string          `json:"started_at" format:"date-time"`
	StartedBy         string          `json:"started_by"`
	CompletedAt       *string         `json:"completed_at,omitempty" format:"date-time"`
	TotalQuestions    int             `json:"total_questions"`
	AnsweredQuestions int             `json:"answered_questions"`
	Progress          float64         `json:"progress"`
}

type ChecklistDetail struct {
	Checklist Checklist              `json:"checklist"`
	Items     []QuestionWithResponse `json:"items"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	AuditID    string `json:"audit_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
