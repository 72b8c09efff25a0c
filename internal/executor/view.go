package executor

import (
	"auditline/internal/checklist"
	"auditline/internal/domain"
)

// ItemView is one question as the session currently sees it.
type ItemView struct {
	Index    int              `json:"index"`
	Question domain.Question  `json:"question"`
	Answered bool             `json:"answered"`
	Entry    *checklist.Entry `json:"entry,omitempty"`
}

// View is a point-in-time snapshot of a session.
type View struct {
	AuditID     string                 `json:"audit_id"`
	ChecklistID string                 `json:"checklist_id"`
	Status      domain.ChecklistStatus `json:"status"`
	Cursor      int                    `json:"cursor"`
	Total       int                    `json:"total"`
	Current     ItemView               `json:"current"`
	Items       []ItemView             `json:"items"`
	Summary     checklist.Summary      `json:"summary"`
}

func (s *Session) view() View {
	v := View{
		AuditID:     s.AuditID,
		ChecklistID: s.ChecklistID,
		Status:      s.Status,
		Cursor:      s.Cursor.Current(),
		Total:       len(s.Sequence),
		Items:       make([]ItemView, 0, len(s.Sequence)),
		Summary:     checklist.Summarize(s.Sequence, s.Cache),
	}
	for i, item := range s.Sequence {
		iv := ItemView{Index: i, Question: item.Question}
		if entry, ok := s.Cache.Current(item); ok {
			e := entry
			iv.Answered = true
			iv.Entry = &e
		}
		v.Items = append(v.Items, iv)
	}
	if v.Cursor < len(v.Items) {
		v.Current = v.Items[v.Cursor]
	}
	return v
}
