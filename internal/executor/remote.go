package executor

import (
	"context"

	"auditline/internal/domain"
)

// AnswerSubmitter persists one answer on the authoritative store.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, auditID, checklistID, questionID string, answer domain.Answer, notes string) error
}

// Completer asks the authoritative store to mark a checklist Completed.
// Implementations must fail when the store itself finds unanswered questions,
// returning a RemoteGaps error when the gaps are known.
type Completer interface {
	CompleteChecklist(ctx context.Context, auditID, checklistID string) error
}

// DetailFetcher returns the authoritative ordered question/response sequence.
type DetailFetcher interface {
	FetchChecklistDetail(ctx context.Context, auditID, checklistID string) (domain.ChecklistDetail, error)
}

// ChecklistLister returns every checklist instance of an audit.
type ChecklistLister interface {
	FetchAuditChecklists(ctx context.Context, auditID string) ([]domain.Checklist, error)
}

// Remote bundles every collaborator the engine consumes.
type Remote interface {
	AnswerSubmitter
	Completer
	DetailFetcher
	ChecklistLister
}
