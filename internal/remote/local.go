// Package remote adapts the authoritative store to the executor's collaborator
// interfaces: in-process over engine.Engine, or over HTTP through the Go SDK.
package remote

import (
	"context"
	"errors"

	"auditline/internal/domain"
	"auditline/internal/engine"
	"auditline/internal/executor"
)

// Local calls the engine in-process, acting as ActorID.
type Local struct {
	Engine  engine.Engine
	ActorID string
}

var _ executor.Remote = Local{}

func (l Local) SubmitAnswer(ctx context.Context, auditID, checklistID, questionID string, answer domain.Answer, notes string) error {
	_, err := l.Engine.AnswerQuestion(ctx, engine.AnswerOptions{
		AuditID:     auditID,
		ChecklistID: checklistID,
		QuestionID:  questionID,
		Answer:      answer,
		Notes:       notes,
		ActorID:     l.ActorID,
	})
	return err
}

func (l Local) CompleteChecklist(ctx context.Context, auditID, checklistID string) error {
	_, err := l.Engine.CompleteChecklist(ctx, engine.CompleteOptions{
		AuditID:     auditID,
		ChecklistID: checklistID,
		ActorID:     l.ActorID,
	})
	var incomplete engine.IncompleteChecklistError
	if errors.As(err, &incomplete) {
		return &executor.RemoteGaps{
			Count:       incomplete.Unanswered,
			QuestionIDs: incomplete.QuestionIDs,
			Message:     incomplete.Error(),
		}
	}
	return err
}

func (l Local) FetchChecklistDetail(ctx context.Context, auditID, checklistID string) (domain.ChecklistDetail, error) {
	return l.Engine.ChecklistDetail(ctx, auditID, checklistID)
}

func (l Local) FetchAuditChecklists(ctx context.Context, auditID string) ([]domain.Checklist, error) {
	return l.Engine.ListAuditChecklists(ctx, auditID)
}
