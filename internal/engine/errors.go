package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks caller mistakes that map to 400.
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAnswer      = fmt.Errorf("%w: answer must be one of Yes, No, N/A", ErrInvalidInput)
	ErrChecklistCompleted = errors.New("checklist already completed")
	ErrAuditCompleted     = errors.New("audit already completed")
)

// IncompleteChecklistError is returned when completion is attempted with unanswered questions.
type IncompleteChecklistError struct {
	ChecklistID string
	Unanswered  int
	QuestionIDs []string
}

func (e IncompleteChecklistError) Error() string {
	return fmt.Sprintf("checklist %s has %d unanswered question(s)", e.ChecklistID, e.Unanswered)
}

// ConfirmationRequiredError guards deletion of a completed checklist.
type ConfirmationRequiredError struct {
	ChecklistID string
}

func (e ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("checklist %s is completed; deletion requires confirmation", e.ChecklistID)
}
