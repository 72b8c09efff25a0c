package executor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoSession          = errors.New("no execution session for checklist")
	ErrSubmissionInFlight = errors.New("a submission is already in flight for this checklist")
	ErrUnknownQuestion    = errors.New("question is not part of this checklist")
	ErrChecklistCompleted = errors.New("checklist is completed")
	ErrInvalidAnswer      = errors.New("answer must be one of Yes, No, N/A")
	ErrEmptyChecklist     = errors.New("checklist has no questions")
	// ErrStaleResult reports a remote result that arrived after its session was replaced or discarded.
	ErrStaleResult = errors.New("result discarded: session changed while the call was in flight")
)

// RemoteWriteError means the answer never reached the store. No local state changed.
type RemoteWriteError struct {
	ChecklistID string
	QuestionID  string
	Err         error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("submit answer for question %s: %v", e.QuestionID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// ValidationGapError is raised locally before the store is asked to complete.
type ValidationGapError struct {
	ChecklistID string
	Count       int
	FirstIndex  int
	Indexes     []int
	QuestionIDs []string
}

func (e *ValidationGapError) Error() string {
	return fmt.Sprintf("checklist %s has %d unanswered question(s); first at position %d", e.ChecklistID, e.Count, e.FirstIndex+1)
}

// RemoteCompletionError means the store refused completion. Count and FirstIndex
// are set when the store reported its gaps; FirstIndex is -1 otherwise.
type RemoteCompletionError struct {
	ChecklistID string
	Count       int
	QuestionIDs []string
	FirstIndex  int
	Err         error
}

func (e *RemoteCompletionError) Error() string {
	if e.Count > 0 {
		return fmt.Sprintf("complete checklist %s: store reports %d unanswered question(s): %v", e.ChecklistID, e.Count, e.Err)
	}
	return fmt.Sprintf("complete checklist %s: %v", e.ChecklistID, e.Err)
}

func (e *RemoteCompletionError) Unwrap() error { return e.Err }

// RemoteGaps is returned by Completer implementations when the store names its gaps.
type RemoteGaps struct {
	Count       int
	QuestionIDs []string
	Message     string
}

func (e *RemoteGaps) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%d unanswered question(s)", e.Count)
}

// MalformedResponseError reports a payload that could not be validated into the data model.
type MalformedResponseError struct {
	Operation string
	Problems  []string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	msg := fmt.Sprintf("malformed %s response", e.Operation)
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
