package executor

import (
	"fmt"

	"auditline/internal/checklist"
	"auditline/internal/domain"
)

// phase is the sequencer state of one session.
type phase int

const (
	phaseIdle phase = iota
	phaseSubmitting
	phaseCompleting
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseSubmitting:
		return "submitting"
	case phaseCompleting:
		return "completing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Legal sequencer moves. Every submission leaves idle, and only the final
// question may pass through completing.
var phaseMoves = map[phase][]phase{
	phaseIdle:       {phaseSubmitting},
	phaseSubmitting: {phaseIdle, phaseCompleting},
	phaseCompleting: {phaseIdle},
}

// Session is the execution state of one checklist instance. Cache and Cursor are
// never shared between sessions; switching instances builds a new Session.
type Session struct {
	AuditID     string
	ChecklistID string
	Status      domain.ChecklistStatus
	Sequence    []domain.QuestionWithResponse
	Cache       *checklist.Cache
	Cursor      *checklist.Cursor

	index          map[string]int
	generation     uint64
	phase          phase
	refreshPending bool
}

func newSession(detail domain.ChecklistDetail, cache *checklist.Cache, generation uint64) *Session {
	seq := append([]domain.QuestionWithResponse(nil), detail.Items...)
	checklist.SortSequence(seq)
	cache.Initialize(seq)
	s := &Session{
		AuditID:     detail.Checklist.AuditID,
		ChecklistID: detail.Checklist.ID,
		Status:      detail.Checklist.Status,
		Cache:       cache,
		Cursor:      checklist.NewCursor(len(seq)),
		generation:  generation,
	}
	s.setSequence(seq)
	return s
}

// setSequence swaps in a fresh authoritative sequence. The cache and cursor
// position survive; the cursor is only clamped if the sequence shrank.
func (s *Session) setSequence(seq []domain.QuestionWithResponse) {
	s.Sequence = seq
	s.index = make(map[string]int, len(seq))
	for i, item := range seq {
		s.index[item.Question.ID] = i
	}
	s.Cursor.Resize(len(seq))
}

func (s *Session) moveTo(next phase) error {
	for _, allowed := range phaseMoves[s.phase] {
		if allowed == next {
			s.phase = next
			return nil
		}
	}
	return fmt.Errorf("illegal sequencer move %s -> %s", s.phase, next)
}

func (s *Session) busy() bool { return s.phase != phaseIdle }

func (s *Session) lastIndex() int { return len(s.Sequence) - 1 }

func (s *Session) questionIDs(indexes []int) []string {
	ids := make([]string, 0, len(indexes))
	for _, i := range indexes {
		ids = append(ids, s.Sequence[i].Question.ID)
	}
	return ids
}

// firstKnown returns the smallest sequence index among ids, or -1.
func (s *Session) firstKnown(ids []string) int {
	first := -1
	for _, id := range ids {
		if i, ok := s.index[id]; ok && (first == -1 || i < first) {
			first = i
		}
	}
	return first
}
