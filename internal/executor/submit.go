package executor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"auditline/internal/checklist"
	"auditline/internal/domain"
)

// SubmitResult describes what a submission did to the session.
type SubmitResult struct {
	QuestionID string `json:"question_id"`
	Index      int    `json:"index"`
	// PreviouslyAnswered is set when the submission overwrote an earlier answer.
	PreviouslyAnswered bool             `json:"previously_answered"`
	Previous           *checklist.Entry `json:"previous,omitempty"`
	Cursor             int              `json:"cursor"`
	Completed          bool             `json:"completed"`
}

// SubmitAnswer writes one answer and moves the session forward.
//
// The answer is written remotely first; on failure a RemoteWriteError is
// returned and nothing local changes. On success the answer is cached, then:
//   - before the last question the cursor moves to the following question;
//   - on the last question with gaps left the cursor jumps to the first gap
//     and a ValidationGapError is returned alongside the result;
//   - on the last question with no gaps the store is asked to complete the
//     checklist, and on success the audit's checklist list is reloaded.
//
// Only one submission per checklist runs at a time; a second one fails with
// ErrSubmissionInFlight. A Refresh requested meanwhile runs once the cursor
// has moved.
func (e *Engine) SubmitAnswer(ctx context.Context, checklistID, questionID string, answer domain.Answer, notes string) (SubmitResult, error) {
	if !answer.Valid() {
		return SubmitResult{}, fmt.Errorf("%w: got %q", ErrInvalidAnswer, answer)
	}

	e.mu.Lock()
	sess, ok := e.sessions[checklistID]
	if !ok {
		e.mu.Unlock()
		return SubmitResult{}, ErrNoSession
	}
	if sess.Status == domain.ChecklistCompleted {
		e.mu.Unlock()
		return SubmitResult{}, ErrChecklistCompleted
	}
	if sess.busy() {
		e.mu.Unlock()
		return SubmitResult{}, ErrSubmissionInFlight
	}
	idx, ok := sess.index[questionID]
	if !ok {
		e.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	res := SubmitResult{QuestionID: questionID, Index: idx}
	if prev, answered := sess.Cache.Current(sess.Sequence[idx]); answered {
		res.PreviouslyAnswered = true
		res.Previous = &prev
	}
	if err := sess.moveTo(phaseSubmitting); err != nil {
		e.mu.Unlock()
		return SubmitResult{}, err
	}
	gen, auditID := sess.generation, sess.AuditID
	e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "executor.submit_answer", trace.WithAttributes(
		attribute.String("checklist.id", checklistID),
		attribute.String("question.id", questionID),
		attribute.Int("question.index", idx),
	))
	defer span.End()
	log := e.logger.With(zap.String("checklist_id", checklistID), zap.String("question_id", questionID))

	err := e.remote.SubmitAnswer(ctx, auditID, checklistID, questionID, answer, notes)

	e.mu.Lock()
	if !e.currentLocked(sess, gen) {
		e.mu.Unlock()
		log.Warn("submission result discarded", zap.Error(err))
		return SubmitResult{}, ErrStaleResult
	}
	if err != nil {
		pending := e.settleLocked(sess)
		e.mu.Unlock()
		recordSpanError(span, err)
		log.Warn("answer submission failed", zap.Error(err))
		e.runPending(ctx, sess, gen, pending)
		return SubmitResult{}, &RemoteWriteError{ChecklistID: checklistID, QuestionID: questionID, Err: err}
	}

	sess.Cache.Record(questionID, answer, notes)
	if res.PreviouslyAnswered {
		log.Info("answer overwritten", zap.String("previous", string(res.Previous.Answer)), zap.String("answer", string(answer)))
	}

	if idx < sess.lastIndex() {
		sess.Cursor.GoTo(idx + 1)
		e.saveCursor(ctx, sess)
		res.Cursor = sess.Cursor.Current()
		pending := e.settleLocked(sess)
		e.mu.Unlock()
		e.runPending(ctx, sess, gen, pending)
		return res, nil
	}

	if gaps := checklist.UnansweredIndexes(sess.Sequence, sess.Cache); len(gaps) > 0 {
		sess.Cursor.GoTo(gaps[0])
		e.saveCursor(ctx, sess)
		res.Cursor = sess.Cursor.Current()
		gapErr := &ValidationGapError{
			ChecklistID: checklistID,
			Count:       len(gaps),
			FirstIndex:  gaps[0],
			Indexes:     gaps,
			QuestionIDs: sess.questionIDs(gaps),
		}
		pending := e.settleLocked(sess)
		e.mu.Unlock()
		log.Info("completion blocked by unanswered questions", zap.Int("unanswered", gapErr.Count), zap.Int("first_index", gapErr.FirstIndex))
		e.runPending(ctx, sess, gen, pending)
		return res, gapErr
	}

	sess.Cursor.GoTo(idx)
	if err := sess.moveTo(phaseCompleting); err != nil {
		e.settleLocked(sess)
		e.mu.Unlock()
		return res, err
	}
	e.mu.Unlock()

	cerr := e.remote.CompleteChecklist(ctx, auditID, checklistID)

	e.mu.Lock()
	if !e.currentLocked(sess, gen) {
		e.mu.Unlock()
		log.Warn("completion result discarded", zap.Error(cerr))
		return SubmitResult{}, ErrStaleResult
	}
	if cerr != nil {
		rc := &RemoteCompletionError{ChecklistID: checklistID, FirstIndex: -1, Err: cerr}
		var gaps *RemoteGaps
		if errors.As(cerr, &gaps) {
			rc.Count = gaps.Count
			rc.QuestionIDs = gaps.QuestionIDs
			if first := sess.firstKnown(gaps.QuestionIDs); first >= 0 {
				rc.FirstIndex = first
				sess.Cursor.GoTo(first)
				e.saveCursor(ctx, sess)
			}
		}
		res.Cursor = sess.Cursor.Current()
		pending := e.settleLocked(sess)
		e.mu.Unlock()
		recordSpanError(span, cerr)
		log.Warn("checklist completion rejected", zap.Int("unanswered", rc.Count), zap.Error(cerr))
		e.runPending(ctx, sess, gen, pending)
		return res, rc
	}
	sess.Status = domain.ChecklistCompleted
	e.settleLocked(sess)
	e.saveCursor(ctx, sess)
	res.Cursor = sess.Cursor.Current()
	res.Completed = true
	e.mu.Unlock()

	log.Info("checklist completed", zap.String("audit_id", auditID))
	e.reload(ctx, ReloadCompleted, auditID, checklistID)
	return res, nil
}

// settleLocked returns the session to idle and reports whether a refresh was queued.
func (e *Engine) settleLocked(sess *Session) bool {
	sess.phase = phaseIdle
	pending := sess.refreshPending
	sess.refreshPending = false
	return pending
}

func (e *Engine) runPending(ctx context.Context, sess *Session, gen uint64, pending bool) {
	if !pending {
		return
	}
	if err := e.refresh(ctx, sess, gen, sess.AuditID); err != nil {
		e.logger.Warn("deferred refresh failed", zap.String("checklist_id", sess.ChecklistID), zap.Error(err))
	}
}
