// Package executor walks an auditor through one checklist instance at a time.
//
// Every checklist instance gets its own Session, holding an answer cache and a
// navigation cursor. Answers are written to the authoritative store through
// the Remote collaborators; the session renders from its cache so a submission
// never needs a full reload. Full reloads, and the listeners attached with
// OnAnswerSubmitted, happen only on the first Open, on a switch to another instance and
// after a successful completion.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"auditline/internal/checklist"
	"auditline/internal/domain"
	"auditline/internal/telemetry"
)

// ReloadReason names the moment an authoritative reload happened.
type ReloadReason string

const (
	ReloadInitial   ReloadReason = "initial"
	ReloadSwitch    ReloadReason = "switch"
	ReloadCompleted ReloadReason = "completed"
)

// ReloadEvent is delivered to listeners after an authoritative checklist-list reload.
// Err is set when the list could not be fetched; Checklists is then nil.
type ReloadEvent struct {
	Reason      ReloadReason
	AuditID     string
	ChecklistID string
	Checklists  []domain.Checklist
	Err         error
}

type Options struct {
	Remote Remote
	// Cursors persists positions across remounts. Nil disables persistence.
	Cursors checklist.CursorStore
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Engine owns the session arena. It is safe for concurrent use; remote calls
// run without holding the arena lock.
type Engine struct {
	remote  Remote
	cursors checklist.CursorStore
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu         sync.Mutex
	sessions   map[string]*Session
	active     string
	generation uint64
	checklists []domain.Checklist
	listeners  map[int]func(ReloadEvent)
	nextListen int
}

func New(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("executor: remote is required")
	}
	e := &Engine{
		remote:    opts.Remote,
		cursors:   opts.Cursors,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		now:       opts.Now,
		sessions:  map[string]*Session{},
		listeners: map[int]func(ReloadEvent){},
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.tracer == nil {
		e.tracer = telemetry.Tracer()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// OnAnswerSubmitted registers fn to run after each authoritative reload: the
// first Open, a switch and a successful completion. Ordinary answer
// submissions never fire it. The returned func removes fn.
func (e *Engine) OnAnswerSubmitted(fn func(ReloadEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListen
	e.nextListen++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Active returns the id of the checklist instance currently open, if any.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Checklists returns the audit's checklist list as of the last reload.
func (e *Engine) Checklists() []domain.Checklist {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Checklist(nil), e.checklists...)
}

// Open loads checklistID from the store and makes it the active session.
// Any other open session is discarded together with its cache and cursor;
// the cursor is restored from the cursor store when a valid position was saved.
func (e *Engine) Open(ctx context.Context, auditID, checklistID string) (View, error) {
	ctx, span := e.tracer.Start(ctx, "executor.open", trace.WithAttributes(
		attribute.String("audit.id", auditID),
		attribute.String("checklist.id", checklistID),
	))
	defer span.End()

	detail, err := e.remote.FetchChecklistDetail(ctx, auditID, checklistID)
	if err != nil {
		recordSpanError(span, err)
		return View{}, fmt.Errorf("load checklist %s: %w", checklistID, err)
	}
	if len(detail.Items) == 0 {
		return View{}, fmt.Errorf("checklist %s: %w", checklistID, ErrEmptyChecklist)
	}
	if detail.Checklist.ID == "" {
		detail.Checklist.ID = checklistID
	}
	if detail.Checklist.AuditID == "" {
		detail.Checklist.AuditID = auditID
	}
	saved, ok := e.loadCursor(ctx, checklistID)

	e.mu.Lock()
	reason := ReloadInitial
	if e.active != "" && e.active != checklistID {
		reason = ReloadSwitch
		e.discardLocked(e.active)
	}
	if _, exists := e.sessions[checklistID]; exists {
		e.discardLocked(checklistID)
	}
	e.generation++
	sess := newSession(detail, checklist.NewCache(e.now), e.generation)
	restored := sess.Cursor.Restore(saved, ok)
	e.sessions[checklistID] = sess
	e.active = checklistID
	view := sess.view()
	e.mu.Unlock()

	e.logger.Info("checklist opened",
		zap.String("audit_id", auditID),
		zap.String("checklist_id", checklistID),
		zap.String("reason", string(reason)),
		zap.Int("questions", len(sess.Sequence)),
		zap.Int("cursor", view.Cursor),
		zap.Bool("cursor_restored", restored),
	)
	e.reload(ctx, reason, auditID, checklistID)
	return view, nil
}

// Close discards the session for checklistID. Its persisted cursor is kept.
func (e *Engine) Close(checklistID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discardLocked(checklistID)
}

// ChecklistDeleted drops every trace of a deleted instance, including its saved cursor.
// Results of calls still in flight for it are discarded on arrival.
func (e *Engine) ChecklistDeleted(ctx context.Context, checklistID string) {
	e.mu.Lock()
	e.discardLocked(checklistID)
	e.mu.Unlock()
	if e.cursors != nil {
		if err := e.cursors.DeleteCursor(ctx, checklistID); err != nil {
			e.logger.Warn("delete cursor failed", zap.String("checklist_id", checklistID), zap.Error(err))
		}
	}
}

func (e *Engine) discardLocked(checklistID string) {
	sess, ok := e.sessions[checklistID]
	if !ok {
		return
	}
	sess.generation = 0
	delete(e.sessions, checklistID)
	if e.active == checklistID {
		e.active = ""
	}
}

// Refresh re-reads the authoritative sequence of an open checklist without
// touching its cache or cursor position. While a submission is in flight the
// refresh is queued behind it and deferred is true.
func (e *Engine) Refresh(ctx context.Context, checklistID string) (deferred bool, err error) {
	e.mu.Lock()
	sess, ok := e.sessions[checklistID]
	if !ok {
		e.mu.Unlock()
		return false, ErrNoSession
	}
	if sess.busy() {
		sess.refreshPending = true
		e.mu.Unlock()
		e.logger.Debug("refresh deferred behind submission", zap.String("checklist_id", checklistID))
		return true, nil
	}
	gen, auditID := sess.generation, sess.AuditID
	e.mu.Unlock()
	return false, e.refresh(ctx, sess, gen, auditID)
}

func (e *Engine) refresh(ctx context.Context, sess *Session, gen uint64, auditID string) error {
	ctx, span := e.tracer.Start(ctx, "executor.refresh", trace.WithAttributes(attribute.String("checklist.id", sess.ChecklistID)))
	defer span.End()
	detail, err := e.remote.FetchChecklistDetail(ctx, auditID, sess.ChecklistID)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("refresh checklist %s: %w", sess.ChecklistID, err)
	}
	seq := append([]domain.QuestionWithResponse(nil), detail.Items...)
	checklist.SortSequence(seq)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(sess, gen) {
		return ErrStaleResult
	}
	sess.setSequence(seq)
	if detail.Checklist.Status != "" {
		sess.Status = detail.Checklist.Status
	}
	return nil
}

// Previous moves the cursor back one question.
func (e *Engine) Previous(ctx context.Context, checklistID string) (int, error) {
	return e.navigate(ctx, checklistID, func(c *checklist.Cursor) { c.Retreat() })
}

// Skip moves forward without answering. It stays put on the last question.
func (e *Engine) Skip(ctx context.Context, checklistID string) (int, error) {
	return e.navigate(ctx, checklistID, func(c *checklist.Cursor) { c.Advance() })
}

// JumpTo moves to index, clamped into the sequence.
func (e *Engine) JumpTo(ctx context.Context, checklistID string, index int) (int, error) {
	return e.navigate(ctx, checklistID, func(c *checklist.Cursor) { c.GoTo(index) })
}

func (e *Engine) navigate(ctx context.Context, checklistID string, move func(*checklist.Cursor)) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[checklistID]
	if !ok {
		return 0, ErrNoSession
	}
	if sess.busy() {
		return sess.Cursor.Current(), ErrSubmissionInFlight
	}
	move(sess.Cursor)
	e.saveCursor(ctx, sess)
	return sess.Cursor.Current(), nil
}

// View returns a snapshot of an open session.
func (e *Engine) View(checklistID string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[checklistID]
	if !ok {
		return View{}, ErrNoSession
	}
	return sess.view(), nil
}

// reload fetches the audit's checklist list and notifies listeners.
func (e *Engine) reload(ctx context.Context, reason ReloadReason, auditID, checklistID string) {
	ctx, span := e.tracer.Start(ctx, "executor.reload", trace.WithAttributes(
		attribute.String("audit.id", auditID),
		attribute.String("reload.reason", string(reason)),
	))
	defer span.End()
	list, err := e.remote.FetchAuditChecklists(ctx, auditID)
	ev := ReloadEvent{Reason: reason, AuditID: auditID, ChecklistID: checklistID, Err: err}
	e.mu.Lock()
	if err == nil {
		e.checklists = list
		ev.Checklists = append([]domain.Checklist(nil), list...)
	}
	fns := make([]func(ReloadEvent), 0, len(e.listeners))
	for i := 0; i < e.nextListen; i++ {
		if fn, ok := e.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()
	if err != nil {
		recordSpanError(span, err)
		e.logger.Warn("checklist list reload failed", zap.String("audit_id", auditID), zap.String("reason", string(reason)), zap.Error(err))
	}
	for _, fn := range fns {
		fn(ev)
	}
}

func (e *Engine) currentLocked(sess *Session, gen uint64) bool {
	return gen != 0 && e.sessions[sess.ChecklistID] == sess && sess.generation == gen
}

func (e *Engine) loadCursor(ctx context.Context, checklistID string) (int, bool) {
	if e.cursors == nil {
		return 0, false
	}
	pos, ok, err := e.cursors.LoadCursor(ctx, checklistID)
	if err != nil {
		e.logger.Warn("load cursor failed", zap.String("checklist_id", checklistID), zap.Error(err))
		return 0, false
	}
	return pos, ok
}

// saveCursor logs store failures instead of returning them.
func (e *Engine) saveCursor(ctx context.Context, sess *Session) {
	if e.cursors == nil {
		return
	}
	if err := e.cursors.SaveCursor(ctx, sess.ChecklistID, sess.Cursor.Current()); err != nil {
		e.logger.Warn("save cursor failed", zap.String("checklist_id", sess.ChecklistID), zap.Error(err))
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
