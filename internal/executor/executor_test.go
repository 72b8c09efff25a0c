package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auditline/internal/checklist"
	"auditline/internal/domain"
)

type fakeRemote struct {
	mu          sync.Mutex
	details     map[string]domain.ChecklistDetail
	submitted   []string
	completed   []string
	submitErr   error
	completeErr error
	// lag keeps submitted answers out of the authoritative sequence.
	lag         bool
	listCalls   int
	detailCalls int

	entered  chan string
	gate     chan struct{}
	onDetail func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{details: map[string]domain.ChecklistDetail{}}
}

func (f *fakeRemote) add(auditID, checklistID string, n int, answered map[int]domain.Answer) {
	items := make([]domain.QuestionWithResponse, n)
	sevs := domain.Severities
	for i := 0; i < n; i++ {
		q := domain.Question{ID: fmt.Sprintf("%s-q%d", checklistID, i), Order: i + 1, Text: fmt.Sprintf("question %d", i), Severity: sevs[i%len(sevs)]}
		items[i] = domain.QuestionWithResponse{Question: q}
		if a, ok := answered[i]; ok {
			items[i].Response = &domain.Response{ChecklistID: checklistID, QuestionID: q.ID, Answer: a, AnsweredAt: "2024-01-01T00:00:00Z"}
		}
	}
	f.details[checklistID] = domain.ChecklistDetail{
		Checklist: domain.Checklist{ID: checklistID, AuditID: auditID, Status: domain.ChecklistInProgress, TotalQuestions: n},
		Items:     items,
	}
}

func (f *fakeRemote) SubmitAnswer(_ context.Context, _, checklistID, questionID string, answer domain.Answer, notes string) error {
	if f.entered != nil {
		f.entered <- questionID
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, questionID)
	if f.lag {
		return nil
	}
	d := f.details[checklistID]
	for i := range d.Items {
		if d.Items[i].Question.ID == questionID {
			d.Items[i].Response = &domain.Response{ChecklistID: checklistID, QuestionID: questionID, Answer: answer, Notes: notes, AnsweredAt: "2024-01-01T00:00:00Z"}
		}
	}
	return nil
}

func (f *fakeRemote) CompleteChecklist(_ context.Context, _, checklistID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, checklistID)
	d := f.details[checklistID]
	d.Checklist.Status = domain.ChecklistCompleted
	f.details[checklistID] = d
	return nil
}

func (f *fakeRemote) FetchChecklistDetail(_ context.Context, _, checklistID string) (domain.ChecklistDetail, error) {
	f.mu.Lock()
	hook := f.onDetail
	f.detailCalls++
	d, ok := f.details[checklistID]
	var items []domain.QuestionWithResponse
	for _, item := range d.Items {
		if item.Response != nil {
			r := *item.Response
			item.Response = &r
		}
		items = append(items, item)
	}
	d.Items = items
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return domain.ChecklistDetail{}, fmt.Errorf("checklist %s not found", checklistID)
	}
	return d, nil
}

func (f *fakeRemote) FetchAuditChecklists(_ context.Context, auditID string) ([]domain.Checklist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []domain.Checklist
	for _, d := range f.details {
		if d.Checklist.AuditID == auditID {
			out = append(out, d.Checklist)
		}
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []ReloadEvent
}

func (r *recorder) add(ev ReloadEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) reasons() []ReloadReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReloadReason
	for _, ev := range r.events {
		out = append(out, ev.Reason)
	}
	return out
}

func newTestEngine(t *testing.T, remote *fakeRemote, cursors checklist.CursorStore) (*Engine, *recorder) {
	t.Helper()
	e, err := New(Options{
		Remote:  remote,
		Cursors: cursors,
		Now:     func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	rec := &recorder{}
	e.OnAnswerSubmitted(rec.add)
	return e, rec
}

func TestNewRequiresRemote(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestWalkthroughCompletesOnLastAnswer(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, nil)
	e, rec := newTestEngine(t, remote, nil)

	view, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)
	require.Equal(t, 0, view.Cursor)
	require.Equal(t, 3, view.Total)

	res, err := e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Cursor)
	require.False(t, res.PreviouslyAnswered)

	res, err = e.SubmitAnswer(ctx, "c1", "c1-q1", domain.AnswerNo, "gap")
	require.NoError(t, err)
	require.Equal(t, 2, res.Cursor)
	require.Equal(t, []ReloadReason{ReloadInitial}, rec.reasons(), "plain submissions must not reload")
	require.Equal(t, 1, remote.listCalls)

	res, err = e.SubmitAnswer(ctx, "c1", "c1-q2", domain.AnswerNA, "")
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, 2, res.Cursor)
	require.Equal(t, []string{"c1"}, remote.completed)
	require.Equal(t, []ReloadReason{ReloadInitial, ReloadCompleted}, rec.reasons())
	require.Equal(t, 2, remote.listCalls)
	require.Len(t, e.Checklists(), 1)
	require.Equal(t, domain.ChecklistCompleted, e.Checklists()[0].Status)

	view, err = e.View("c1")
	require.NoError(t, err)
	require.Equal(t, domain.ChecklistCompleted, view.Status)
	require.Equal(t, 3, view.Summary.Answered)
	require.Equal(t, 50, view.Summary.ComplianceRate)

	_, err = e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerNo, "")
	require.ErrorIs(t, err, ErrChecklistCompleted)
}

func TestOverwriteReportsPreviousAnswer(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, map[int]domain.Answer{0: domain.AnswerYes})
	e, _ := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	res, err := e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerNo, "changed")
	require.NoError(t, err)
	require.True(t, res.PreviouslyAnswered)
	require.NotNil(t, res.Previous)
	require.Equal(t, domain.AnswerYes, res.Previous.Answer)
	require.Equal(t, 1, res.Cursor)

	view, err := e.View("c1")
	require.NoError(t, err)
	require.Equal(t, domain.AnswerNo, view.Items[0].Entry.Answer)
	require.Equal(t, "changed", view.Items[0].Entry.Notes)
}

func TestLastAnswerWithGapJumpsToFirstGap(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, map[int]domain.Answer{0: domain.AnswerYes})
	e, rec := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	res, err := e.SubmitAnswer(ctx, "c1", "c1-q2", domain.AnswerYes, "")
	var gapErr *ValidationGapError
	require.ErrorAs(t, err, &gapErr)
	require.Equal(t, 1, gapErr.Count)
	require.Equal(t, 1, gapErr.FirstIndex)
	require.Equal(t, []string{"c1-q1"}, gapErr.QuestionIDs)
	require.Equal(t, 1, res.Cursor)
	require.Empty(t, remote.completed, "local gaps must stop the remote completion call")
	require.Equal(t, []ReloadReason{ReloadInitial}, rec.reasons())

	view, err := e.View("c1")
	require.NoError(t, err)
	require.Equal(t, 1, view.Cursor)
	require.True(t, view.Items[2].Answered, "the answer is kept even though completion was blocked")
	require.Equal(t, domain.ChecklistInProgress, view.Status)
}

func TestRemoteWriteFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, nil)
	remote.submitErr = errors.New("connection reset")
	e, _ := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	_, err = e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
	var writeErr *RemoteWriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "c1-q0", writeErr.QuestionID)
	require.ErrorContains(t, err, "connection reset")

	view, err := e.View("c1")
	require.NoError(t, err)
	require.Equal(t, 0, view.Cursor)
	require.False(t, view.Items[0].Answered)

	remote.mu.Lock()
	remote.submitErr = nil
	remote.mu.Unlock()
	res, err := e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
	require.NoError(t, err, "retry is a fresh submission")
	require.Equal(t, 1, res.Cursor)
}

func TestRemoteCompletionGapsMoveCursor(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, map[int]domain.Answer{0: domain.AnswerYes, 1: domain.AnswerYes})
	remote.completeErr = &RemoteGaps{Count: 1, QuestionIDs: []string{"c1-q1"}}
	e, rec := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	res, err := e.SubmitAnswer(ctx, "c1", "c1-q2", domain.AnswerYes, "")
	var rc *RemoteCompletionError
	require.ErrorAs(t, err, &rc)
	require.Equal(t, 1, rc.Count)
	require.Equal(t, 1, rc.FirstIndex)
	require.Equal(t, 1, res.Cursor)
	require.False(t, res.Completed)
	require.Equal(t, []ReloadReason{ReloadInitial}, rec.reasons())

	view, err := e.View("c1")
	require.NoError(t, err)
	require.Equal(t, domain.ChecklistInProgress, view.Status)

	remote.mu.Lock()
	remote.completeErr = errors.New("boom")
	remote.mu.Unlock()
	_, err = e.SubmitAnswer(ctx, "c1", "c1-q2", domain.AnswerYes, "")
	require.ErrorAs(t, err, &rc)
	require.Equal(t, -1, rc.FirstIndex)
	require.Zero(t, rc.Count)
}

func TestSwitchDiscardsSessionAndRestoresCursor(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "x", 3, nil)
	remote.add("a1", "y", 2, nil)
	store := checklist.NewMemoryCursorStore()
	e, rec := newTestEngine(t, remote, store)

	_, err := e.Open(ctx, "a1", "x")
	require.NoError(t, err)
	remote.lag = true
	_, err = e.SubmitAnswer(ctx, "x", "x-q0", domain.AnswerYes, "")
	require.NoError(t, err)

	_, err = e.Open(ctx, "a1", "y")
	require.NoError(t, err)
	require.Equal(t, "y", e.Active())
	_, err = e.View("x")
	require.ErrorIs(t, err, ErrNoSession)
	require.Equal(t, []ReloadReason{ReloadInitial, ReloadSwitch}, rec.reasons())

	view, err := e.Open(ctx, "a1", "x")
	require.NoError(t, err)
	require.Equal(t, 1, view.Cursor, "persisted cursor restored")
	require.False(t, view.Items[0].Answered, "cache is rebuilt from the store, not carried over")

	require.NoError(t, store.SaveCursor(ctx, "y", 10))
	view, err = e.Open(ctx, "a1", "y")
	require.NoError(t, err)
	require.Equal(t, 0, view.Cursor, "out of range cursor falls back to the first question")
}

func TestSecondSubmissionRejectedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, nil)
	e, _ := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	remote.entered = make(chan string, 1)
	remote.gate = make(chan struct{})
	type outcome struct {
		res SubmitResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
		done <- outcome{res, err}
	}()
	require.Equal(t, "c1-q0", <-remote.entered)

	_, err = e.SubmitAnswer(ctx, "c1", "c1-q1", domain.AnswerNo, "")
	require.ErrorIs(t, err, ErrSubmissionInFlight)
	_, err = e.Skip(ctx, "c1")
	require.ErrorIs(t, err, ErrSubmissionInFlight)

	var cursorAtRefresh = -1
	remote.mu.Lock()
	remote.onDetail = func() {
		v, err := e.View("c1")
		if err == nil {
			cursorAtRefresh = v.Cursor
		}
	}
	remote.mu.Unlock()
	deferred, err := e.Refresh(ctx, "c1")
	require.NoError(t, err)
	require.True(t, deferred)

	close(remote.gate)
	out := <-done
	require.NoError(t, out.err)
	require.Equal(t, 1, out.res.Cursor)
	require.Equal(t, 1, cursorAtRefresh, "the deferred refresh runs after the cursor advanced")
	require.Equal(t, []string{"c1-q0"}, remote.submitted)
}

func TestResultDiscardedAfterSwitch(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "x", 3, nil)
	remote.add("a1", "y", 3, nil)
	e, _ := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "x")
	require.NoError(t, err)

	remote.entered = make(chan string, 1)
	remote.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitAnswer(ctx, "x", "x-q0", domain.AnswerYes, "")
		done <- err
	}()
	<-remote.entered

	_, err = e.Open(ctx, "a1", "y")
	require.NoError(t, err)
	close(remote.gate)
	require.ErrorIs(t, <-done, ErrStaleResult)

	view, err := e.View("y")
	require.NoError(t, err)
	require.Equal(t, 0, view.Cursor)
	require.Zero(t, view.Summary.Answered)
}

func TestRefreshKeepsCursorAndCache(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 4, nil)
	remote.lag = true
	e, rec := newTestEngine(t, remote, nil)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	_, err = e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
	require.NoError(t, err)
	_, err = e.JumpTo(ctx, "c1", 3)
	require.NoError(t, err)

	deferred, err := e.Refresh(ctx, "c1")
	require.NoError(t, err)
	require.False(t, deferred)

	view, err := e.View("c1")
	require.NoError(t, err)
	require.Equal(t, 3, view.Cursor)
	require.True(t, view.Items[0].Answered, "cached answer survives a lagging refresh")
	require.Equal(t, []ReloadReason{ReloadInitial}, rec.reasons(), "refresh is not a reload point")
}

func TestNavigation(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, nil)
	store := checklist.NewMemoryCursorStore()
	e, _ := newTestEngine(t, remote, store)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)

	pos, err := e.Previous(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 0, pos)
	pos, err = e.Skip(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 1, pos)
	pos, err = e.JumpTo(ctx, "c1", 99)
	require.NoError(t, err)
	require.Equal(t, 2, pos)
	pos, err = e.Skip(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, pos, "skip stays on the last question")
	pos, err = e.JumpTo(ctx, "c1", -4)
	require.NoError(t, err)
	require.Equal(t, 0, pos)

	saved, ok, err := store.LoadCursor(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, saved)

	_, err = e.Skip(ctx, "missing")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 2, nil)
	e, _ := newTestEngine(t, remote, nil)

	_, err := e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
	require.ErrorIs(t, err, ErrNoSession)

	_, err = e.Open(ctx, "a1", "c1")
	require.NoError(t, err)
	_, err = e.SubmitAnswer(ctx, "c1", "c1-q0", domain.Answer("maybe"), "")
	require.ErrorIs(t, err, ErrInvalidAnswer)
	_, err = e.SubmitAnswer(ctx, "c1", "nope", domain.AnswerYes, "")
	require.ErrorIs(t, err, ErrUnknownQuestion)
	require.Empty(t, remote.submitted)
}

func TestOpenEmptyAndCompletedChecklists(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "empty", 0, nil)
	remote.add("a1", "done", 1, map[int]domain.Answer{0: domain.AnswerYes})
	d := remote.details["done"]
	d.Checklist.Status = domain.ChecklistCompleted
	remote.details["done"] = d
	e, _ := newTestEngine(t, remote, nil)

	_, err := e.Open(ctx, "a1", "empty")
	require.ErrorIs(t, err, ErrEmptyChecklist)

	view, err := e.Open(ctx, "a1", "done")
	require.NoError(t, err)
	require.Equal(t, domain.ChecklistCompleted, view.Status)
	_, err = e.SubmitAnswer(ctx, "done", "done-q0", domain.AnswerNo, "")
	require.ErrorIs(t, err, ErrChecklistCompleted)
}

func TestChecklistDeletedDropsSessionAndCursor(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 3, nil)
	store := checklist.NewMemoryCursorStore()
	e, rec := newTestEngine(t, remote, store)
	_, err := e.Open(ctx, "a1", "c1")
	require.NoError(t, err)
	_, err = e.Skip(ctx, "c1")
	require.NoError(t, err)

	e.ChecklistDeleted(ctx, "c1")
	require.Empty(t, e.Active())
	_, err = e.View("c1")
	require.ErrorIs(t, err, ErrNoSession)
	_, ok, err := store.LoadCursor(ctx, "c1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []ReloadReason{ReloadInitial}, rec.reasons(), "deletion is not a reload point")
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.add("a1", "c1", 1, nil)
	e, err := New(Options{Remote: remote})
	require.NoError(t, err)
	calls := 0
	stop := e.OnAnswerSubmitted(func(ReloadEvent) { calls++ })
	_, err = e.Open(ctx, "a1", "c1")
	require.NoError(t, err)
	stop()
	_, err = e.SubmitAnswer(ctx, "c1", "c1-q0", domain.AnswerYes, "")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
