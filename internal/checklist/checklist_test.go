package checklist

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auditline/internal/domain"
)

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func sequence(n int, answered map[int]domain.Answer) []domain.QuestionWithResponse {
	sevs := domain.Severities
	seq := make([]domain.QuestionWithResponse, n)
	for i := 0; i < n; i++ {
		q := domain.Question{
			ID:       fmt.Sprintf("q%d", i),
			Order:    i + 1,
			Text:     fmt.Sprintf("question %d", i),
			Severity: sevs[i%len(sevs)],
		}
		seq[i] = domain.QuestionWithResponse{Question: q}
		if a, ok := answered[i]; ok {
			seq[i].Response = &domain.Response{
				QuestionID: q.ID,
				Answer:     a,
				AnsweredAt: "2024-01-02T03:04:05Z",
			}
		}
	}
	return seq
}

func TestCacheInitializeSeedsOnlyAnswered(t *testing.T) {
	c := NewCache(nil)
	c.Record("stale", domain.AnswerYes, "")
	seq := sequence(3, map[int]domain.Answer{1: domain.AnswerNo})
	c.Initialize(seq)

	require.Equal(t, 1, c.Len())
	_, ok := c.Get("stale")
	require.False(t, ok, "initialize must replace, not merge")
	e, ok := c.Get("q1")
	require.True(t, ok)
	require.Equal(t, domain.AnswerNo, e.Answer)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), e.AnsweredAt)
}

func TestCacheRecordIsIdempotentInValue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(func() time.Time { now = now.Add(time.Second); return now })
	first := c.Record("q0", domain.AnswerYes, "ok")
	second := c.Record("q0", domain.AnswerYes, "ok")

	got, ok := c.Get("q0")
	require.True(t, ok)
	require.Equal(t, first.Answer, got.Answer)
	require.Equal(t, first.Notes, got.Notes)
	require.Equal(t, second.AnsweredAt, got.AnsweredAt)
	require.Equal(t, 1, c.Len())
}

func TestCacheOverlayPrecedence(t *testing.T) {
	seq := sequence(2, map[int]domain.Answer{0: domain.AnswerNo})
	c := NewCache(fixedClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	c.Record("q0", domain.AnswerYes, "fixed")

	require.True(t, c.IsAnswered("q0", seq))
	cur, ok := c.Current(seq[0])
	require.True(t, ok)
	require.Equal(t, domain.AnswerYes, cur.Answer)
	require.Equal(t, "fixed", cur.Notes)

	require.False(t, c.IsAnswered("q1", seq))
	_, ok = c.Current(seq[1])
	require.False(t, ok)
	require.False(t, c.IsAnswered("missing", seq))
}

func TestCursorBounds(t *testing.T) {
	c := NewCursor(3)
	require.False(t, c.Retreat())
	require.Equal(t, 0, c.Current())

	require.Equal(t, 2, c.GoTo(10))
	require.True(t, c.IsLast())
	require.False(t, c.Advance())
	require.Equal(t, 2, c.Current())

	require.Equal(t, 0, c.GoTo(-4))
	require.True(t, c.Advance())
	require.Equal(t, 1, c.Current())
	require.True(t, c.Retreat())
	require.Equal(t, 0, c.Current())
}

func TestCursorEmptySequence(t *testing.T) {
	c := NewCursor(0)
	require.False(t, c.Advance())
	require.False(t, c.IsLast())
	require.Equal(t, 0, c.GoTo(3))
}

func TestCursorResizeKeepsPosition(t *testing.T) {
	c := NewCursor(5)
	c.GoTo(3)
	c.Resize(5)
	require.Equal(t, 3, c.Current())
	c.Resize(2)
	require.Equal(t, 1, c.Current())
}

func TestCursorRestore(t *testing.T) {
	c := NewCursor(4)
	require.True(t, c.Restore(2, true))
	require.Equal(t, 2, c.Current())
	require.False(t, c.Restore(9, true))
	require.Equal(t, 0, c.Current())
	c.GoTo(3)
	require.False(t, c.Restore(1, false))
	require.Equal(t, 0, c.Current())
}

func TestMemoryCursorStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCursorStore()
	_, ok, err := s.LoadCursor(ctx, "c1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveCursor(ctx, "c1", 4))
	pos, ok, err := s.LoadCursor(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, pos)

	require.NoError(t, s.DeleteCursor(ctx, "c1"))
	_, ok, _ = s.LoadCursor(ctx, "c1")
	require.False(t, ok)
}

func TestValidatorAgreesWithItself(t *testing.T) {
	cases := []struct {
		name      string
		seq       []domain.QuestionWithResponse
		cached    []string
		wantCount int
		wantFirst int
		wantGap   bool
	}{
		{name: "empty", seq: nil},
		{name: "none answered", seq: sequence(3, nil), wantCount: 3, wantFirst: 0, wantGap: true},
		{name: "authoritative only", seq: sequence(3, map[int]domain.Answer{0: domain.AnswerYes, 2: domain.AnswerNA}), wantCount: 1, wantFirst: 1, wantGap: true},
		{name: "cache fills gap", seq: sequence(3, map[int]domain.Answer{0: domain.AnswerYes, 2: domain.AnswerNA}), cached: []string{"q1"}},
		{name: "cache only", seq: sequence(3, nil), cached: []string{"q0", "q2"}, wantCount: 1, wantFirst: 1, wantGap: true},
		{name: "overlay not summed", seq: sequence(2, map[int]domain.Answer{0: domain.AnswerNo}), cached: []string{"q0"}, wantCount: 1, wantFirst: 1, wantGap: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCache(nil)
			for _, id := range tc.cached {
				c.Record(id, domain.AnswerYes, "")
			}
			count := CountUnanswered(tc.seq, c)
			require.Equal(t, tc.wantCount, count)
			require.Equal(t, count == 0, CanComplete(tc.seq, c))
			first, gap := FindFirstUnanswered(tc.seq, c)
			require.Equal(t, tc.wantGap, gap)
			if gap {
				require.Equal(t, tc.wantFirst, first)
				require.False(t, c.IsAnswered(tc.seq[first].Question.ID, tc.seq))
				for i := 0; i < first; i++ {
					require.True(t, c.IsAnswered(tc.seq[i].Question.ID, tc.seq))
				}
			}
			require.Len(t, UnansweredIndexes(tc.seq, c), count)
		})
	}
}

func TestValidatorNilCache(t *testing.T) {
	seq := sequence(2, map[int]domain.Answer{1: domain.AnswerYes})
	idx, ok := FindFirstUnanswered(seq, nil)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, 1, CountUnanswered(seq, nil))
}

func TestComplianceRate(t *testing.T) {
	require.Equal(t, 75, ComplianceRate(3, 1))
	require.Equal(t, 0, ComplianceRate(0, 0))
	require.Equal(t, 67, ComplianceRate(2, 1))
	require.Equal(t, 50, ComplianceRate(1, 1))
	require.Equal(t, 100, ComplianceRate(4, 0))
}

func TestSummarizeWithOverlay(t *testing.T) {
	// q0 Low, q1 Medium, q2 High, q3 Critical, q4 Low, q5 Medium, q6 High
	seq := sequence(7, map[int]domain.Answer{
		0: domain.AnswerYes,
		1: domain.AnswerNo,
		2: domain.AnswerNA,
		3: domain.AnswerNo,
	})
	c := NewCache(nil)
	c.Record("q3", domain.AnswerYes, "remediated")
	c.Record("q4", domain.AnswerYes, "")
	c.Record("q5", domain.AnswerNA, "")

	s := Summarize(seq, c)
	require.Equal(t, 7, s.Total)
	require.Equal(t, 6, s.Answered)
	require.Equal(t, 1, s.Unanswered)
	require.Equal(t, 3, s.Yes)
	require.Equal(t, 1, s.No)
	require.Equal(t, 2, s.NA)
	require.Equal(t, 75, s.ComplianceRate)

	require.Equal(t, SeverityStats{Total: 2, Yes: 2}, s.SeverityBreakdown[domain.SeverityLow])
	require.Equal(t, SeverityStats{Total: 2, No: 1, NA: 1}, s.SeverityBreakdown[domain.SeverityMedium])
	require.Equal(t, SeverityStats{Total: 2, NA: 1, Unanswered: 1}, s.SeverityBreakdown[domain.SeverityHigh])
	require.Equal(t, SeverityStats{Total: 1, Yes: 1}, s.SeverityBreakdown[domain.SeverityCritical])

	total := 0
	for _, band := range s.SeverityBreakdown {
		total += band.Total
	}
	require.Equal(t, s.Total, total)
}

func TestSummarizeOnlyPresentSeverities(t *testing.T) {
	seq := sequence(1, nil)
	s := Summarize(seq, nil)
	require.Len(t, s.SeverityBreakdown, 1)
	require.Equal(t, 0, s.ComplianceRate)
}

func TestProgress(t *testing.T) {
	require.Equal(t, 0.0, Progress(0, 0))
	require.Equal(t, 33.33, Progress(1, 3))
	require.Equal(t, 66.67, Progress(2, 3))
	require.Equal(t, 100.0, Progress(8, 8))
}

func TestSortSequence(t *testing.T) {
	seq := sequence(3, nil)
	seq[0], seq[2] = seq[2], seq[0]
	SortSequence(seq)
	require.Equal(t, []string{"q0", "q1", "q2"}, []string{seq[0].Question.ID, seq[1].Question.ID, seq[2].Question.ID})
}
