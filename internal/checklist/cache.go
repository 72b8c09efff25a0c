package checklist

import (
	"sort"
	"time"

	"auditline/internal/domain"
)

// Entry is a locally held answer that may be ahead of the authoritative store.
type Entry struct {
	Answer     domain.Answer `json:"answer"`
	Notes      string        `json:"notes,omitempty"`
	AnsweredAt time.Time     `json:"answered_at"`
}

// Cache overlays session answers on top of an authoritative sequence.
// It is owned by one session and is not safe for concurrent use.
type Cache struct {
	entries map[string]Entry
	now     func() time.Time
}

func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: map[string]Entry{}, now: now}
}

// Initialize discards every entry and seeds from the responses present in seq.
func (c *Cache) Initialize(seq []domain.QuestionWithResponse) {
	c.entries = make(map[string]Entry, len(seq))
	for _, item := range seq {
		if item.Response == nil {
			continue
		}
		at, _ := time.Parse(time.RFC3339, item.Response.AnsweredAt)
		c.entries[item.Question.ID] = Entry{
			Answer:     item.Response.Answer,
			Notes:      item.Response.Notes,
			AnsweredAt: at,
		}
	}
}

// Record upserts the entry for questionID stamped with the current time.
func (c *Cache) Record(questionID string, answer domain.Answer, notes string) Entry {
	if c.entries == nil {
		c.entries = map[string]Entry{}
	}
	e := Entry{Answer: answer, Notes: notes, AnsweredAt: c.clock()}
	c.entries[questionID] = e
	return e
}

func (c *Cache) Get(questionID string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[questionID]
	return e, ok
}

// IsAnswered reports whether questionID has a cache entry or a response in seq.
func (c *Cache) IsAnswered(questionID string, seq []domain.QuestionWithResponse) bool {
	if _, ok := c.Get(questionID); ok {
		return true
	}
	for _, item := range seq {
		if item.Question.ID == questionID {
			return item.Response != nil
		}
	}
	return false
}

// Current returns the answer that should be displayed for item.
func (c *Cache) Current(item domain.QuestionWithResponse) (Entry, bool) {
	if e, ok := c.Get(item.Question.ID); ok {
		return e, true
	}
	if item.Response == nil {
		return Entry{}, false
	}
	at, _ := time.Parse(time.RFC3339, item.Response.AnsweredAt)
	return Entry{Answer: item.Response.Answer, Notes: item.Response.Notes, AnsweredAt: at}, true
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.entries = map[string]Entry{}
}

func (c *Cache) answered(item domain.QuestionWithResponse) bool {
	if item.Response != nil {
		return true
	}
	_, ok := c.Get(item.Question.ID)
	return ok
}

func (c *Cache) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// SortSequence orders seq by question order in place, keeping ties stable.
func SortSequence(seq []domain.QuestionWithResponse) {
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].Question.Order < seq[j].Question.Order
	})
}
