package checklist

import "auditline/internal/domain"

// FindFirstUnanswered returns the smallest index whose question is not answered.
func FindFirstUnanswered(seq []domain.QuestionWithResponse, cache *Cache) (int, bool) {
	for i, item := range seq {
		if !cache.answered(item) {
			return i, true
		}
	}
	return 0, false
}

func CountUnanswered(seq []domain.QuestionWithResponse, cache *Cache) int {
	n := 0
	for _, item := range seq {
		if !cache.answered(item) {
			n++
		}
	}
	return n
}

// UnansweredIndexes lists every gap in sequence order.
func UnansweredIndexes(seq []domain.QuestionWithResponse, cache *Cache) []int {
	var out []int
	for i, item := range seq {
		if !cache.answered(item) {
			out = append(out, i)
		}
	}
	return out
}

func CanComplete(seq []domain.QuestionWithResponse, cache *Cache) bool {
	return CountUnanswered(seq, cache) == 0
}
