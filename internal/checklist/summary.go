package checklist

import (
	"math"

	"auditline/internal/domain"
)

type SeverityStats struct {
	Total      int `json:"total"`
	Yes        int `json:"yes"`
	No         int `json:"no"`
	NA         int `json:"na"`
	Unanswered int `json:"unanswered"`
}

type Summary struct {
	Total             int                               `json:"total"`
	Answered          int                               `json:"answered"`
	Unanswered        int                               `json:"unanswered"`
	Yes               int                               `json:"yes_count"`
	No                int                               `json:"no_count"`
	NA                int                               `json:"na_count"`
	ComplianceRate    int                               `json:"compliance_rate"`
	SeverityBreakdown map[domain.Severity]SeverityStats `json:"severity_breakdown"`
}

// Summarize derives counts from seq with the cache overlaid. It has no side effects.
func Summarize(seq []domain.QuestionWithResponse, cache *Cache) Summary {
	s := Summary{Total: len(seq), SeverityBreakdown: map[domain.Severity]SeverityStats{}}
	for _, item := range seq {
		band := s.SeverityBreakdown[item.Question.Severity]
		band.Total++
		entry, ok := cache.Current(item)
		if !ok {
			s.Unanswered++
			band.Unanswered++
			s.SeverityBreakdown[item.Question.Severity] = band
			continue
		}
		s.Answered++
		switch entry.Answer {
		case domain.AnswerYes:
			s.Yes++
			band.Yes++
		case domain.AnswerNo:
			s.No++
			band.No++
		case domain.AnswerNA:
			s.NA++
			band.NA++
		}
		s.SeverityBreakdown[item.Question.Severity] = band
	}
	s.ComplianceRate = ComplianceRate(s.Yes, s.No)
	return s
}

// ComplianceRate is round(100*yes/(yes+no)). N/A and unanswered questions are
// excluded; with no Yes/No answers the rate is 0.
func ComplianceRate(yes, no int) int {
	if yes+no == 0 {
		return 0
	}
	return int(math.Round(100 * float64(yes) / float64(yes+no)))
}

// Progress is the answered share as a percentage rounded to two decimals.
func Progress(answered, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(answered)/float64(total)*10000) / 100
}
