package pipeline

import (
	"math"
	"strings"

	"jobmate/discovery-pipeline/internal/model"
)

// Scorer assigns a 0–100 match score to a job for a set of user skills.
type Scorer interface {
	Score(job model.ValidatedJob, skills []string) int
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(job model.ValidatedJob, skills []string) int

func (f ScorerFunc) Score(job model.ValidatedJob, skills []string) int { return f(job, skills) }

// SkillScorer scores the share of skills mentioned in the title or
// description.
type SkillScorer struct{}

func (SkillScorer) Score(job model.ValidatedJob, skills []string) int {
	text := " " + strings.ToLower(job.Title+" "+job.Description) + " "
	var total, hit int
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		total++
		if mentions(text, s) {
			hit++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(hit) / float64(total)))
}

// mentions matches skill as a whole token, so "go" does not hit "google"
// while "c++" and "node.js" still match.
func mentions(text, skill string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], skill)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(skill)
		if !isAlnum(text[start-1]) && (end >= len(text) || !isAlnum(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func clampScore(n int) int {
	return max(0, min(100, n))
}
