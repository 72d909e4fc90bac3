package nlu

import (
	"context"
	"strings"

	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

// DefaultThreshold is the minimum score for a rule match to count as an
// intent.
const DefaultThreshold = 2.0

// Classifier scores every registered task by its weighted keyword and
// pattern rules. Each rule counts once per utterance.
type Classifier struct {
	registry  *schema.Registry
	threshold float64
}

func NewClassifier(registry *schema.Registry, threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{registry: registry, threshold: threshold}
}

// Score is one task's rule score for an utterance.
type Score struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

func (c *Classifier) Classify(_ context.Context, utterance, activeIntent string) (string, error) {
	if policy.IsCancellation(utterance) {
		return schema.IntentCancel, nil
	}
	best := schema.IntentNone
	bestScore := 0.0
	for _, s := range c.Scores(utterance) {
		if s.Score < c.threshold {
			continue
		}
		// Ties keep the active task, then the earlier declared task.
		if s.Score > bestScore || s.Score == bestScore && s.Intent == activeIntent {
			best = s.Intent
			bestScore = s.Score
		}
	}
	return best, nil
}

// Scores returns the rule score of every task in declared order.
func (c *Classifier) Scores(utterance string) []Score {
	in := strings.TrimSpace(utterance)
	tasks := c.registry.Tasks()
	out := make([]Score, 0, len(tasks))
	for _, t := range tasks {
		score := 0.0
		for _, rule := range t.Keywords {
			for _, term := range rule.Terms {
				if phrase(term).MatchString(in) {
					score += rule.Weight
					break
				}
			}
		}
		for _, p := range t.Patterns {
			if re := p.Regexp(); re != nil && re.MatchString(in) {
				score += p.Weight
			}
		}
		out = append(out, Score{Intent: t.Intent, Score: score})
	}
	return out
}
