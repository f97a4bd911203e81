package classifier

import (
	"context"
	"strings"
)

// Classifier suggests which department a support message belongs to. It
// returns "" when it has no opinion.
type Classifier interface {
	Suggest(ctx context.Context, content string, departments []string) string
}

type SimpleClassifier struct {
	// minScore is the number of matching words a department needs.
	minScore int
}

func NewSimpleClassifier(minScore int) *SimpleClassifier {
	if minScore < 1 {
		minScore = 1
	}
	return &SimpleClassifier{minScore: minScore}
}

// Suggest scores each department by how often its name, or a word of its
// name, appears in the content.
func (c *SimpleClassifier) Suggest(ctx context.Context, content string, departments []string) string {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	seen := make(map[string]int, len(words))
	for _, w := range words {
		seen[w]++
	}

	best, bestScore := "", 0
	for _, dept := range departments {
		score := 0
		lower := strings.ToLower(dept)
		if strings.Contains(strings.ToLower(content), lower) {
			score += 2
		}
		for _, part := range strings.Fields(lower) {
			// Loose stemming so "billing" matches "bill" and the reverse.
			for w, n := range seen {
				if len(part) >= 4 && len(w) >= 4 && (strings.HasPrefix(w, part) || strings.HasPrefix(part, w)) {
					score += n
				}
			}
		}
		if score > bestScore {
			best, bestScore = dept, score
		}
	}
	if bestScore < c.minScore {
		return ""
	}
	return best
}
