package approval

import (
	"context"
	"strings"
)

// Classifier interprets free-form reviewer text as an approve or reject
// verdict. The pipeline ships a deterministic keyword parser; deployments
// taking decisions over chat can substitute the model-backed classifier.
type Classifier interface {
	ClassifyApproval(ctx context.Context, text string) (bool, error)
}

// KeywordClassifier approves on an explicit affirmative keyword and rejects
// everything else. Ambiguity resolves to rejection: running code nobody
// clearly approved is the worse failure.
type KeywordClassifier struct{}

var approveWords = map[string]bool{
	"approve":  true,
	"approved": true,
	"yes":      true,
	"y":        true,
	"ok":       true,
	"lgtm":     true,
	"go":       true,
}

var rejectWords = map[string]bool{
	"reject":   true,
	"rejected": true,
	"deny":     true,
	"denied":   true,
	"no":       true,
	"n":        true,
	"stop":     true,
}

func (KeywordClassifier) ClassifyApproval(_ context.Context, text string) (bool, error) {
	approved := false
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,!?:;")
		if rejectWords[word] {
			return false, nil
		}
		if approveWords[word] {
			approved = true
		}
	}
	return approved, nil
}
