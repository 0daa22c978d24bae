package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"approve", true},
		{"Approved!", true},
		{"yes, go ahead", true},
		{"LGTM", true},
		{"ok but rename the output key", true},
		{"reject", false},
		{"no", false},
		{"denied.", false},
		{"looks fine I guess", false}, // no explicit keyword: rejected
		{"yes... actually no, stop", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := KeywordClassifier{}.ClassifyApproval(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
