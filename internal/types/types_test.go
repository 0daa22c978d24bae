package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ExecutionRequest
		wantErr bool
	}{
		{name: "minimal valid", req: ExecutionRequest{TaskObjective: "sum the values"}},
		{name: "empty objective", req: ExecutionRequest{TaskObjective: "   "}, wantErr: true},
		{name: "negative retries", req: ExecutionRequest{TaskObjective: "x", Retries: -1}, wantErr: true},
		{name: "folder with separator", req: ExecutionRequest{TaskObjective: "x", IsolationFolderName: "../escape"}, wantErr: true},
		{name: "plain folder name", req: ExecutionRequest{TaskObjective: "x", IsolationFolderName: "job-7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCapabilityOrDefault(t *testing.T) {
	assert.Equal(t, DefaultCapability, (&ExecutionRequest{}).CapabilityOrDefault())
	assert.Equal(t, "file_transfer", (&ExecutionRequest{Capability: "file_transfer"}).CapabilityOrDefault())
}
