package uxerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"setupwiz/internal/domain"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"checkpoint code", domain.NewSubSystemError("checkpoint", "Restore", domain.ErrNotFound, "c1"), "Checkpoint Not Found"},
		{"version code", domain.NewSubSystemError("versioning", "Restore", domain.ErrNotFound, "v1"), "Version Not Found"},
		{"unavailable wrapped", fmt.Errorf("undo: %w", domain.Unavailable("Undo", errors.New("502"))), "Authority Unreachable"},
		{"in flight", domain.ErrOperationInFlight, "Busy"},
		{"declined", domain.ErrDeclined, "Cancelled"},
		{"raw transport", errors.New("dial tcp 10.0.0.1:8740: connect: connection refused"), "Connection Failed"},
		{"unknown", errors.New("something odd"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Humanize(tt.err)
			assert.Equal(t, tt.title, fe.Title)
			assert.Equal(t, tt.err.Error(), fe.Raw)
		})
	}
}

func TestRender(t *testing.T) {
	out := FriendlyError{Title: "Busy", Message: "wait", Hints: []string{"try again"}}.Render()
	assert.Contains(t, out, "Busy")
	assert.Contains(t, out, "Suggestions:")
	assert.Contains(t, out, "try again")
}
