package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending to processing", from: StatusPending, to: StatusProcessing, want: true},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, want: true},
		{name: "pending to failed", from: StatusPending, to: StatusFailed, want: true},
		{name: "processing to completed", from: StatusProcessing, to: StatusCompleted, want: true},
		{name: "processing to failed", from: StatusProcessing, to: StatusFailed, want: true},
		{name: "processing back to pending", from: StatusProcessing, to: StatusPending, want: false},
		{name: "completed to failed", from: StatusCompleted, to: StatusFailed, want: false},
		{name: "failed to completed", from: StatusFailed, to: StatusCompleted, want: false},
		{name: "completed to completed", from: StatusCompleted, to: StatusCompleted, want: false},
		{name: "completed to processing", from: StatusCompleted, to: StatusProcessing, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("CANCELED").Valid())
	assert.False(t, Status("pending").Valid())
}

func TestSourcesOf(t *testing.T) {
	tests := []struct {
		next Status
		want []Status
	}{
		{next: StatusPending, want: nil},
		{next: StatusProcessing, want: []Status{StatusPending}},
		{next: StatusCompleted, want: []Status{StatusPending, StatusProcessing}},
		{next: StatusFailed, want: []Status{StatusPending, StatusProcessing}},
	}

	for _, tt := range tests {
		t.Run(tt.next.String(), func(t *testing.T) {
			got := SourcesOf(tt.next)
			assert.Equal(t, tt.want, got)
			for _, s := range got {
				assert.False(t, s.IsTerminal())
			}
		})
	}
}
