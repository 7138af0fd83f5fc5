// ABOUTME: Tests for the funnel stage vocabulary and transition table
// ABOUTME: Covers parsing, rejection of unknown values, and allowed/blocked transitions

package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	s, err := ParseStage("quoted")
	require.NoError(t, err)
	assert.Equal(t, StageQuoted, s)
}

func TestParseStage_RejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "QUOTED", "won", "stage_3", "new lead"} {
		_, err := ParseStage(raw)
		assert.ErrorIs(t, err, ErrUnknownStage, "raw=%q", raw)
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Stage
		to      Stage
		allowed bool
	}{
		{"forward progression", StageNewLead, StageQualifying, true},
		{"qualifying to quoted", StageQualifying, StageQuoted, true},
		{"quoted to booked", StageQuoted, StageBooked, true},
		{"booked to completed", StageBooked, StageCompleted, true},
		{"close from anywhere", StageQualifying, StageClosed, true},
		{"close completed", StageCompleted, StageClosed, true},
		{"requote after booking fell through", StageBooked, StageQuoted, true},
		{"same stage is idempotent", StageQuoted, StageQuoted, true},
		{"no skipping ahead", StageNewLead, StageBooked, false},
		{"no reopening closed", StageClosed, StageNewLead, false},
		{"no uncompleting", StageCompleted, StageBooked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestTransition_RejectsUnknownStages(t *testing.T) {
	assert.ErrorIs(t, Transition(Stage("bogus"), StageClosed), ErrUnknownStage)
	assert.ErrorIs(t, Transition(StageNewLead, Stage("bogus")), ErrUnknownStage)
}

func TestVocabularies(t *testing.T) {
	assert.True(t, RoleCustomer.Valid())
	assert.False(t, Role("admin").Valid())
	assert.True(t, DirectionInbound.Valid())
	assert.False(t, Direction("in").Valid())
	assert.True(t, StatusDelivered.Valid())
	assert.False(t, MessageStatus("seen").Valid())
}
