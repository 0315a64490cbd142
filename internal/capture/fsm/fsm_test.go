package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := Initial

	steps := []struct {
		event Event
		want  Status
	}{
		{EventActivate, Status{StateActive, PhasePlaying}},
		{EventPlaybackEnded, Status{StateActive, PhaseRecording}},
		{EventSubmit, Status{StateActive, PhaseTranscribing}},
		{EventRetry, Status{StateActive, PhaseRecording}},
		{EventSubmit, Status{StateActive, PhaseTranscribing}},
		{EventNextQuestion, Status{StateActive, PhasePlaying}},
		{EventFinish, Status{StateCompleted, PhaseNone}},
	}
	for _, step := range steps {
		next, err := Transition(s, step.event)
		require.NoError(t, err, "%s --(%s)-->", s, step.event)
		require.Equal(t, step.want, next)
		s = next
	}
}

func TestFinishFromAnyLiveStatus(t *testing.T) {
	for _, s := range []Status{
		Initial,
		{StateActive, PhasePlaying},
		{StateActive, PhaseRecording},
		{StateActive, PhaseTranscribing},
	} {
		next, err := Transition(s, EventFinish)
		require.NoError(t, err)
		require.Equal(t, Status{State: StateCompleted}, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		event  Event
	}{
		{"setup playback", Initial, EventPlaybackEnded},
		{"setup submit", Initial, EventSubmit},
		{"playing submit", Status{StateActive, PhasePlaying}, EventSubmit},
		{"playing activate", Status{StateActive, PhasePlaying}, EventActivate},
		{"recording playback", Status{StateActive, PhaseRecording}, EventPlaybackEnded},
		{"recording next question", Status{StateActive, PhaseRecording}, EventNextQuestion},
		{"transcribing submit", Status{StateActive, PhaseTranscribing}, EventSubmit},
		{"completed finish", Status{State: StateCompleted}, EventFinish},
		{"completed activate", Status{State: StateCompleted}, EventActivate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.status, tc.event)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, tc.status, next)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(Status{State: "mystery"}, EventActivate)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next.State)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "SETUP", Initial.String())
	require.Equal(t, "ACTIVE/RECORDING", Status{StateActive, PhaseRecording}.String())
}
