// Package fsm is the capture controller's state machine: SETUP, ACTIVE and
// COMPLETED, with the per-turn phases nested inside ACTIVE.
package fsm

import "fmt"

type State string

type Phase string

type Event string

const (
	StateSetup     State = "SETUP"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
)

const (
	PhaseNone         Phase = ""
	PhasePlaying      Phase = "PLAYING_QUESTION"
	PhaseRecording    Phase = "RECORDING"
	PhaseTranscribing Phase = "TRANSCRIBING"
)

const (
	// EventActivate: media acquired, first question ready.
	EventActivate Event = "activate"
	// EventPlaybackEnded: question audio finished (or failed) playing.
	EventPlaybackEnded Event = "playback_ended"
	// EventSubmit: recorder stopped or silence skip, answer in flight.
	EventSubmit Event = "submit"
	// EventNextQuestion: server returned a new question.
	EventNextQuestion Event = "next_question"
	// EventRetry: submission failed, record the turn again.
	EventRetry Event = "retry"
	// EventFinish: termination, explicit end, fatal error or teardown.
	EventFinish Event = "finish"
)

// Status is the top-level state plus the nested phase, which is only set
// while ACTIVE.
type Status struct {
	State State
	Phase Phase
}

func (s Status) String() string {
	if s.Phase == PhaseNone {
		return string(s.State)
	}
	return string(s.State) + "/" + string(s.Phase)
}

// Initial is where every controller starts.
var Initial = Status{State: StateSetup}

// Transition applies event to current. On error current is returned
// unchanged.
func Transition(current Status, event Event) (Status, error) {
	switch current.State {
	case StateSetup:
		switch event {
		case EventActivate:
			return Status{State: StateActive, Phase: PhasePlaying}, nil
		case EventFinish:
			return Status{State: StateCompleted}, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		if event == EventFinish {
			return Status{State: StateCompleted}, nil
		}
		return activeTransition(current, event)
	case StateCompleted:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current.State)
	}
}

func activeTransition(current Status, event Event) (Status, error) {
	switch current.Phase {
	case PhasePlaying:
		if event == EventPlaybackEnded {
			return Status{State: StateActive, Phase: PhaseRecording}, nil
		}
	case PhaseRecording:
		if event == EventSubmit {
			return Status{State: StateActive, Phase: PhaseTranscribing}, nil
		}
	case PhaseTranscribing:
		switch event {
		case EventNextQuestion:
			return Status{State: StateActive, Phase: PhasePlaying}, nil
		case EventRetry:
			return Status{State: StateActive, Phase: PhaseRecording}, nil
		}
	default:
		return current, fmt.Errorf("unknown phase %q", current.Phase)
	}
	return current, invalidTransition(current, event)
}

func invalidTransition(status Status, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", status, event)
}
