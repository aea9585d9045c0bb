package fsm

import "fmt"

type State string

type Event string

const (
	StateDown     State = "down"
	StateStarting State = "starting"
	StateUp       State = "up"
)

const (
	EventLaunch      Event = "launch"
	EventReachable   Event = "reachable"
	EventUnreachable Event = "unreachable"
	EventTimeout     Event = "timeout"
)

// Transition returns the server state after event. Losing connectivity is valid from any state.
func Transition(current State, event Event) (State, error) {
	if event == EventUnreachable {
		switch current {
		case StateDown, StateStarting, StateUp:
			return StateDown, nil
		}
	}

	switch current {
	case StateDown:
		switch event {
		case EventLaunch:
			return StateStarting, nil
		case EventReachable:
			return StateUp, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarting:
		switch event {
		case EventReachable:
			return StateUp, nil
		case EventTimeout:
			return StateDown, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateUp:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
