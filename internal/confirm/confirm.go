// Package confirm re-drives declined operations once the user agrees to lose work.
package confirm

import (
	"context"
	"fmt"

	"github.com/rbright/cadenza/internal/dispatch"
	"github.com/rbright/cadenza/internal/protocol"
)

// Sender is the subset of *dispatch.Dispatcher used here.
type Sender interface {
	Send(ctx context.Context, req protocol.Request) dispatch.Result
}

// Decider answers a yes/no question about a warning.
type Decider interface {
	Confirm(ctx context.Context, warning string) (bool, error)
}

// AutoConfirm says yes without asking.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, string) (bool, error) { return true, nil }

type State int

const (
	// StateCompleted means the first exchange was final.
	StateCompleted State = iota + 1
	// StateConfirmed means the operation was declined, confirmed, and resent.
	StateConfirmed
	// StateAborted means the operation was declined and the user said no.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateConfirmed:
		return "confirmed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the terminal state and the last result observed.
type Outcome struct {
	State  State
	Result dispatch.Result
}

// Aborted reports whether the operation was abandoned after a decline.
func (o Outcome) Aborted() bool { return o.State == StateAborted }

// Run sends req unconfirmed. If the server declines with a known signal, decider is asked
// once; a yes resends the same request with Confirming set. The only error returned is one
// from the decider.
func Run(ctx context.Context, sender Sender, req protocol.Request, decider Decider) (Outcome, error) {
	req.Confirming = false
	first := sender.Send(ctx, req)
	if !first.Declined() || !first.Signal().Known() {
		return Outcome{State: StateCompleted, Result: first}, nil
	}

	ok, err := decider.Confirm(ctx, Warning(first.Signal(), req.Command))
	if err != nil {
		return Outcome{State: StateAborted, Result: first}, fmt.Errorf("confirm %s: %w", req.Command, err)
	}
	if !ok {
		return Outcome{State: StateAborted, Result: first}, nil
	}

	req.Confirming = true
	return Outcome{State: StateConfirmed, Result: sender.Send(ctx, req)}, nil
}

// Warning is the question put to the user for a decline signal.
func Warning(signal protocol.Signal, command string) string {
	switch signal {
	case protocol.SignalUnsavedChanges:
		switch command {
		case protocol.CommandStop:
			return "The score has unsaved changes that will be lost.\nStop the server anyway?"
		case protocol.CommandNew:
			return "The score has unsaved changes that will be lost.\nStart a new score anyway?"
		default:
			return "The current score has unsaved changes that will be lost.\nProceed anyway?"
		}
	case protocol.SignalExistingFile:
		return "A file already exists at the target path and will be overwritten.\nOverwrite it?"
	default:
		return fmt.Sprintf("The server declined %q (%s).\nProceed anyway?", command, signal)
	}
}
