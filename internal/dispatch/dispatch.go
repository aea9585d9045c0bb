// Package dispatch turns logical commands into channel exchanges with a retry policy chosen
// by what the command does to the server.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbright/cadenza/internal/protocol"
	"github.com/rbright/cadenza/internal/transport"
)

// Sender is the exchange primitive, satisfied by *transport.Channel.
type Sender interface {
	Send(ctx context.Context, req protocol.Request, timeout time.Duration, retries int) (protocol.Response, error)
}

// Policy bounds one exchange: Timeout per attempt and Retries additional attempts.
type Policy struct {
	Timeout time.Duration
	Retries int
}

// DefaultPolicy is the policy for read-only commands when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{Timeout: transport.DefaultTimeout, Retries: transport.DefaultRetries}
}

type Class int

const (
	ClassRead Class = iota + 1
	ClassMutate
	ClassPlayback
)

func (c Class) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassMutate:
		return "mutate"
	case ClassPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// Classify reports the retry class for a command. Anything unrecognized is treated as a
// mutation so it is never re-sent.
func Classify(command string) Class {
	switch command {
	case protocol.CommandPing,
		protocol.CommandStatus,
		protocol.CommandVersion,
		protocol.CommandInfo,
		protocol.CommandScore,
		protocol.CommandParse,
		protocol.CommandPlayStatus:
		return ClassRead
	case protocol.CommandPlay:
		return ClassPlayback
	default:
		return ClassMutate
	}
}

// Dispatcher sends commands through a Sender. It holds no connection state of its own.
type Dispatcher struct {
	sender Sender
	read   Policy
	logger *slog.Logger
}

// New returns a Dispatcher using read as the policy for read-only commands. Mutations reuse
// its timeout with zero retries.
func New(sender Sender, read Policy, logger *slog.Logger) *Dispatcher {
	if read.Timeout <= 0 {
		read.Timeout = transport.DefaultTimeout
	}
	if read.Retries < 0 {
		read.Retries = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{sender: sender, read: read, logger: logger}
}

// PolicyFor returns the policy a command is sent with.
func (d *Dispatcher) PolicyFor(command string) Policy {
	switch Classify(command) {
	case ClassRead:
		return d.read
	default:
		return Policy{Timeout: d.read.Timeout, Retries: 0}
	}
}

// Dispatch builds a request from its parts and sends it.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, body string, opts *protocol.Options) Result {
	return d.Send(ctx, protocol.Request{Command: command, Body: body, Options: opts})
}

// Send sends req with the policy of its command class.
func (d *Dispatcher) Send(ctx context.Context, req protocol.Request) Result {
	return d.SendWith(ctx, req, d.PolicyFor(req.Command))
}

// SendWith sends req with an explicit policy. Mutations and playback are never retried
// whatever the policy says.
func (d *Dispatcher) SendWith(ctx context.Context, req protocol.Request, policy Policy) Result {
	if Classify(req.Command) != ClassRead {
		policy.Retries = 0
	}

	resp, err := d.sender.Send(ctx, req, policy.Timeout, policy.Retries)
	if err != nil {
		d.logger.Debug("request failed",
			"command", req.Command,
			"confirming", req.Confirming,
			"error", err.Error(),
		)
		return failure(err)
	}

	d.logger.Debug("request completed",
		"command", req.Command,
		"confirming", req.Confirming,
		"success", resp.Success,
		"pending", resp.Pending,
		"signal", string(resp.Signal),
	)
	return fromResponse(resp)
}

// Ping reports whether the server answered a ping within the given budget.
func (d *Dispatcher) Ping(ctx context.Context, timeout time.Duration, retries int) bool {
	res := d.SendWith(ctx, protocol.Request{Command: protocol.CommandPing}, Policy{Timeout: timeout, Retries: retries})
	return res.OK()
}

// AwaitWorker polls play-status on one worker until it stops reporting pending, the exchange
// fails, or ctx ends.
func (d *Dispatcher) AwaitWorker(ctx context.Context, worker []byte, interval time.Duration) Result {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	req := protocol.Request{Command: protocol.CommandPlayStatus, TargetWorker: worker}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res := d.Send(ctx, req)
		if res.Failed() || !res.Response.Pending {
			return res
		}
		select {
		case <-ctx.Done():
			return failure(ctx.Err())
		case <-ticker.C:
		}
	}
}
