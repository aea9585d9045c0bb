// Package lifecycle starts, stops, and waits on cadenza server and worker processes.
package lifecycle

import (
	"context"
	"time"
)

const (
	// PingTimeout and PingRetries bound one reachability check of a server.
	PingTimeout = 100 * time.Millisecond
	PingRetries = 5
	// PollInterval is the pause between reachability checks while waiting.
	PollInterval = 250 * time.Millisecond
)

// Process is something that can be checked and waited on for reachability.
type Process interface {
	CheckReachable(ctx context.Context) bool
	WaitReachable(ctx context.Context, budget time.Duration) bool
	WaitUnreachable(ctx context.Context, budget time.Duration) bool
}

// Pinger is satisfied by *dispatch.Dispatcher.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration, retries int) bool
}

// Server is reachable when it answers a ping.
type Server struct {
	Pinger   Pinger
	Interval time.Duration
}

func (s Server) CheckReachable(ctx context.Context) bool {
	return s.Pinger.Ping(ctx, PingTimeout, PingRetries)
}

func (s Server) WaitReachable(ctx context.Context, budget time.Duration) bool {
	return poll(ctx, budget, s.Interval, func() bool { return s.CheckReachable(ctx) })
}

func (s Server) WaitUnreachable(ctx context.Context, budget time.Duration) bool {
	return poll(ctx, budget, s.Interval, func() bool { return !s.CheckReachable(ctx) })
}

// Worker is reachable while its OS process exists. Workers answer no pings of their own.
type Worker struct {
	PID      int
	Alive    func(pid int) bool
	Interval time.Duration
}

func (w Worker) CheckReachable(context.Context) bool {
	alive := w.Alive
	if alive == nil {
		alive = ProcessAlive
	}
	return alive(w.PID)
}

func (w Worker) WaitReachable(ctx context.Context, budget time.Duration) bool {
	return poll(ctx, budget, w.Interval, func() bool { return w.CheckReachable(ctx) })
}

func (w Worker) WaitUnreachable(ctx context.Context, budget time.Duration) bool {
	return poll(ctx, budget, w.Interval, func() bool { return !w.CheckReachable(ctx) })
}

// poll evaluates done at a fixed interval until it holds, the budget runs out, or ctx ends.
// done is always evaluated at least once.
func poll(ctx context.Context, budget, interval time.Duration, done func() bool) bool {
	if interval <= 0 {
		interval = PollInterval
	}
	deadline := time.Now().Add(budget)
	for {
		if done() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
