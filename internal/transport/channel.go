package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/cadenza/internal/protocol"
)

const (
	// DefaultTimeout bounds a single attempt's wait for a response.
	DefaultTimeout = 2500 * time.Millisecond
	// DefaultRetries is the number of additional attempts after the first.
	DefaultRetries = 3
)

const downHint = "server is down; to start the server, run `cadenza up`"

var (
	// ErrNoResponse matches a NoResponseError via errors.Is.
	ErrNoResponse = errors.New("no response from server")
	// ErrMalformedResponse is returned when a reply cannot be decoded into a Response.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("channel closed")
)

// NoResponseError reports that every attempt timed out or failed to connect.
type NoResponseError struct {
	Endpoint string
	Attempts int
	Hint     string
	Err      error
}

func (e *NoResponseError) Error() string {
	msg := fmt.Sprintf("no response from %s after %d attempt(s)", e.Endpoint, e.Attempts)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

func (e *NoResponseError) Unwrap() error { return e.Err }

func (e *NoResponseError) Is(target error) bool { return target == ErrNoResponse }

// Channel owns the client's sockets to one server endpoint. Sockets are created lazily and
// discarded after any attempt that does not produce a response, so a late reply can never be
// read as the answer to a later request.
type Channel struct {
	dialer   Dialer
	endpoint string
	logger   *slog.Logger

	mu     sync.Mutex
	req    Socket
	routed Socket
	closed bool
}

// New returns a Channel for host:port. A nil logger discards log output.
func New(dialer Dialer, host string, port int, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{
		dialer:   dialer,
		endpoint: Endpoint(host, port),
		logger:   logger,
	}
}

// Endpoint reports the endpoint this channel dials.
func (c *Channel) Endpoint() string { return c.endpoint }

// Send delivers req and waits up to timeout per attempt, making at most retries+1 attempts.
// Cancellation is observed before and during every attempt, dial included, and ends the
// loop with a NoResponseError wrapping the context error. Requests carrying a TargetWorker travel over the routed socket.
func (c *Channel) Send(ctx context.Context, req protocol.Request, timeout time.Duration, retries int) (protocol.Response, error) {
	frames, err := protocol.EncodeRequest(req)
	if err != nil {
		return protocol.Response{}, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = 0
	}
	kind := KindRequest
	if len(req.TargetWorker) > 0 {
		kind = KindRouted
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.Response{}, ErrClosed
	}

	attempts := retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return protocol.Response{}, c.noResponse(attempt-1, err)
		}

		c.logger.Debug("request attempt",
			"command", req.Command,
			"endpoint", c.endpoint,
			"attempt", attempt,
			"retries_left", attempts-attempt,
		)
		resp, err := c.attempt(ctx, kind, frames, timeout)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrMalformedResponse) {
			return protocol.Response{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Response{}, c.noResponse(attempt, ctxErr)
		}
		lastErr = err
		c.logger.Warn("request attempt failed",
			"command", req.Command,
			"endpoint", c.endpoint,
			"attempt", attempt,
			"retries_left", attempts-attempt,
			"error", err.Error(),
		)
	}

	return protocol.Response{}, c.noResponse(attempts, lastErr)
}

func (c *Channel) noResponse(attempts int, err error) *NoResponseError {
	return &NoResponseError{
		Endpoint: c.endpoint,
		Attempts: attempts,
		Hint:     downHint,
		Err:      err,
	}
}

// attempt runs one exchange inside a single timeout window: dialing (including the peer's
// handshake), sending, and waiting for the reply all count against it.
func (c *Channel) attempt(ctx context.Context, kind SocketKind, frames [][]byte, timeout time.Duration) (protocol.Response, error) {
	window, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sock, err := c.socket(window, kind, timeout)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := sock.Send(frames); err != nil {
		c.discard(kind)
		return protocol.Response{}, fmt.Errorf("send: %w", err)
	}

	reply, err := recvWithin(window, sock, timeout)
	if err != nil {
		c.discard(kind)
		return protocol.Response{}, err
	}

	resp, err := protocol.DecodeResponse(reply)
	if err != nil {
		c.discard(kind)
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp, nil
}

type recvResult struct {
	frames [][]byte
	err    error
}

// recvWithin waits for one reply until window ends. On timeout the caller discards the
// socket, and closing it releases the pending Recv.
func recvWithin(window context.Context, sock Socket, timeout time.Duration) ([][]byte, error) {
	done := make(chan recvResult, 1)
	go func() {
		frames, err := sock.Recv()
		done <- recvResult{frames: frames, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("receive: %w", res.err)
		}
		return res.frames, nil
	case <-window.Done():
		return nil, windowErr(window, "receive", timeout)
	}
}

type dialResult struct {
	sock Socket
	err  error
}

// socket returns the cached socket for kind or dials a new one within window. A dial that
// outlives the window is abandoned and its socket closed once it arrives.
func (c *Channel) socket(window context.Context, kind SocketKind, timeout time.Duration) (Socket, error) {
	slot := c.slot(kind)
	if *slot != nil {
		return *slot, nil
	}

	done := make(chan dialResult, 1)
	go func() {
		sock, err := c.dialer.Dial(window, kind, c.endpoint)
		done <- dialResult{sock: sock, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		*slot = res.sock
		return res.sock, nil
	case <-window.Done():
		go func() {
			if res := <-done; res.sock != nil {
				_ = res.sock.Close()
			}
		}()
		return nil, windowErr(window, "dial", timeout)
	}
}

func windowErr(window context.Context, stage string, timeout time.Duration) error {
	if errors.Is(window.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", stage, timeout)
	}
	return window.Err()
}

func (c *Channel) discard(kind SocketKind) {
	slot := c.slot(kind)
	if *slot == nil {
		return
	}
	if err := (*slot).Close(); err != nil {
		c.logger.Debug("close socket failed", "kind", kind.String(), "error", err.Error())
	}
	*slot = nil
}

func (c *Channel) slot(kind SocketKind) *Socket {
	if kind == KindRouted {
		return &c.routed
	}
	return &c.req
}

// Close releases both sockets. Send fails with ErrClosed afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var errs []error
	for _, kind := range []SocketKind{KindRequest, KindRouted} {
		slot := c.slot(kind)
		if *slot != nil {
			errs = append(errs, (*slot).Close())
			*slot = nil
		}
	}
	return errors.Join(errs...)
}
