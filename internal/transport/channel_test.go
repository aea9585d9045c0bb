package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rbright/cadenza/internal/protocol"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	kind    SocketKind
	replies chan [][]byte
	closed  chan struct{}

	mu   sync.Mutex
	sent [][][]byte
	once sync.Once
}

func newFakeSocket(kind SocketKind) *fakeSocket {
	return &fakeSocket{kind: kind, replies: make(chan [][]byte, 4), closed: make(chan struct{})}
}

func (s *fakeSocket) Send(frames [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frames)
	return nil
}

func (s *fakeSocket) Recv() ([][]byte, error) {
	select {
	case reply := <-s.replies:
		return reply, nil
	case <-s.closed:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	dialErr error
	// reply, when set, is queued on every new socket.
	reply func() [][]byte
}

func (d *fakeDialer) Dial(_ context.Context, kind SocketKind, _ string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	sock := newFakeSocket(kind)
	if d.reply != nil {
		sock.replies <- d.reply()
	}
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

func (d *fakeDialer) dialed() []*fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSocket(nil), d.sockets...)
}

func okReply(t *testing.T, body string) func() [][]byte {
	t.Helper()
	frames, err := protocol.EncodeResponse(protocol.OK(body))
	require.NoError(t, err)
	return func() [][]byte { return frames }
}

func TestSendReturnsResponse(t *testing.T) {
	dialer := &fakeDialer{reply: okReply(t, "pong")}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	resp, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandPing}, 50*time.Millisecond, 3)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "pong", resp.Body)

	sockets := dialer.dialed()
	require.Len(t, sockets, 1)
	require.Equal(t, KindRequest, sockets[0].kind)
	require.False(t, sockets[0].isClosed())
}

func TestSendReusesSocketAfterSuccess(t *testing.T) {
	dialer := &fakeDialer{reply: okReply(t, "pong")}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandPing}, 50*time.Millisecond, 0)
	require.NoError(t, err)

	sock := dialer.dialed()[0]
	sock.replies <- okReply(t, "again")()
	resp, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandPing}, 50*time.Millisecond, 0)
	require.NoError(t, err)
	require.Equal(t, "again", resp.Body)
	require.Len(t, dialer.dialed(), 1)
}

func TestSendMakesRetriesPlusOneAttempts(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		dialer := &fakeDialer{}
		ch := New(dialer, "localhost", 27713, nil)

		_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandStatus}, 10*time.Millisecond, retries)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNoResponse)

		var noResp *NoResponseError
		require.True(t, errors.As(err, &noResp))
		require.Equal(t, retries+1, noResp.Attempts)
		require.Contains(t, err.Error(), "server is down")

		sockets := dialer.dialed()
		require.Len(t, sockets, retries+1)
		for _, sock := range sockets {
			require.True(t, sock.isClosed(), "each timed-out socket is torn down")
			require.Len(t, sock.sent, 1)
		}
		require.NoError(t, ch.Close())
	}
}

func TestSendNegativeRetriesClampsToOneAttempt(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandPlay}, 10*time.Millisecond, -4)
	require.ErrorIs(t, err, ErrNoResponse)
	require.Len(t, dialer.dialed(), 1)
}

func TestSendDialFailureCountsAsAttemptAndSendsNothing(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandStop}, 10*time.Millisecond, 2)
	var noResp *NoResponseError
	require.True(t, errors.As(err, &noResp))
	require.Equal(t, 3, noResp.Attempts)
	require.ErrorContains(t, noResp.Err, "connection refused")
	require.Empty(t, dialer.dialed())
}

// stallingDialer blocks every Dial until release is closed, like a peer that accepts the
// connection but never completes the handshake.
type stallingDialer struct {
	release chan struct{}

	mu      sync.Mutex
	dials   int
	sockets []*fakeSocket
}

func newStallingDialer() *stallingDialer {
	return &stallingDialer{release: make(chan struct{})}
}

func (d *stallingDialer) Dial(_ context.Context, kind SocketKind, _ string) (Socket, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	<-d.release
	sock := newFakeSocket(kind)
	d.mu.Lock()
	d.sockets = append(d.sockets, sock)
	d.mu.Unlock()
	return sock, nil
}

func (d *stallingDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *stallingDialer) late() []*fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSocket(nil), d.sockets...)
}

func TestSendStalledDialCountsAgainstTimeout(t *testing.T) {
	dialer := newStallingDialer()
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	start := time.Now()
	_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandPing}, 50*time.Millisecond, 2)
	elapsed := time.Since(start)

	var noResp *NoResponseError
	require.True(t, errors.As(err, &noResp))
	require.Equal(t, 3, noResp.Attempts)
	require.ErrorContains(t, noResp.Err, "dial timed out")
	require.Equal(t, 3, dialer.dialCount())
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	require.Less(t, elapsed, 2*time.Second)

	close(dialer.release)
	require.Eventually(t, func() bool {
		sockets := dialer.late()
		if len(sockets) != 3 {
			return false
		}
		for _, sock := range sockets {
			if !sock.isClosed() {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond, "sockets from abandoned dials are closed")
}

func TestSendCancelDuringStalledDial(t *testing.T) {
	dialer := newStallingDialer()
	defer close(dialer.release)
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ch.Send(ctx, protocol.Request{Command: protocol.CommandStatus}, 5*time.Second, 3)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrNoResponse)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, dialer.dialCount())
}

func TestSendSilentTCPPeerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	port := ln.Addr().(*net.TCPAddr).Port
	ch := New(ZMQDialer{DialTimeout: time.Second}, "127.0.0.1", port, nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	_, err = ch.Send(ctx, protocol.Request{Command: protocol.CommandPing}, 100*time.Millisecond, 2)
	require.ErrorIs(t, err, ErrNoResponse)
	require.NoError(t, ctx.Err())
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestSendMalformedResponseIsNotRetried(t *testing.T) {
	dialer := &fakeDialer{reply: func() [][]byte { return [][]byte{[]byte("not json")} }}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandInfo}, 50*time.Millisecond, 3)
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.NotErrorIs(t, err, ErrNoResponse)

	sockets := dialer.dialed()
	require.Len(t, sockets, 1)
	require.True(t, sockets[0].isClosed())
}

func TestSendHonorsCancellation(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ch.Send(ctx, protocol.Request{Command: protocol.CommandStatus}, 5*time.Second, 3)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrNoResponse)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, dialer.dialed(), 1)
	require.True(t, dialer.dialed()[0].isClosed())
}

func TestSendAlreadyCancelledDialsNothing(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.Send(ctx, protocol.Request{Command: protocol.CommandStatus}, time.Second, 3)
	require.ErrorIs(t, err, context.Canceled)
	var noResp *NoResponseError
	require.True(t, errors.As(err, &noResp))
	require.Zero(t, noResp.Attempts)
	require.Empty(t, dialer.dialed())
}

func TestSendTargetedRequestUsesRoutedSocket(t *testing.T) {
	dialer := &fakeDialer{reply: okReply(t, "playing")}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	req := protocol.Request{Command: protocol.CommandPlayStatus, TargetWorker: []byte("w-1")}
	_, err := ch.Send(context.Background(), req, 50*time.Millisecond, 0)
	require.NoError(t, err)

	sockets := dialer.dialed()
	require.Len(t, sockets, 1)
	require.Equal(t, KindRouted, sockets[0].kind)
	require.Equal(t, []byte("w-1"), sockets[0].sent[0][1])

	// The routed socket stays open for the next worker-addressed exchange.
	sockets[0].replies <- okReply(t, "done")()
	resp, err := ch.Send(context.Background(), req, 50*time.Millisecond, 0)
	require.NoError(t, err)
	require.Equal(t, "done", resp.Body)
	require.Len(t, dialer.dialed(), 1)
}

func TestSendAfterCloseFails(t *testing.T) {
	ch := New(&fakeDialer{}, "localhost", 27713, nil)
	require.NoError(t, ch.Close())

	_, err := ch.Send(context.Background(), protocol.Request{Command: protocol.CommandPing}, time.Millisecond, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSendRejectsInvalidRequest(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New(dialer, "localhost", 27713, nil)
	defer ch.Close()

	_, err := ch.Send(context.Background(), protocol.Request{}, time.Millisecond, 0)
	require.Error(t, err)
	require.Empty(t, dialer.dialed())
}

func TestEndpoint(t *testing.T) {
	require.Equal(t, "tcp://localhost:27713", Endpoint("localhost", 27713))
	require.Equal(t, "tcp://[::1]:9000", Endpoint("::1", 9000))
}
