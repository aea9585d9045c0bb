package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
)

// ZMQDialer opens ZeroMQ sockets. Each Dial is a single connection attempt; retrying is
// the Channel's job.
type ZMQDialer struct {
	DialTimeout time.Duration
}

func (d ZMQDialer) Dial(ctx context.Context, kind SocketKind, endpoint string) (Socket, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	opts := []zmq4.Option{
		zmq4.WithDialerTimeout(timeout),
		zmq4.WithDialerMaxRetries(0),
		zmq4.WithAutomaticReconnect(false),
	}

	// The socket context outlives ctx: it is torn down by Close, not by the caller's deadline.
	sockCtx := context.WithoutCancel(ctx)

	var sock zmq4.Socket
	switch kind {
	case KindRequest:
		sock = zmq4.NewReq(sockCtx, opts...)
	case KindRouted:
		sock = zmq4.NewDealer(sockCtx, opts...)
	default:
		return nil, fmt.Errorf("unsupported socket kind %d", kind)
	}

	if err := sock.Dial(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s socket %s: %w", kind, endpoint, err)
	}
	return &zmqSocket{sock: sock, kind: kind}, nil
}

type zmqSocket struct {
	sock zmq4.Socket
	kind SocketKind
}

func (s *zmqSocket) Send(frames [][]byte) error {
	if s.kind == KindRouted {
		// DEALER sockets carry no envelope of their own; mirror the REQ delimiter so the
		// server sees one framing for both kinds.
		frames = append([][]byte{{}}, frames...)
	}
	return s.sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s *zmqSocket) Recv() ([][]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}
