// Package transport delivers one request envelope to a cadenza server and waits, with a
// bounded timeout and retry budget, for the matching response.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// SocketKind selects the socket pattern used for an exchange.
type SocketKind int

const (
	// KindRequest is a strict send/receive (REQ) socket.
	KindRequest SocketKind = iota + 1
	// KindRouted is the persistent DEALER socket used for worker-addressed exchanges.
	KindRouted
)

func (k SocketKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindRouted:
		return "routed"
	default:
		return "unknown"
	}
}

// Socket is one connected multipart message socket.
type Socket interface {
	Send(frames [][]byte) error
	Recv() ([][]byte, error)
	Close() error
}

// Dialer opens sockets to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, kind SocketKind, endpoint string) (Socket, error)
}

// Endpoint formats a tcp endpoint for host:port.
func Endpoint(host string, port int) string {
	return fmt.Sprintf("tcp://%s", net.JoinHostPort(host, strconv.Itoa(port)))
}
