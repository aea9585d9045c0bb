package server

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rbright/cadenza/internal/protocol"
	"github.com/rbright/cadenza/internal/transport"
	"github.com/stretchr/testify/require"
)

type endpoints struct {
	frontend string
	backend  string
}

type fakeLauncher struct {
	mu   sync.Mutex
	args [][]string
}

func (l *fakeLauncher) Launch(_ context.Context, args []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.args = append(l.args, args)
	return 0, nil
}

// startServer runs Serve on a loopback ephemeral port and returns its endpoints.
func startServer(t *testing.T, opts Options) (endpoints, <-chan error) {
	t.Helper()

	ready := make(chan endpoints, 1)
	opts.Bind = "127.0.0.1"
	opts.Ready = func(frontend, backend string) { ready <- endpoints{frontend: frontend, backend: backend} }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, opts) }()

	select {
	case ep := <-ready:
		return ep, done
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	return endpoints{}, done
}

func clientFor(t *testing.T, frontend string) *transport.Channel {
	t.Helper()
	host, portText, err := net.SplitHostPort(strings.TrimPrefix(frontend, "tcp://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	channel := transport.New(transport.ZMQDialer{DialTimeout: time.Second}, host, port, nil)
	t.Cleanup(func() { _ = channel.Close() })
	return channel
}

func send(t *testing.T, channel *transport.Channel, req protocol.Request) protocol.Response {
	t.Helper()
	resp, err := channel.Send(context.Background(), req, 2*time.Second, 0)
	require.NoError(t, err)
	return resp
}

func TestServeRoundTripAndStop(t *testing.T) {
	ep, done := startServer(t, Options{})
	channel := clientFor(t, ep.frontend)

	resp := send(t, channel, protocol.Request{Command: protocol.CommandPing})
	require.Equal(t, "pong", resp.Body)

	resp = send(t, channel, protocol.Request{Command: protocol.CommandAppend, Body: "piano: c"})
	require.True(t, resp.Success)

	resp = send(t, channel, protocol.Request{Command: protocol.CommandStop})
	require.Equal(t, protocol.SignalUnsavedChanges, resp.Signal)

	resp = send(t, channel, protocol.Request{Command: protocol.CommandStop, Confirming: true})
	require.True(t, resp.Success)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeRepliesNoWorkerWithoutReadyWorkers(t *testing.T) {
	ep, _ := startServer(t, Options{})
	channel := clientFor(t, ep.frontend)

	resp := send(t, channel, protocol.Request{Command: protocol.CommandPlay, Body: "piano: c"})
	require.False(t, resp.Success)
	require.True(t, resp.NoWorker)

	resp = send(t, channel, protocol.Request{Command: protocol.CommandPlayStatus, TargetWorker: []byte("ghost")})
	require.True(t, resp.NoWorker)
}

func TestServeSpawnsWorkersAgainstBackend(t *testing.T) {
	launcher := &fakeLauncher{}
	ep, _ := startServer(t, Options{Port: 0, Workers: 2, Launcher: launcher})

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	require.Len(t, launcher.args, 2)
	require.Contains(t, launcher.args[0], ep.backend)
	require.Contains(t, launcher.args[0], "worker")
}

func TestServeRequiresLauncherForWorkers(t *testing.T) {
	err := Serve(context.Background(), Options{Workers: 1})
	require.ErrorContains(t, err, "launcher")
}

// runFakeWorker answers every job with "<command>: <body>" after announcing itself ready.
func runFakeWorker(t *testing.T, backend, id string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(id)))
	t.Cleanup(func() {
		cancel()
		_ = sock.Close()
	})
	require.NoError(t, sock.Dial(backend))
	require.NoError(t, sock.Send(zmq4.NewMsgString(protocol.WorkerReady)))

	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				return
			}
			client := msg.Frames[0]
			req, err := protocol.DecodeRequest(msg.Frames[1:])
			if err != nil {
				return
			}
			payload, _ := protocol.EncodeResponse(protocol.OK(req.Command + ": " + req.Body))
			_ = sock.SendMulti(zmq4.NewMsgFrom(client, payload[0]))
			_ = sock.Send(zmq4.NewMsgString(protocol.WorkerReady))
		}
	}()
}

func TestServeRoutesToWorkerAndBack(t *testing.T) {
	ep, _ := startServer(t, Options{})
	runFakeWorker(t, ep.backend, "worker-a")
	channel := clientFor(t, ep.frontend)

	require.Eventually(t, func() bool {
		resp, err := channel.Send(context.Background(), protocol.Request{Command: protocol.CommandStatus}, time.Second, 0)
		return err == nil && strings.Contains(resp.Body, "workers ready: 1/1")
	}, 5*time.Second, 20*time.Millisecond)

	resp := send(t, channel, protocol.Request{Command: protocol.CommandParse, Body: "piano: c"})
	require.True(t, resp.Success)
	require.Equal(t, "parse: piano: c", resp.Body)
	require.Equal(t, "worker-a", string(resp.WorkerAddress))

	send(t, channel, protocol.Request{Command: protocol.CommandAppend, Body: "piano: e"})
	require.Eventually(t, func() bool {
		resp, err := channel.Send(context.Background(), protocol.Request{Command: protocol.CommandStatus}, time.Second, 0)
		return err == nil && strings.Contains(resp.Body, "workers ready: 1/1")
	}, 5*time.Second, 20*time.Millisecond)

	// Playing with no input plays the current score.
	resp = send(t, channel, protocol.Request{Command: protocol.CommandPlay})
	require.Equal(t, "play: piano: e", resp.Body)

	resp = send(t, channel, protocol.Request{Command: protocol.CommandPlayStatus, TargetWorker: resp.WorkerAddress})
	require.Equal(t, "play-status: ", resp.Body)
	require.Equal(t, "worker-a", string(resp.WorkerAddress))
}

func TestNeedsWorker(t *testing.T) {
	require.True(t, needsWorker(protocol.Request{Command: protocol.CommandPlay}))
	require.True(t, needsWorker(protocol.Request{Command: protocol.CommandParse}))
	require.True(t, needsWorker(protocol.Request{Command: protocol.CommandScore, Options: &protocol.Options{As: "lisp"}}))
	require.False(t, needsWorker(protocol.Request{Command: protocol.CommandScore, Options: &protocol.Options{As: "text"}}))
	require.False(t, needsWorker(protocol.Request{Command: protocol.CommandScore}))
	require.False(t, needsWorker(protocol.Request{Command: protocol.CommandSave}))
}
