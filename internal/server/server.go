// Package server runs the foreground cadenza server: a ROUTER socket facing clients, score
// state for the commands it answers itself, and a pool of worker processes for the rest.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rbright/cadenza/internal/lifecycle"
	"github.com/rbright/cadenza/internal/protocol"
)

const (
	DefaultBind = "0.0.0.0"
	// backendEndpoint binds an ephemeral loopback port for worker connections.
	backendEndpoint = "tcp://127.0.0.1:0"
	// DefaultWorkerStopTimeout bounds the wait for each worker to exit after SIGTERM.
	DefaultWorkerStopTimeout = 5 * time.Second
)

type Options struct {
	Bind    string
	Port    int
	Workers int

	Launcher lifecycle.Launcher
	Handler  *Handler

	HeartbeatTTL      time.Duration
	WorkerStopTimeout time.Duration
	Logger            *slog.Logger

	// Ready, when set, is called with both bound endpoints before the loop starts.
	Ready func(frontend, backend string)
}

type server struct {
	opts     Options
	logger   *slog.Logger
	handler  *Handler
	frontend zmq4.Socket
	backend  zmq4.Socket
	workers  *registry
}

// Serve runs until ctx ends or a client stops the server.
func Serve(ctx context.Context, opts Options) error {
	if opts.Bind == "" {
		opts.Bind = DefaultBind
	}
	if opts.WorkerStopTimeout <= 0 {
		opts.WorkerStopTimeout = DefaultWorkerStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Workers > 0 && opts.Launcher == nil {
		return errors.New("server: workers requested without a launcher")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frontendAddr := "tcp://" + net.JoinHostPort(opts.Bind, strconv.Itoa(opts.Port))
	frontend := zmq4.NewRouter(ctx)
	defer frontend.Close()
	if err := frontend.Listen(frontendAddr); err != nil {
		return fmt.Errorf("listen %s: %w", frontendAddr, err)
	}

	backend := zmq4.NewRouter(ctx)
	defer backend.Close()
	if err := backend.Listen(backendEndpoint); err != nil {
		return fmt.Errorf("listen worker backend: %w", err)
	}
	backendAddr := "tcp://" + backend.Addr().String()

	s := &server{
		opts:     opts,
		logger:   logger,
		handler:  opts.Handler,
		frontend: frontend,
		backend:  backend,
		workers:  newRegistry(opts.HeartbeatTTL, logger),
	}
	defer s.workers.close()
	if s.handler == nil {
		s.handler = NewHandler(opts.Port)
	}
	s.handler.Workers = s.workers.counts

	pids := s.spawnWorkers(ctx, backendAddr)
	defer stopWorkers(pids, opts.WorkerStopTimeout, logger)

	logger.Info("server listening", "frontend", frontendAddr, "backend", backendAddr, "workers", len(pids))
	if opts.Ready != nil {
		opts.Ready("tcp://"+frontend.Addr().String(), backendAddr)
	}

	clients := receive(ctx, frontend)
	workers := receive(ctx, backend)
	for {
		select {
		case <-ctx.Done():
			logger.Info("server shutting down", "reason", ctx.Err())
			return nil
		case frames, ok := <-clients:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("server: frontend socket closed")
			}
			if s.fromClient(frames) {
				logger.Info("server stopped by client request")
				return nil
			}
		case frames, ok := <-workers:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("server: backend socket closed")
			}
			s.fromWorker(frames)
		}
	}
}

// receive pumps messages from sock until it fails or ctx ends.
func receive(ctx context.Context, sock zmq4.Socket) <-chan [][]byte {
	out := make(chan [][]byte)
	go func() {
		defer close(out)
		for {
			msg, err := sock.Recv()
			if err != nil {
				return
			}
			select {
			case out <- msg.Frames:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *server) spawnWorkers(ctx context.Context, backend string) []int {
	pids := make([]int, 0, s.opts.Workers)
	for i := 0; i < s.opts.Workers; i++ {
		pid, err := s.opts.Launcher.Launch(ctx, lifecycle.WorkerArgs(s.opts.Port, backend))
		if err != nil {
			s.logger.Error("worker launch failed", "error", err)
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// fromClient handles one frontend message: [client, "", json, (target), command].
// It reports whether the server should stop.
func (s *server) fromClient(frames [][]byte) bool {
	if len(frames) < 2 {
		s.logger.Warn("dropping short client message", "frames", len(frames))
		return false
	}
	client := frames[0]

	req, err := protocol.DecodeRequest(frames[1:])
	if err != nil {
		s.reply(client, protocol.Fail(err.Error()))
		return false
	}
	s.logger.Debug("client request", "command", req.Command, "confirming", req.Confirming, "targeted", len(req.TargetWorker) > 0)

	if len(req.TargetWorker) > 0 {
		if !s.workers.known(req.TargetWorker) {
			s.reply(client, noWorker("worker is no longer available"))
			return false
		}
		s.forward(req.TargetWorker, client, req)
		return false
	}

	if needsWorker(req) {
		s.toWorker(client, req)
		return false
	}

	resp := s.handler.Handle(req)
	s.reply(client, resp)
	return req.Command == protocol.CommandStop && resp.Success
}

func needsWorker(req protocol.Request) bool {
	switch req.Command {
	case protocol.CommandPlay, protocol.CommandParse:
		return true
	case protocol.CommandScore:
		mode := req.Opts().As
		return mode != "" && mode != "text"
	default:
		return false
	}
}

// toWorker hands a request to a ready worker. Requests that act on the current score
// carry its text.
func (s *server) toWorker(client []byte, req protocol.Request) {
	worker, ok := s.workers.nextReady()
	if !ok {
		s.reply(client, noWorker("no worker is available yet; try again in a moment"))
		return
	}

	switch {
	case req.Command == protocol.CommandScore:
		req.Body = s.handler.Score().Text
	case req.Command == protocol.CommandPlay && req.Opts().Append:
		s.handler.Append(req.Body)
	case req.Command == protocol.CommandPlay && req.Body == "":
		req.Body = s.handler.Score().Text
	}
	s.workers.claim(worker)
	s.forward(worker, client, req)
}

// forward sends [worker, client, json, command] on the backend.
func (s *server) forward(worker, client []byte, req protocol.Request) {
	req.TargetWorker = nil
	encoded, err := protocol.EncodeRequest(req)
	if err != nil {
		s.reply(client, protocol.Fail(err.Error()))
		return
	}
	frames := append([][]byte{worker, client}, encoded...)
	if err := s.backend.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		s.logger.Warn("forward to worker failed", "worker", string(worker), "error", err)
		s.reply(client, noWorker("worker is no longer available"))
	}
}

// fromWorker handles [worker, status] heartbeats and [worker, client, json] replies.
func (s *server) fromWorker(frames [][]byte) {
	switch {
	case len(frames) == 2:
		s.workers.heartbeat(frames[0], string(frames[1]))
	case len(frames) >= 3:
		worker, client, payload := frames[0], frames[1], frames[2]
		s.workers.release(worker)
		out := [][]byte{client, {}, payload, worker}
		if err := s.frontend.SendMulti(zmq4.NewMsgFrom(out...)); err != nil {
			s.logger.Warn("relay worker reply failed", "worker", string(worker), "error", err)
		}
	default:
		s.logger.Warn("dropping short worker message", "frames", len(frames))
	}
}

// reply sends [client, "", json] on the frontend.
func (s *server) reply(client []byte, resp protocol.Response) {
	encoded, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("encode response failed", "error", err)
		return
	}
	frames := append([][]byte{client, {}}, encoded...)
	if err := s.frontend.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		s.logger.Warn("reply to client failed", "error", err)
	}
}

func noWorker(body string) protocol.Response {
	return protocol.Response{Success: false, NoWorker: true, Body: body}
}

// stopWorkers asks each worker to exit and kills the ones that outlive timeout.
func stopWorkers(pids []int, timeout time.Duration, logger *slog.Logger) {
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		if err := terminate(pid); err != nil {
			logger.Debug("terminate worker", "pid", pid, "error", err)
			continue
		}
		worker := lifecycle.Worker{PID: pid}
		if !worker.WaitUnreachable(context.Background(), timeout) {
			logger.Warn("worker ignored SIGTERM; killing", "pid", pid)
			_ = kill(pid)
		}
	}
}
