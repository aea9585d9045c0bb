// Package worker runs a foreground cadenza worker: it connects to a server's backend,
// reports readiness, and executes the playback and parsing jobs routed to it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/rbright/cadenza/internal/protocol"
)

// DefaultHeartbeat is the interval between status frames.
const DefaultHeartbeat = time.Second

type Options struct {
	Backend   string
	ID        string
	Engine    Engine
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Run serves jobs until ctx ends.
func Run(ctx context.Context, opts Options) error {
	if opts.Backend == "" {
		return errors.New("worker: backend endpoint is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Engine == nil {
		opts.Engine = SynthEngine{}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("worker", opts.ID)

	sock := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(opts.ID)))
	defer sock.Close()
	if err := sock.Dial(opts.Backend); err != nil {
		return fmt.Errorf("dial backend %s: %w", opts.Backend, err)
	}

	handler := NewHandler(opts.Engine, logger)
	defer handler.Stop()

	report := func() {
		if err := sock.Send(zmq4.NewMsgString(handler.Status())); err != nil {
			logger.Warn("status send failed", "error", err)
		}
	}

	jobs := make(chan [][]byte)
	go func() {
		defer close(jobs)
		for {
			msg, err := sock.Recv()
			if err != nil {
				return
			}
			select {
			case jobs <- msg.Frames:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(opts.Heartbeat)
	defer ticker.Stop()

	logger.Info("worker ready", "backend", opts.Backend)
	report()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			return nil
		case <-ticker.C:
			report()
		case <-handler.Changed():
			report()
		case frames, ok := <-jobs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("worker: backend connection closed")
			}
			serve(ctx, sock, handler, frames, logger)
			report()
		}
	}
}

// serve answers one [client, json, command] job with [client, json].
func serve(ctx context.Context, sock zmq4.Socket, handler *Handler, frames [][]byte, logger *slog.Logger) {
	if len(frames) < 2 {
		logger.Warn("dropping short job", "frames", len(frames))
		return
	}
	client := frames[0]

	var resp protocol.Response
	req, err := protocol.DecodeRequest(frames[1:])
	if err != nil {
		resp = protocol.Fail(err.Error())
	} else {
		logger.Debug("job", "command", req.Command)
		resp = handler.Handle(ctx, req)
	}

	encoded, err := protocol.EncodeResponse(resp)
	if err != nil {
		logger.Error("encode response failed", "error", err)
		return
	}
	if err := sock.SendMulti(zmq4.NewMsgFrom(append([][]byte{client}, encoded...)...)); err != nil {
		logger.Warn("reply send failed", "error", err)
	}
}
