package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/cadenza/internal/notation"
	"github.com/rbright/cadenza/internal/protocol"
)

// Handler answers the jobs a server routes to this worker. Playback runs in the
// background; everything else is answered synchronously.
type Handler struct {
	engine Engine
	logger *slog.Logger

	mu      sync.Mutex
	playing bool
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}

	// changed receives a value whenever playback ends.
	changed chan struct{}
}

func NewHandler(engine Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: engine, logger: logger, changed: make(chan struct{}, 1)}
}

// Status is the frame this worker reports to the server backend.
func (h *Handler) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playing {
		return protocol.WorkerBusy
	}
	return protocol.WorkerReady
}

// Changed signals the end of each playback.
func (h *Handler) Changed() <-chan struct{} { return h.changed }

func (h *Handler) Handle(ctx context.Context, req protocol.Request) protocol.Response {
	switch req.Command {
	case protocol.CommandPlay:
		return h.play(ctx, req)
	case protocol.CommandPlayStatus:
		return h.playStatus()
	case protocol.CommandParse:
		return h.parse(ctx, req.Body, req.Opts().As, notation.ModeLisp)
	case protocol.CommandScore:
		return h.parse(ctx, req.Body, req.Opts().As, notation.ModeText)
	case protocol.CommandPing:
		return protocol.OK("pong")
	default:
		return protocol.Fail(fmt.Sprintf("worker cannot handle %q", req.Command))
	}
}

func (h *Handler) parse(ctx context.Context, body, mode, fallback string) protocol.Response {
	if mode == "" {
		mode = fallback
	}
	out, err := h.engine.Parse(ctx, body, mode)
	if err != nil {
		return protocol.Fail(err.Error())
	}
	return protocol.OK(out)
}

// play validates the score, starts playback, and answers pending right away.
func (h *Handler) play(ctx context.Context, req protocol.Request) protocol.Response {
	if strings.TrimSpace(req.Body) == "" {
		return protocol.Fail("nothing to play")
	}
	if _, err := h.engine.Parse(ctx, req.Body, notation.ModeText); err != nil {
		return protocol.Fail(err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playing {
		return protocol.Fail("already playing")
	}

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.playing = true
	h.lastErr = nil
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(playCtx, req.Body, req.Opts(), h.done)

	return protocol.Response{Success: true, Pending: true, Body: "Playing..."}
}

func (h *Handler) run(ctx context.Context, body string, opts protocol.Options, done chan struct{}) {
	defer close(done)
	err := h.engine.Play(ctx, body, opts)
	if err != nil {
		h.logger.Warn("playback failed", "error", err)
	}

	h.mu.Lock()
	h.playing = false
	h.lastErr = err
	h.cancel()
	h.mu.Unlock()

	select {
	case h.changed <- struct{}{}:
	default:
	}
}

func (h *Handler) playStatus() protocol.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.playing:
		return protocol.Response{Success: true, Pending: true, Body: "Playing..."}
	case h.lastErr != nil:
		return protocol.Fail("playback failed: " + h.lastErr.Error())
	default:
		return protocol.OK("Done playing")
	}
}

// Stop cancels any playback and waits for it to end.
func (h *Handler) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
