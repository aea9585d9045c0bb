package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rbright/cadenza/internal/protocol"
	"github.com/rbright/cadenza/internal/version"
)

// Score is the server's single in-progress score.
type Score struct {
	Text     string
	Filename string
	Modified bool
}

// Handler answers the commands the server executes itself. Commands that need a worker
// never reach it.
type Handler struct {
	Port int
	// Workers reports ready and registered worker counts for status/info.
	Workers func() (ready, total int)

	mu    sync.Mutex
	score Score
}

func NewHandler(port int) *Handler {
	return &Handler{Port: port}
}

// Score returns a snapshot of the current score.
func (h *Handler) Score() Score {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.score
}

// Append adds code to the end of the current score and marks it modified.
func (h *Handler) Append(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(code)
}

func (h *Handler) appendLocked(code string) {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return
	}
	if h.score.Text != "" {
		h.score.Text += "\n"
	}
	h.score.Text += code
	h.score.Modified = true
}

// Handle executes one server-side command.
func (h *Handler) Handle(req protocol.Request) protocol.Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	opts := req.Opts()
	switch req.Command {
	case protocol.CommandPing:
		return protocol.OK("pong")
	case protocol.CommandVersion:
		return protocol.OK(version.String())
	case protocol.CommandStatus:
		return protocol.OK(h.status())
	case protocol.CommandInfo:
		return protocol.OK(h.info())
	case protocol.CommandNew:
		if h.score.Modified && !req.Confirming {
			return protocol.Decline(protocol.SignalUnsavedChanges, "the current score has unsaved changes")
		}
		h.score = Score{}
		return protocol.OK("New score")
	case protocol.CommandLoad:
		if opts.Filename == "" && req.Body == "" {
			return protocol.Fail("nothing to load")
		}
		if h.score.Modified && !req.Confirming {
			return protocol.Decline(protocol.SignalUnsavedChanges, "the current score has unsaved changes")
		}
		h.score = Score{Text: strings.TrimRight(req.Body, "\n"), Filename: opts.Filename}
		if opts.Filename == "" {
			return protocol.OK("Loaded score")
		}
		return protocol.OK("Loaded " + opts.Filename)
	case protocol.CommandSave:
		return h.save(opts.Filename, req.Confirming)
	case protocol.CommandScore:
		return protocol.OK(h.score.Text)
	case protocol.CommandAppend:
		if strings.TrimSpace(req.Body) == "" {
			return protocol.Fail("nothing to append")
		}
		h.appendLocked(req.Body)
		return protocol.OK("Appended to score")
	case protocol.CommandStop:
		if h.score.Modified && !req.Confirming {
			return protocol.Decline(protocol.SignalUnsavedChanges, "the current score has unsaved changes")
		}
		return protocol.OK("Stopping server")
	default:
		return protocol.Fail(fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (h *Handler) save(target string, confirming bool) protocol.Response {
	if target == "" {
		target = h.score.Filename
	}
	if target == "" {
		return protocol.Fail("the score has no filename; use save -f FILE")
	}
	target = filepath.Clean(target)

	if target != h.score.Filename && !confirming {
		if _, err := os.Stat(target); err == nil {
			return protocol.Decline(protocol.SignalExistingFile, fmt.Sprintf("%s already exists", target))
		} else if !errors.Is(err, os.ErrNotExist) {
			return protocol.Fail(fmt.Sprintf("stat %s: %v", target, err))
		}
	}

	content := h.score.Text
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return protocol.Fail(fmt.Sprintf("save %s: %v", target, err))
	}
	h.score.Filename = target
	h.score.Modified = false
	return protocol.OK("Saved to " + target)
}

func (h *Handler) workerCounts() (int, int) {
	if h.Workers == nil {
		return 0, 0
	}
	return h.Workers()
}

func (h *Handler) status() string {
	ready, total := h.workerCounts()
	name := h.score.Filename
	if name == "" {
		name = "untitled"
	}
	if h.score.Modified {
		name += " (modified)"
	}
	return fmt.Sprintf("Server up (pid: %d, workers ready: %d/%d, score: %s)", os.Getpid(), ready, total, name)
}

func (h *Handler) info() string {
	ready, total := h.workerCounts()
	lines := []string{
		version.String(),
		fmt.Sprintf("pid: %d", os.Getpid()),
		fmt.Sprintf("port: %d", h.Port),
		fmt.Sprintf("workers: %d registered, %d ready", total, ready),
		fmt.Sprintf("score lines: %d", lineCount(h.score.Text)),
	}
	return strings.Join(lines, "\n")
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}
