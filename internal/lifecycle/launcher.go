package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/rbright/cadenza/internal/proclist"
)

// Launcher starts a process running this program with args and returns its pid without
// waiting for it to exit.
type Launcher interface {
	Launch(ctx context.Context, args []string) (int, error)
}

// ServerArgs is the command line of a forked server.
func ServerArgs(port, workers int) []string {
	return []string{
		proclist.Marker,
		"--port", strconv.Itoa(port),
		"--workers", strconv.Itoa(workers),
		"server",
	}
}

// WorkerArgs is the command line of a worker serving the server on port.
func WorkerArgs(port int, backend string) []string {
	return []string{
		proclist.Marker,
		"--port", strconv.Itoa(port),
		"worker",
		"--backend", backend,
	}
}

// ExecLauncher forks Program detached from the caller's session with stdio discarded.
// An empty Program means the running executable.
type ExecLauncher struct {
	Program []string
	Logger  *slog.Logger
}

func (l ExecLauncher) Launch(_ context.Context, args []string) (int, error) {
	program := l.Program
	if len(program) == 0 {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
		program = []string{self}
	}
	if program[0] == "" {
		return 0, errors.New("launch program must not be empty")
	}

	argv := append(append([]string(nil), program[1:]...), args...)
	// Not CommandContext: the child must outlive this invocation.
	cmd := exec.Command(program[0], argv...)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch %s: %w", program[0], err)
	}
	pid := cmd.Process.Pid
	if l.Logger != nil {
		l.Logger.Info("process launched", "pid", pid, "program", program[0], "args", argv)
	}
	go func() { _ = cmd.Wait() }()
	return pid, nil
}
