package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/cadenza/internal/audio"
	"github.com/rbright/cadenza/internal/cli"
	"github.com/rbright/cadenza/internal/confirm"
	"github.com/rbright/cadenza/internal/console"
	"github.com/rbright/cadenza/internal/dispatch"
	"github.com/rbright/cadenza/internal/doctor"
	"github.com/rbright/cadenza/internal/protocol"
	"github.com/rbright/cadenza/internal/server"
	"github.com/rbright/cadenza/internal/version"
	"github.com/rbright/cadenza/internal/worker"
	"golang.org/x/term"
)

// playPollInterval paces play-status queries while waiting on --wait.
const playPollInterval = 250 * time.Millisecond

var errNoInput = errors.New("no score given; use --file, --code, or pipe one on stdin")

func (r Runner) run(ctx context.Context, e *env) error {
	switch e.parsed.Command {
	case cli.CommandVersion:
		return r.commandVersion(ctx, e)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, e)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandUp:
		return e.manager.StartBackground(ctx)
	case cli.CommandDown:
		return e.manager.Stop(ctx)
	case cli.CommandRestart:
		return e.manager.Restart(ctx)
	case cli.CommandStatus:
		return e.manager.Status(ctx)
	case cli.CommandList:
		return r.commandList(ctx, e)
	case cli.CommandServer:
		return r.commandServer(ctx, e)
	case cli.CommandWorker:
		return r.commandWorker(ctx, e)
	}

	if err := e.manager.EnsureUp(ctx); err != nil {
		return err
	}
	switch e.parsed.Command {
	case cli.CommandInfo:
		return r.show(e, e.dispatch.Dispatch(ctx, protocol.CommandInfo, "", nil))
	case cli.CommandNew:
		return r.confirmed(ctx, e, protocol.Request{Command: protocol.CommandNew})
	case cli.CommandLoad:
		return r.commandLoad(ctx, e)
	case cli.CommandSave:
		return r.commandSave(ctx, e)
	case cli.CommandAppend:
		body, _, err := r.input(e.parsed)
		if err != nil {
			return err
		}
		return r.report(e, e.dispatch.Dispatch(ctx, protocol.CommandAppend, body, nil))
	case cli.CommandScore:
		return r.show(e, e.dispatch.Dispatch(ctx, protocol.CommandScore, "", &protocol.Options{As: string(e.parsed.Mode)}))
	case cli.CommandParse:
		body, _, err := r.input(e.parsed)
		if err != nil {
			return err
		}
		return r.show(e, e.dispatch.Dispatch(ctx, protocol.CommandParse, body, &protocol.Options{As: string(e.parsed.Mode)}))
	case cli.CommandPlay:
		return r.commandPlay(ctx, e)
	default:
		return usagef("unsupported command %q", e.parsed.Command)
	}
}

// report prints a status reply through the prefixed printer.
func (r Runner) report(e *env, res dispatch.Result) error {
	if err := resultError(res); err != nil {
		return err
	}
	if text := res.Text(); text != "" {
		e.printer.Msg("%s", text)
	}
	return nil
}

// show prints a content reply verbatim so it can be piped.
func (r Runner) show(e *env, res dispatch.Result) error {
	if err := resultError(res); err != nil {
		return err
	}
	text := res.Text()
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := io.WriteString(r.Stdout, text)
	return err
}

func resultError(res dispatch.Result) error {
	switch {
	case res.Failed():
		return res.Err
	case !res.OK():
		return errors.New(res.Text())
	default:
		return nil
	}
}

// confirmed sends a request that the server may decline until the user agrees.
func (r Runner) confirmed(ctx context.Context, e *env, req protocol.Request) error {
	out, err := confirm.Run(ctx, e.dispatch, req, e.decider)
	if err != nil {
		return err
	}
	if out.Aborted() {
		e.logger.Info("operation aborted", "command", req.Command, "signal", string(out.Result.Signal()))
		return nil
	}
	return r.report(e, out.Result)
}

func (r Runner) commandVersion(ctx context.Context, e *env) error {
	fmt.Fprintln(r.Stdout, version.String())
	if !e.manager.Process().CheckReachable(ctx) {
		return nil
	}
	res := e.dispatch.Send(ctx, protocol.Request{Command: protocol.CommandVersion})
	if res.OK() {
		e.printer.Msg("server: %s", res.Text())
	}
	return nil
}

func (r Runner) commandDoctor(ctx context.Context, e *env) error {
	report := doctor.Run(ctx, e.loaded, doctor.Probes{
		ListProcesses: e.locator.List,
		Ping:          e.manager.Process().CheckReachable,
	})
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return errors.New("doctor found failing checks")
	}
	return nil
}

func (r Runner) commandDevices(ctx context.Context) error {
	devices, err := audio.ListSinks(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return errors.New("no audio output devices found")
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}
	return nil
}

func (r Runner) commandList(ctx context.Context, e *env) error {
	format, err := console.ParseFormat(e.parsed.Output)
	if err != nil {
		return usageError{err}
	}
	entries, err := e.manager.List(ctx)
	if err != nil {
		return err
	}
	return console.RenderEntries(r.Stdout, entries, format)
}

func (r Runner) commandLoad(ctx context.Context, e *env) error {
	body, filename, err := r.input(e.parsed)
	if err != nil {
		return err
	}
	req := protocol.Request{Command: protocol.CommandLoad, Body: body}
	if filename != "" {
		req.Options = &protocol.Options{Filename: filename}
	}
	return r.confirmed(ctx, e, req)
}

func (r Runner) commandSave(ctx context.Context, e *env) error {
	req := protocol.Request{Command: protocol.CommandSave}
	if e.parsed.File != "" {
		filename, err := filepath.Abs(e.parsed.File)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", e.parsed.File, err)
		}
		req.Options = &protocol.Options{Filename: filename}
	}
	return r.confirmed(ctx, e, req)
}

func (r Runner) commandPlay(ctx context.Context, e *env) error {
	body, _, err := r.input(e.parsed)
	if err != nil && !errors.Is(err, errNoInput) {
		return err
	}
	if e.parsed.Append && body == "" {
		return usagef("play --append needs --file, --code, or piped input")
	}
	res := e.dispatch.Dispatch(ctx, protocol.CommandPlay, body, &protocol.Options{
		From:   e.parsed.From,
		To:     e.parsed.To,
		Append: e.parsed.Append,
	})
	if err := resultError(res); err != nil {
		return err
	}
	e.printer.Msg("%s", res.Text())
	if !e.parsed.Wait || !res.Response.Pending {
		return nil
	}

	done := e.dispatch.AwaitWorker(ctx, res.Response.WorkerAddress, playPollInterval)
	return r.report(e, done)
}

func (r Runner) commandServer(ctx context.Context, e *env) error {
	return e.manager.StartForeground(ctx, func(ctx context.Context) error {
		return server.Serve(ctx, server.Options{
			Port:     e.cfg.Server.Port,
			Workers:  e.cfg.Server.Workers,
			Launcher: e.launcher,
			Logger:   e.logger,
			Ready: func(frontend, backend string) {
				e.logger.Info("server ready", "frontend", frontend, "backend", backend)
				e.printer.ServerUp()
			},
		})
	})
}

func (r Runner) commandWorker(ctx context.Context, e *env) error {
	if e.parsed.Backend == "" {
		return usagef("worker: --backend is required")
	}
	return e.manager.StartWorker(ctx, func(ctx context.Context) error {
		return worker.Run(ctx, worker.Options{
			Backend: e.parsed.Backend,
			Engine:  worker.SynthEngine{Sink: e.cfg.Audio.Output},
			Logger:  e.logger,
		})
	})
}

// input picks the score text: --file, then --code, then piped stdin. Files are also returned
// as an absolute filename.
func (r Runner) input(parsed cli.Parsed) (body, filename string, err error) {
	switch {
	case parsed.File != "":
		filename, err = filepath.Abs(parsed.File)
		if err != nil {
			return "", "", fmt.Errorf("resolve %s: %w", parsed.File, err)
		}
		content, err := os.ReadFile(filename)
		if err != nil {
			return "", "", fmt.Errorf("read score: %w", err)
		}
		return string(content), filename, nil
	case parsed.IsSet("code"):
		return parsed.Code, "", nil
	case r.stdinPiped():
		content, err := io.ReadAll(r.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(content), "", nil
	default:
		return "", "", usageError{errNoInput}
	}
}

func (r Runner) stdinPiped() bool {
	if r.StdinPiped != nil {
		return r.StdinPiped()
	}
	if r.Stdin == nil {
		return false
	}
	f, ok := r.Stdin.(*os.File)
	if !ok {
		return true
	}
	if term.IsTerminal(int(f.Fd())) {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&(os.ModeNamedPipe|os.ModeCharDevice) == os.ModeNamedPipe || info.Mode().IsRegular()
}
