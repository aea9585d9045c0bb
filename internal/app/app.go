// Package app wires configuration, logging, transport, and lifecycle management into
// the cadenza command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/cadenza/internal/cli"
	"github.com/rbright/cadenza/internal/config"
	"github.com/rbright/cadenza/internal/confirm"
	"github.com/rbright/cadenza/internal/console"
	"github.com/rbright/cadenza/internal/dispatch"
	"github.com/rbright/cadenza/internal/lifecycle"
	"github.com/rbright/cadenza/internal/logging"
	"github.com/rbright/cadenza/internal/proclist"
	"github.com/rbright/cadenza/internal/protocol"
	"github.com/rbright/cadenza/internal/transport"
)

// listStatusPolicy bounds the status query sent to every server found by list.
var listStatusPolicy = dispatch.Policy{Timeout: 500 * time.Millisecond, Retries: 1}

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// StdinPiped reports whether Stdin carries input. Nil inspects Stdin.
	StdinPiped func() bool
	// Interactive reports whether prompts can be answered. Nil checks the terminal.
	Interactive func() bool

	Dialer   transport.Dialer
	Launcher lifecycle.Launcher
	Locator  lifecycle.Locator
}

func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := Runner{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// usageError marks failures caused by how the command was invoked.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// env is everything one invocation talks to.
type env struct {
	parsed   cli.Parsed
	loaded   config.Loaded
	cfg      config.Config
	logger   *slog.Logger
	channel  *transport.Channel
	dispatch *dispatch.Dispatcher
	decider  confirm.Decider
	manager  *lifecycle.Manager
	locator  lifecycle.Locator
	launcher lifecycle.Launcher
	printer  *console.Printer
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("cadenza"))
		return 2
	}
	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("cadenza"))
		return 0
	}

	loaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg, err := applyFlags(loaded.Config, parsed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 2
	}
	loaded.Config = cfg

	logger, closeLog, err := r.logger(cfg, parsed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer closeLog()

	if parsed.Command != cli.CommandServer && parsed.Command != cli.CommandWorker {
		for _, w := range loaded.Warnings {
			msg := w.Message
			if w.Line > 0 {
				msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
			}
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
	}
	for _, w := range loaded.Warnings {
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
	logger.Info("command start", "command", parsed.Command, "config", loaded.Path, "host", cfg.Server.Host, "port", cfg.Server.Port)

	e := r.newEnv(parsed, loaded, logger)
	defer e.close()

	err = r.run(ctx, e)
	if err == nil {
		logger.Debug("command done", "command", parsed.Command, "server_state", string(e.manager.State()))
		return 0
	}
	logger.Error("command failed", "command", parsed.Command, "server_state", string(e.manager.State()), "error", err.Error())
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

// applyFlags layers command line overrides on top of the loaded config.
func applyFlags(cfg config.Config, parsed cli.Parsed) (config.Config, error) {
	if parsed.IsSet("host") {
		cfg.Server.Host = parsed.Host
	}
	if parsed.IsSet("port") {
		cfg.Server.Port = parsed.Port
	}
	if parsed.IsSet("workers") {
		cfg.Server.Workers = parsed.Workers
	}
	if parsed.IsSet("timeout") {
		cfg.Server.StartTimeoutSeconds = parsed.Timeout
	}
	if parsed.Verbose {
		cfg.Log.Level = "debug"
	}
	if _, err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (r Runner) logger(cfg config.Config, parsed cli.Parsed) (*slog.Logger, func(), error) {
	if r.Logger != nil {
		return r.Logger, func() {}, nil
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	role := "client"
	switch parsed.Command {
	case cli.CommandServer:
		role = "server"
	case cli.CommandWorker:
		role = "worker"
	}
	rt, err := logging.New(level, role)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: logging disabled: %v\n", err)
		rt = logging.Discard()
	}
	return rt.Logger, func() { _ = rt.Close() }, nil
}

func (r Runner) newEnv(parsed cli.Parsed, loaded config.Loaded, logger *slog.Logger) *env {
	cfg := loaded.Config
	dialer := r.Dialer
	if dialer == nil {
		dialer = transport.ZMQDialer{}
	}
	channel := transport.New(dialer, cfg.Server.Host, cfg.Server.Port, logger)
	dispatcher := dispatch.New(channel, dispatch.Policy{Timeout: cfg.RequestTimeout(), Retries: cfg.Request.Retries}, logger)

	var decider confirm.Decider = confirm.Prompter{In: r.Stdin, Out: r.Stdout, Interactive: r.Interactive}
	if parsed.Yes {
		decider = confirm.AutoConfirm{}
	}

	locator := r.Locator
	if locator == nil {
		locator = proclist.New()
	}
	launcher := r.Launcher
	if launcher == nil {
		launcher = lifecycle.ExecLauncher{Program: cfg.Server.Command.Argv, Logger: logger}
	}
	printer := console.NewPrinter(r.Stdout, cfg.Server.Host, cfg.Server.Port)

	manager := lifecycle.NewManager(lifecycle.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Workers:      cfg.Server.Workers,
		StartTimeout: cfg.StartTimeout(),
		Dispatcher:   dispatcher,
		Locator:      locator,
		Launcher:     launcher,
		Decider:      decider,
		Printer:      printer,
		StatusOf: func(ctx context.Context, port int) dispatch.Result {
			ch := transport.New(dialer, "localhost", port, logger)
			defer ch.Close()
			return dispatch.New(ch, listStatusPolicy, logger).Send(ctx, protocol.Request{Command: protocol.CommandStatus})
		},
		Logger: logger,
	})

	return &env{
		parsed:   parsed,
		loaded:   loaded,
		cfg:      cfg,
		logger:   logger,
		channel:  channel,
		dispatch: dispatcher,
		decider:  decider,
		manager:  manager,
		locator:  locator,
		launcher: launcher,
		printer:  printer,
	}
}

func (e *env) close() {
	_ = e.channel.Close()
	if closer, ok := e.locator.(interface{ Close() }); ok {
		closer.Close()
	}
}
