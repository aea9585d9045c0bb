package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/cadenza/internal/confirm"
	"github.com/rbright/cadenza/internal/console"
	"github.com/rbright/cadenza/internal/dispatch"
	"github.com/rbright/cadenza/internal/fsm"
	"github.com/rbright/cadenza/internal/proclist"
	"github.com/rbright/cadenza/internal/protocol"
	"github.com/rbright/cadenza/internal/transport"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 30 * time.Second
	DefaultWorkers      = 2
)

var (
	ErrRemoteHost      = errors.New("cannot manage a server on a remote host")
	ErrServerDown      = errors.New("server is down")
	ErrAlreadyStarting = errors.New("a server is already starting on this port")
	ErrStopFailed      = errors.New("server did not stop")
)

// Dispatcher is the subset of *dispatch.Dispatcher used by the Manager.
type Dispatcher interface {
	Send(ctx context.Context, req protocol.Request) dispatch.Result
	Ping(ctx context.Context, timeout time.Duration, retries int) bool
}

// Locator is satisfied by *proclist.Locator.
type Locator interface {
	List(ctx context.Context) ([]proclist.Record, error)
	HasServerOnPort(ctx context.Context, port int) (bool, error)
}

// StatusQuery fetches the status text of the local server on port.
type StatusQuery func(ctx context.Context, port int) dispatch.Result

type Options struct {
	Host    string
	Port    int
	Workers int

	StartTimeout time.Duration
	StopTimeout  time.Duration
	Interval     time.Duration

	Dispatcher Dispatcher
	Locator    Locator
	Launcher   Launcher
	Decider    confirm.Decider
	Printer    *console.Printer
	// StatusOf queries servers on other ports when listing. Nil limits listing to
	// this Manager's own port.
	StatusOf StatusQuery
	Logger   *slog.Logger
}

// Manager drives one server: the one at Host:Port.
type Manager struct {
	opts   Options
	server Server
	state  fsm.State
	logger *slog.Logger
}

func NewManager(opts Options) *Manager {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Workers < 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = PollInterval
	}
	if opts.Decider == nil {
		opts.Decider = confirm.Prompter{In: os.Stdin, Out: os.Stdout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		opts:   opts,
		server: Server{Pinger: opts.Dispatcher, Interval: opts.Interval},
		state:  fsm.StateDown,
		logger: logger,
	}
}

// State is the last observed server state.
func (m *Manager) State() fsm.State { return m.state }

// Process exposes the reachability probe of the managed server.
func (m *Manager) Process() Process { return m.server }

func (m *Manager) advance(event fsm.Event) {
	next, err := fsm.Transition(m.state, event)
	if err != nil {
		m.logger.Debug("server state unchanged", "state", string(m.state), "event", string(event), "error", err.Error())
		return
	}
	m.state = next
}

func (m *Manager) observe(ctx context.Context) bool {
	if m.server.CheckReachable(ctx) {
		if m.state != fsm.StateUp {
			m.advance(fsm.EventReachable)
		}
		return true
	}
	m.advance(fsm.EventUnreachable)
	return false
}

// Status prints the server's own status report, or that it is down.
func (m *Manager) Status(ctx context.Context) error {
	if !m.observe(ctx) {
		m.opts.Printer.ServerDown(false)
		return nil
	}
	res := m.opts.Dispatcher.Send(ctx, protocol.Request{Command: protocol.CommandStatus})
	if !res.OK() {
		return fmt.Errorf("status: %s", res.Text())
	}
	m.opts.Printer.Msg("%s", res.Text())
	return nil
}

// StartBackground forks a server and waits for it to answer pings.
func (m *Manager) StartBackground(ctx context.Context) error {
	if err := m.assertLocal(); err != nil {
		return err
	}
	if m.observe(ctx) {
		m.opts.Printer.Msg("Server already up.")
		return nil
	}
	if err := m.assertNotStarting(ctx); err != nil {
		return err
	}

	m.opts.Printer.Msg("Starting server...")
	pid, err := m.opts.Launcher.Launch(ctx, ServerArgs(m.opts.Port, m.opts.Workers))
	if err != nil {
		m.opts.Printer.ServerDown(false)
		return fmt.Errorf("start server: %w", err)
	}
	m.advance(fsm.EventLaunch)
	m.refreshListing()
	m.logger.Info("server forked", "pid", pid, "port", m.opts.Port, "workers", m.opts.Workers)

	if m.server.WaitReachable(ctx, m.opts.StartTimeout) {
		m.advance(fsm.EventReachable)
		m.opts.Printer.ServerUp()
		return nil
	}
	m.advance(fsm.EventTimeout)
	m.opts.Printer.ServerDown(false)
	return fmt.Errorf("%w: not reachable within %s", ErrServerDown, m.opts.StartTimeout)
}

func (m *Manager) assertNotStarting(ctx context.Context) error {
	if m.opts.Locator == nil {
		return nil
	}
	starting, err := m.opts.Locator.HasServerOnPort(ctx, m.opts.Port)
	if err != nil {
		m.logger.Warn("skipping duplicate start check", "port", m.opts.Port, "error", err.Error())
		m.opts.Printer.Msg("Warning: cannot check for a server already starting on this port (%v); starting anyway.", err)
		return nil
	}
	if starting {
		return fmt.Errorf("%w (port %d); starting can take a while, try again shortly", ErrAlreadyStarting, m.opts.Port)
	}
	return nil
}

// refreshListing drops a cached process listing once this Manager has changed the process table.
func (m *Manager) refreshListing() {
	if r, ok := m.opts.Locator.(interface{ Refresh() }); ok {
		r.Refresh()
	}
}

// StartForeground runs the server in this process until run returns.
func (m *Manager) StartForeground(ctx context.Context, run func(context.Context) error) error {
	if err := m.assertLocal(); err != nil {
		return err
	}
	if m.observe(ctx) {
		m.opts.Printer.Msg("Server already up.")
		return nil
	}
	m.opts.Printer.Msg("Starting server...")
	m.advance(fsm.EventLaunch)
	return run(ctx)
}

// StartWorker runs a worker in this process until run returns.
func (m *Manager) StartWorker(ctx context.Context, run func(context.Context) error) error {
	m.logger.Info("worker starting", "port", m.opts.Port)
	return run(ctx)
}

// Stop asks the server to exit and waits until it stops answering. A server that vanishes
// mid-request counts as stopped.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.observe(ctx) {
		m.opts.Printer.Msg("Server already down.")
		return nil
	}

	m.opts.Printer.Msg("Stopping server...")
	out, err := confirm.Run(ctx, m.opts.Dispatcher, protocol.Request{Command: protocol.CommandStop}, m.opts.Decider)
	if err != nil {
		return err
	}
	if out.Aborted() {
		return nil
	}

	res := out.Result
	switch {
	case res.Failed():
		if !errors.Is(res.Err, transport.ErrNoResponse) {
			return fmt.Errorf("stop server: %w", res.Err)
		}
		m.logger.Info("server dropped the stop request", "port", m.opts.Port)
	case !res.OK():
		return fmt.Errorf("%w: %s", ErrStopFailed, res.Text())
	}

	if m.server.WaitUnreachable(ctx, m.opts.StopTimeout) {
		m.advance(fsm.EventUnreachable)
		m.refreshListing()
		m.opts.Printer.ServerDown(true)
		return nil
	}
	return fmt.Errorf("%w: still reachable after %s", ErrStopFailed, m.opts.StopTimeout)
}

// Restart stops then starts the server, with a blank line between their reports.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	m.opts.Printer.Blank()
	return m.StartBackground(ctx)
}

// EnsureUp starts the server when it is not reachable.
func (m *Manager) EnsureUp(ctx context.Context) error {
	if m.observe(ctx) {
		return nil
	}
	if err := m.assertLocal(); err != nil {
		m.opts.Printer.ServerDown(false)
		return fmt.Errorf("%w: %w", ErrServerDown, err)
	}
	if err := m.StartBackground(ctx); err != nil {
		return err
	}
	m.opts.Printer.Blank()
	return nil
}

// RequireUp fails when the server is not reachable.
func (m *Manager) RequireUp(ctx context.Context) error {
	if m.observe(ctx) {
		return nil
	}
	m.opts.Printer.ServerDown(false)
	return fmt.Errorf("%w; to start the server, run `cadenza up`", ErrServerDown)
}

// List describes every cadenza process on this machine.
func (m *Manager) List(ctx context.Context) ([]console.Entry, error) {
	if m.opts.Locator == nil {
		return nil, proclist.ErrUnsupported
	}
	records, err := m.opts.Locator.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]console.Entry, 0, len(records))
	for _, record := range records {
		entries = append(entries, console.Entry{
			PID:    record.PID,
			Port:   record.Port,
			Role:   string(record.Role),
			Status: m.describe(ctx, record),
		})
	}
	return entries, nil
}

func (m *Manager) describe(ctx context.Context, record proclist.Record) string {
	known := record.Port != proclist.UnknownPort
	switch record.Role {
	case proclist.RoleServer:
		if !known {
			return fmt.Sprintf("Mysterious server running on unknown port (pid: %d)", record.PID)
		}
		res := m.statusOf(ctx, record.Port)
		if res.Failed() {
			return fmt.Sprintf("Server not responding (pid: %d)", record.PID)
		}
		return fmt.Sprintf("%s (pid: %d)", strings.TrimSpace(res.Text()), record.PID)
	case proclist.RoleWorker:
		if !known {
			return fmt.Sprintf("Mysterious worker running on unknown port (pid: %d)", record.PID)
		}
		return fmt.Sprintf("Worker (pid: %d)", record.PID)
	default:
		if !known {
			return fmt.Sprintf("Mysterious cadenza process running on unknown port (pid: %d)", record.PID)
		}
		return fmt.Sprintf("Mysterious cadenza process (pid: %d)", record.PID)
	}
}

func (m *Manager) statusOf(ctx context.Context, port int) dispatch.Result {
	if m.opts.StatusOf != nil && port != m.opts.Port {
		return m.opts.StatusOf(ctx, port)
	}
	if port != m.opts.Port {
		return dispatch.Result{Kind: dispatch.KindTransportFailure, Err: fmt.Errorf("no channel for port %d", port)}
	}
	return m.opts.Dispatcher.Send(ctx, protocol.Request{Command: protocol.CommandStatus})
}

func (m *Manager) assertLocal() error {
	if IsLocalHost(m.opts.Host) {
		return nil
	}
	return fmt.Errorf("%w %q; run the command on that host instead", ErrRemoteHost, m.opts.Host)
}

// IsLocalHost reports whether host names this machine.
func IsLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "", "localhost":
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
