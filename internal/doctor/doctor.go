// Package doctor runs readiness diagnostics for config, process listing, audio output, and the server.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rbright/cadenza/internal/audio"
	"github.com/rbright/cadenza/internal/config"
	"github.com/rbright/cadenza/internal/proclist"
	"github.com/rbright/cadenza/internal/transport"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live system hooks a doctor run consults. Nil fields use the real implementations.
type Probes struct {
	ListProcesses func(ctx context.Context) ([]proclist.Record, error)
	SelectSink    func(ctx context.Context, preferred string) (audio.Selection, error)
	Ping          func(ctx context.Context) bool
}

func (p Probes) withDefaults() Probes {
	if p.ListProcesses == nil {
		p.ListProcesses = func(ctx context.Context) ([]proclist.Record, error) {
			locator := proclist.New()
			defer locator.Close()
			return locator.List(ctx)
		}
	}
	if p.SelectSink == nil {
		p.SelectSink = audio.SelectSink
	}
	if p.Ping == nil {
		p.Ping = func(context.Context) bool { return false }
	}
	return p
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, probes Probes) Report {
	probes = probes.withDefaults()
	checks := []Check{checkConfig(cfg)}

	if len(cfg.Config.Server.Command.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Server.Command.Argv, "server.command"))
	}
	checks = append(checks,
		checkProcessListing(ctx, probes.ListProcesses),
		checkAudioSelection(ctx, cfg.Config, probes.SelectSink),
		checkServer(ctx, cfg.Config, probes.Ping),
	)
	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if cfg.Format != "" {
		message += fmt.Sprintf(" as %s", cfg.Format)
	}
	if n := len(cfg.Warnings); n > 0 {
		message += fmt.Sprintf(" (%d warning(s))", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkProcessListing confirms that `list` and the duplicate-start guard can see processes.
func checkProcessListing(ctx context.Context, list func(context.Context) ([]proclist.Record, error)) Check {
	records, err := list(ctx)
	if errors.Is(err, proclist.ErrUnsupported) {
		return Check{Name: "process.listing", Pass: false, Message: "unsupported on this platform; list and the start guard are disabled"}
	}
	if err != nil {
		return Check{Name: "process.listing", Pass: false, Message: err.Error()}
	}
	return Check{Name: "process.listing", Pass: true, Message: fmt.Sprintf("%d cadenza process(es) running", len(records))}
}

// checkAudioSelection runs live sink selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config, selectSink func(context.Context, string) (audio.Selection, error)) Check {
	selection, err := selectSink(ctx, cfg.Audio.Output)
	if err != nil {
		return Check{Name: "audio.output", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.output", Pass: true, Message: message}
}

func checkServer(ctx context.Context, cfg config.Config, ping func(context.Context) bool) Check {
	endpoint := transport.Endpoint(cfg.Server.Host, cfg.Server.Port)
	if !ping(ctx) {
		return Check{Name: "server", Pass: false, Message: fmt.Sprintf("no response from %s; to start the server, run `cadenza up`", endpoint)}
	}
	return Check{Name: "server", Pass: true, Message: fmt.Sprintf("reachable at %s", endpoint)}
}
