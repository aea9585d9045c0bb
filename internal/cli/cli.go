package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/rbright/cadenza/internal/proclist"
)

type Command string

const (
	CommandUp      Command = "up"
	CommandDown    Command = "down"
	CommandRestart Command = "downup"
	CommandStatus  Command = "status"
	CommandList    Command = "list"
	CommandVersion Command = "version"
	CommandInfo    Command = "info"
	CommandNew     Command = "new"
	CommandLoad    Command = "load"
	CommandSave    Command = "save"
	CommandScore   Command = "score"
	CommandPlay    Command = "play"
	CommandParse   Command = "parse"
	CommandAppend  Command = "append"
	CommandDoctor  Command = "doctor"
	CommandDevices Command = "devices"
	CommandHelp    Command = "help"
	CommandServer  Command = "server"
	CommandWorker  Command = "worker"
)

var aliases = map[string]Command{
	"start":   CommandUp,
	"stop":    CommandDown,
	"restart": CommandRestart,
	"ps":      CommandList,
}

var validCommands = map[Command]struct{}{
	CommandUp:      {},
	CommandDown:    {},
	CommandRestart: {},
	CommandStatus:  {},
	CommandList:    {},
	CommandVersion: {},
	CommandInfo:    {},
	CommandNew:     {},
	CommandLoad:    {},
	CommandSave:    {},
	CommandScore:   {},
	CommandPlay:    {},
	CommandParse:   {},
	CommandAppend:  {},
	CommandDoctor:  {},
	CommandDevices: {},
	CommandHelp:    {},
	CommandServer:  {},
	CommandWorker:  {},
}

// Mode selects how a score is rendered by score and parse.
type Mode string

const (
	ModeText Mode = "text"
	ModeLisp Mode = "lisp"
	ModeMap  Mode = "map"
)

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	Host        string
	Port        int
	Timeout     int
	Workers     int
	Yes         bool
	Verbose     bool
	Fingerprint bool

	File    string
	Code    string
	From    string
	To      string
	Append  bool
	Wait    bool
	Mode    Mode
	Output  string
	Backend string

	set map[string]bool
}

// IsSet reports whether a flag was given on the command line, by long name.
func (p Parsed) IsSet(name string) bool {
	return p.set[name]
}

// Parse reads [global flags] <command> [command flags]. Global flags are also accepted
// after the command.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true, set: map[string]bool{}}

	global := newFlagSet("cadenza")
	global.SetInterspersed(false)
	help := global.BoolP("help", "h", false, "Show help")
	showVersion := global.Bool("version", false, "Show version")
	bindGlobals(global, "", &parsed)

	if err := global.Parse(args); err != nil {
		return Parsed{}, err
	}
	markChanged(global, parsed.set)

	rest := global.Args()
	if *showVersion && len(rest) == 0 {
		parsed.Command = CommandVersion
		parsed.ShowHelp = false
		return parsed, nil
	}
	if *help || len(rest) == 0 {
		return parsed, nil
	}

	cmd, err := lookup(rest[0])
	if err != nil {
		return Parsed{}, err
	}
	parsed.Command = cmd
	parsed.ShowHelp = cmd == CommandHelp

	local := newFlagSet(string(cmd))
	cmdHelp := local.BoolP("help", "h", false, "Show help")
	bindGlobals(local, cmd, &parsed)
	bindCommand(local, cmd, &parsed)
	if err := local.Parse(rest[1:]); err != nil {
		return Parsed{}, fmt.Errorf("%s: %w", cmd, err)
	}
	markChanged(local, parsed.set)

	if *cmdHelp {
		parsed.ShowHelp = true
		return parsed, nil
	}
	if local.NArg() > 0 {
		return Parsed{}, fmt.Errorf("unexpected arguments after command %q: %s", cmd, strings.Join(local.Args(), " "))
	}
	if parsed.File != "" && parsed.Code != "" {
		return Parsed{}, errors.New("use only one of --file or --code")
	}
	if err := resolveMode(&parsed); err != nil {
		return Parsed{}, err
	}
	return parsed, nil
}

func lookup(name string) (Command, error) {
	if cmd, ok := aliases[name]; ok {
		return cmd, nil
	}
	if strings.HasPrefix(name, "-") {
		return "", fmt.Errorf("unknown flag: %s", name)
	}
	cmd := Command(name)
	if _, ok := validCommands[cmd]; !ok {
		return "", fmt.Errorf("unknown command: %s", name)
	}
	return cmd, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	return fs
}

// bindGlobals registers the global flags, defaulting each to its current value so a second
// registration does not reset what an earlier parse set. score claims -t for --text.
func bindGlobals(fs *flag.FlagSet, cmd Command, p *Parsed) {
	timeoutShort := "t"
	if cmd == CommandScore {
		timeoutShort = ""
	}
	fs.StringVar(&p.ConfigPath, "config", p.ConfigPath, "Config file `path`")
	fs.StringVarP(&p.Host, "host", "H", p.Host, "Server `host`")
	fs.IntVarP(&p.Port, "port", "p", p.Port, "Server `port`")
	fs.IntVarP(&p.Timeout, "timeout", timeoutShort, p.Timeout, "Seconds to wait for a server to start")
	fs.IntVarP(&p.Workers, "workers", "w", p.Workers, "Number of workers a started server spawns")
	fs.BoolVarP(&p.Yes, "yes", "y", p.Yes, "Answer yes to confirmation prompts")
	fs.BoolVarP(&p.Verbose, "verbose", "v", p.Verbose, "Log at debug level")
	fs.BoolVar(&p.Fingerprint, strings.TrimPrefix(proclist.Marker, "--"), p.Fingerprint, "")
	_ = fs.MarkHidden(strings.TrimPrefix(proclist.Marker, "--"))
}

func bindCommand(fs *flag.FlagSet, cmd Command, p *Parsed) {
	switch cmd {
	case CommandPlay:
		bindInput(fs, p)
		fs.StringVarP(&p.From, "from", "F", "", "Start at a `position` (marker name or m:ss)")
		fs.StringVarP(&p.To, "to", "T", "", "Stop at a `position` (marker name or m:ss)")
		fs.BoolVarP(&p.Append, "append", "a", false, "Append the code to the current score before playing")
		fs.BoolVar(&p.Wait, "wait", false, "Wait for playback to finish")
	case CommandParse:
		bindInput(fs, p)
		bindModes(fs, false)
	case CommandLoad, CommandAppend:
		bindInput(fs, p)
	case CommandSave:
		fs.StringVarP(&p.File, "file", "f", "", "Save to `path` instead of the current file")
	case CommandScore:
		bindModes(fs, true)
	case CommandList:
		fs.StringVarP(&p.Output, "output", "o", "text", "Output `format`: text, json, or yaml")
	case CommandWorker:
		fs.StringVar(&p.Backend, "backend", "", "Server backend `endpoint`")
	}
}

func bindInput(fs *flag.FlagSet, p *Parsed) {
	fs.StringVarP(&p.File, "file", "f", "", "Read the score from `path`")
	fs.StringVarP(&p.Code, "code", "c", "", "Use `code` as the score")
}

func bindModes(fs *flag.FlagSet, text bool) {
	if text {
		fs.BoolP("text", "t", false, "Show the score text")
	}
	fs.BoolP("lisp", "l", false, "Show the parsed score as lisp")
	fs.BoolP("map", "m", false, "Show the parsed score as a map")
}

func resolveMode(p *Parsed) error {
	var chosen []Mode
	for _, mode := range []Mode{ModeText, ModeLisp, ModeMap} {
		if p.set[string(mode)] {
			chosen = append(chosen, mode)
		}
	}
	if len(chosen) > 1 {
		return errors.New("use only one of --text, --lisp, or --map")
	}

	switch p.Command {
	case CommandScore:
		p.Mode = ModeText
	case CommandParse:
		p.Mode = ModeLisp
	}
	if len(chosen) == 1 {
		p.Mode = chosen[0]
	}
	return nil
}

func markChanged(fs *flag.FlagSet, set map[string]bool) {
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [global flags] <command> [flags]

Server commands:
  up, start        Start a server in the background
  down, stop       Stop the server
  downup, restart  Restart the server
  status           Print the server status
  list, ps         List cadenza processes on this machine (-o text|json|yaml)
  doctor           Run configuration and environment checks
  devices          List audio output devices

Score commands:
  new              Start a new score
  load             Load a score (-f FILE | -c CODE | stdin)
  append           Append to the current score (-f FILE | -c CODE | stdin)
  save             Save the score (-f FILE to save elsewhere)
  score            Show the current score (-t | -l | -m)
  play             Play a score or the current one (-f | -c, -F FROM, -T TO, -a, --wait)
  parse            Parse a score without playing it (-f | -c, -l | -m)
  info             Show information about the current score
  version          Print client and server versions
  help             Show this help

Global flags:
  -H, --host HOST      Server host (default: localhost)
  -p, --port PORT      Server port (default: 27713)
  -t, --timeout SECS   Seconds to wait for a server to start (default: 30)
  -w, --workers N      Workers for a started server (default: 2)
  -y, --yes            Answer yes to confirmation prompts
  -v, --verbose        Log at debug level
  --config PATH        Config file path (default: $XDG_CONFIG_HOME/cadenza/config.jsonc)
  -h, --help           Show help
  --version            Show version
`, binaryName)
}
