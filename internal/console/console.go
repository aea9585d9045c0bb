// Package console writes the human-facing status lines of the client.
package console

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

const (
	checkmark = "✓"
	cross     = "✗"
)

// Printer prefixes every line with the server it concerns. Colors are dropped automatically
// when Out is not a terminal.
type Printer struct {
	out    io.Writer
	prefix string

	tag  lipgloss.Style
	good lipgloss.Style
	bad  lipgloss.Style
}

// NewPrinter returns a Printer for host:port writing to out.
func NewPrinter(out io.Writer, host string, port int) *Printer {
	renderer := lipgloss.NewRenderer(out)
	return &Printer{
		out:    out,
		prefix: Prefix(host, port),
		tag:    renderer.NewStyle().Foreground(lipgloss.Color("4")),
		good:   renderer.NewStyle().Foreground(lipgloss.Color("2")),
		bad:    renderer.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// Prefix is the bracket label for a server: the port alone on localhost.
func Prefix(host string, port int) string {
	label := strconv.Itoa(port)
	if port < 0 {
		label = "???"
	}
	if host != "" && host != "localhost" {
		label = host + ":" + label
	}
	return label
}

func (p *Printer) Msg(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, "[%s] %s\n", p.tag.Render(p.prefix), fmt.Sprintf(format, args...))
}

func (p *Printer) ServerUp() {
	p.Msg("Server up %s", p.good.Render(checkmark))
}

// ServerDown reports a down server; good says whether down is the desired outcome.
func (p *Printer) ServerDown(good bool) {
	if good {
		p.Msg("Server down %s", p.good.Render(checkmark))
		return
	}
	p.Msg("Server down %s", p.bad.Render(cross))
}

func (p *Printer) Blank() {
	_, _ = fmt.Fprintln(p.out)
}
