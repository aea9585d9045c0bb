package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const redirectNotice = "Unable to read an answer because input is redirected, so the answer is no.\n\n" +
	"To auto-respond yes, use the -y/--yes option."

// Prompter asks on Out and reads answers from In.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive reports whether In is a terminal. Nil means StdinIsTerminal.
	Interactive func() bool
}

// StdinIsTerminal reports whether standard input is attached to a terminal.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Confirm loops until the answer starts with y or n. End of input counts as no.
func (p Prompter) Confirm(ctx context.Context, warning string) (bool, error) {
	interactive := p.Interactive
	if interactive == nil {
		interactive = StdinIsTerminal
	}
	if !interactive() {
		_, err := fmt.Fprintf(p.Out, "%s\n\n%s\n", warning, redirectNotice)
		return false, err
	}

	reader := bufio.NewReader(p.In)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, err := fmt.Fprintf(p.Out, "%s (y/n) ", warning); err != nil {
			return false, err
		}

		line, err := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(answer, "y"):
			return true, nil
		case strings.HasPrefix(answer, "n"):
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			_, _ = fmt.Fprintln(p.Out)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read answer: %w", err)
		}
	}
}
