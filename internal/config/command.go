package config

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// parseArgv splits a command line with POSIX shell quoting rules. Variable references are
// left unexpanded so the configured command means the same thing everywhere.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	argv, err := shell.Fields(input, func(name string) string { return "$" + name })
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", input, err)
	}
	return argv, nil
}
