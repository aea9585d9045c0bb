package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json, or yaml, case-insensitively. Empty means text.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json, or yaml)", raw)
	}
}

// Entry is one row of a process listing.
type Entry struct {
	PID    int    `json:"pid" yaml:"pid"`
	Port   int    `json:"port" yaml:"port"`
	Role   string `json:"role" yaml:"role"`
	Status string `json:"status" yaml:"status"`
}

// RenderEntries writes entries in the requested format.
func RenderEntries(w io.Writer, entries []Entry, format Format) error {
	if entries == nil {
		entries = []Entry{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		for _, entry := range entries {
			if _, err := fmt.Fprintf(w, "[%s] %s\n", Prefix("localhost", entry.Port), entry.Status); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
