package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Loaded is the configuration one cadenza invocation runs with and where it came from.
// Exists is false when no file was found and Config holds the built-in defaults.
type Loaded struct {
	Path     string
	Format   Format
	Exists   bool
	Config   Config
	Warnings []Warning
}

// Load finds the config file, layers it over Default, and validates the result. A missing
// file is not an error.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Format: FormatForPath(path), Config: Default()}

	content, found, err := readSource(path)
	if err != nil {
		return Loaded{}, err
	}
	if !found {
		loaded.Warnings = []Warning{{Message: fmt.Sprintf("config file %q not found; using defaults", path)}}
		return loaded, nil
	}

	cfg, warnings, err := Parse(content, loaded.Format, loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q (%s): %w", path, loaded.Format, err)
	}
	loaded.Exists = true
	loaded.Config = cfg
	loaded.Warnings = warnings
	return loaded, nil
}

// readSource returns the file content, or found=false when nothing is at path.
func readSource(path string) (content string, found bool, err error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("read config %q: %w", path, err)
	case info.IsDir():
		return "", false, fmt.Errorf("read config %q: is a directory", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read config %q: %w", path, err)
	}
	return string(raw), true, nil
}
