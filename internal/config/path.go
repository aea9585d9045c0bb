package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath applies CLI/XDG/home fallback rules for the config location. Without an
// explicit path, config.jsonc is preferred and config.toml is used only when it alone exists.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	dir, err := configDir()
	if err != nil {
		return "", err
	}
	jsonc := filepath.Join(dir, "config.jsonc")
	if _, err := os.Stat(jsonc); err == nil {
		return jsonc, nil
	}
	toml := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(toml); err == nil {
		return toml, nil
	}
	return jsonc, nil
}

func configDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "cadenza"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "cadenza"), nil
}
