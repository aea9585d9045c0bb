package config

import (
	"fmt"
	"strings"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Server.Host) == "" {
		return nil, fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.Workers < 0 {
		return nil, fmt.Errorf("server.workers must be >= 0")
	}
	if cfg.Server.StartTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("server.start_timeout_seconds must be > 0")
	}
	if cfg.Server.Command.Raw != "" && len(cfg.Server.Command.Argv) == 0 {
		return nil, fmt.Errorf("server.command is configured but empty")
	}
	if cfg.Request.TimeoutMS <= 0 {
		return nil, fmt.Errorf("request.timeout_ms must be > 0")
	}
	if cfg.Request.Retries < 0 {
		return nil, fmt.Errorf("request.retries must be >= 0")
	}
	if !logLevels[cfg.Log.Level] {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if cfg.Server.Workers == 0 {
		warnings = append(warnings, Warning{Message: "server.workers=0; play and parse requests will find no worker"})
	}
	if strings.TrimSpace(cfg.Audio.Output) == "" {
		warnings = append(warnings, Warning{Message: "audio.output is empty; using the default sink"})
	}

	return warnings, nil
}
