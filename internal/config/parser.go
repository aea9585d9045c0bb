package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tailscale/hujson"
)

type Format string

const (
	FormatJSONC Format = "jsonc"
	FormatTOML  Format = "toml"
)

// FormatForPath picks TOML for .toml files and JSONC for everything else.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSONC
}

type filePayload struct {
	Server  *fileServer  `json:"server" toml:"server"`
	Request *fileRequest `json:"request" toml:"request"`
	Audio   *fileAudio   `json:"audio" toml:"audio"`
	Log     *fileLog     `json:"log" toml:"log"`
}

type fileServer struct {
	Host                *string `json:"host" toml:"host"`
	Port                *int    `json:"port" toml:"port"`
	Workers             *int    `json:"workers" toml:"workers"`
	StartTimeoutSeconds *int    `json:"start_timeout_seconds" toml:"start_timeout_seconds"`
	Command             *string `json:"command" toml:"command"`
}

type fileRequest struct {
	TimeoutMS *int `json:"timeout_ms" toml:"timeout_ms"`
	Retries   *int `json:"retries" toml:"retries"`
}

type fileAudio struct {
	Output *string `json:"output" toml:"output"`
}

type fileLog struct {
	Level *string `json:"level" toml:"level"`
}

// Parse reads configuration content in the given format over base, then validates it.
func Parse(content string, format Format, base Config) (Config, []Warning, error) {
	var (
		payload  filePayload
		warnings []Warning
		err      error
	)

	if strings.TrimSpace(content) != "" {
		switch format {
		case FormatTOML:
			warnings, err = decodeTOML(content, &payload)
		case FormatJSONC, "":
			err = decodeJSONC(content, &payload)
		default:
			err = fmt.Errorf("unsupported config format %q", format)
		}
		if err != nil {
			return Config{}, nil, err
		}
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validatedWarnings...), nil
}

func decodeJSONC(content string, payload *filePayload) error {
	standardized, err := hujson.Standardize([]byte(content))
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(payload); err != nil {
		return wrapJSONDecodeError(string(standardized), err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return wrapJSONDecodeError(string(standardized), err)
	}
	return nil
}

func decodeTOML(content string, payload *filePayload) ([]Warning, error) {
	meta, err := toml.Decode(content, payload)
	if err != nil {
		return nil, err
	}
	var warnings []Warning
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("unknown key %q ignored", key.String())})
	}
	return warnings, nil
}

func (payload filePayload) applyTo(cfg *Config) error {
	if payload.Server != nil {
		if payload.Server.Host != nil {
			cfg.Server.Host = strings.TrimSpace(*payload.Server.Host)
		}
		if payload.Server.Port != nil {
			cfg.Server.Port = *payload.Server.Port
		}
		if payload.Server.Workers != nil {
			cfg.Server.Workers = *payload.Server.Workers
		}
		if payload.Server.StartTimeoutSeconds != nil {
			cfg.Server.StartTimeoutSeconds = *payload.Server.StartTimeoutSeconds
		}
		if payload.Server.Command != nil {
			argv, err := parseArgv(*payload.Server.Command)
			if err != nil {
				return fmt.Errorf("server.command: %w", err)
			}
			cfg.Server.Command = CommandConfig{Raw: strings.TrimSpace(*payload.Server.Command), Argv: argv}
		}
	}

	if payload.Request != nil {
		if payload.Request.TimeoutMS != nil {
			cfg.Request.TimeoutMS = *payload.Request.TimeoutMS
		}
		if payload.Request.Retries != nil {
			cfg.Request.Retries = *payload.Request.Retries
		}
	}

	if payload.Audio != nil && payload.Audio.Output != nil {
		cfg.Audio.Output = strings.TrimSpace(*payload.Audio.Output)
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
	}

	return nil
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
