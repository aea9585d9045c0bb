// Package config resolves, parses, validates, and defaults cadenza configuration.
package config

import "time"

// Config is the fully materialized client configuration.
type Config struct {
	Server  ServerConfig
	Request RequestConfig
	Audio   AudioConfig
	Log     LogConfig
}

// ServerConfig locates the server and controls how a local one is forked.
type ServerConfig struct {
	Host                string
	Port                int
	Workers             int
	StartTimeoutSeconds int
	Command             CommandConfig
}

// RequestConfig is the timeout/retry policy for read-only requests.
type RequestConfig struct {
	TimeoutMS int
	Retries   int
}

// AudioConfig names the preferred PulseAudio output sink.
type AudioConfig struct {
	Output string
}

type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Request.TimeoutMS) * time.Millisecond
}

func (c Config) StartTimeout() time.Duration {
	return time.Duration(c.Server.StartTimeoutSeconds) * time.Second
}
