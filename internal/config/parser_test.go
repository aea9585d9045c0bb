package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONCWithCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // where the server lives
  "server": {
    "host": " localhost ",
    "port": 31000,
    "workers": 4, /* more voices */
    "command": "/opt/cadenza/bin/cadenza --profile 'live set'",
  },
  "request": {"timeout_ms": 1000, "retries": 1,},
  "log": {"level": "DEBUG"},
}
`

	cfg, warnings, err := Parse(input, FormatJSONC, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "localhost", cfg.Server.Host)
	require.Equal(t, 31000, cfg.Server.Port)
	require.Equal(t, 4, cfg.Server.Workers)
	require.Equal(t, []string{"/opt/cadenza/bin/cadenza", "--profile", "live set"}, cfg.Server.Command.Argv)
	require.Equal(t, 1000, cfg.Request.TimeoutMS)
	require.Equal(t, 1, cfg.Request.Retries)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 30, cfg.Server.StartTimeoutSeconds)
}

func TestParseJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	cfg, _, err := Parse(`{"audio": {"output": "sink // with /* slashes */"},}`, FormatJSONC, Default())
	require.NoError(t, err)
	require.Equal(t, "sink // with /* slashes */", cfg.Audio.Output)
}

func TestParseJSONCRejectsUnknownKeys(t *testing.T) {
	_, _, err := Parse(`{"server": {"hostname": "x"}}`, FormatJSONC, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "hostname")
}

func TestParseJSONCRejectsMultipleValues(t *testing.T) {
	_, _, err := Parse(`{"server": {}} {"log": {}}`, FormatJSONC, Default())
	require.Error(t, err)
}

func TestParseJSONCTypeErrorReportsPosition(t *testing.T) {
	_, _, err := Parse("{\n  \"server\": {\"port\": \"high\"}\n}", FormatJSONC, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestParseTOML(t *testing.T) {
	input := `
[server]
port = 31000
workers = 0

[request]
retries = 0

[extra]
thing = 1
`

	cfg, warnings, err := Parse(input, FormatTOML, Default())
	require.NoError(t, err)
	require.Equal(t, 31000, cfg.Server.Port)
	require.Equal(t, 0, cfg.Request.Retries)

	messages := make([]string, 0, len(warnings))
	for _, w := range warnings {
		messages = append(messages, w.Message)
	}
	require.Contains(t, messages, `unknown key "extra.thing" ignored`)
	require.Contains(t, messages, "server.workers=0; play and parse requests will find no worker")
}

func TestParseTOMLSyntaxError(t *testing.T) {
	_, _, err := Parse("[server\nport = 1", FormatTOML, Default())
	require.Error(t, err)
}

func TestParseEmptyContentUsesBase(t *testing.T) {
	cfg, warnings, err := Parse("  \n", FormatJSONC, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}

func TestParseRejectsBadCommandQuoting(t *testing.T) {
	_, _, err := Parse(`{"server": {"command": "cadenza 'unterminated"}}`, FormatJSONC, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "server.command")
}

func TestFormatForPath(t *testing.T) {
	require.Equal(t, FormatTOML, FormatForPath("/etc/cadenza/config.TOML"))
	require.Equal(t, FormatJSONC, FormatForPath("/etc/cadenza/config.jsonc"))
	require.Equal(t, FormatJSONC, FormatForPath("/etc/cadenza/config.json"))
}

func TestParseArgvLeavesVariablesUnexpanded(t *testing.T) {
	argv, err := parseArgv(`cadenza --log "$HOME/cadenza.log"`)
	require.NoError(t, err)
	require.Equal(t, []string{"cadenza", "--log", "$HOME/cadenza.log"}, argv)

	argv, err = parseArgv("   ")
	require.NoError(t, err)
	require.Nil(t, argv)
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8)
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)
}
