package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rbright/cadenza/internal/protocol"
	"github.com/stretchr/testify/require"
)

func request(command, body string, opts *protocol.Options) protocol.Request {
	return protocol.Request{Command: command, Body: body, Options: opts}
}

func TestHandleBasics(t *testing.T) {
	h := NewHandler(27713)
	h.Workers = func() (int, int) { return 1, 2 }

	require.Equal(t, protocol.OK("pong"), h.Handle(request(protocol.CommandPing, "", nil)))

	status := h.Handle(request(protocol.CommandStatus, "", nil))
	require.True(t, status.Success)
	require.Contains(t, status.Body, "workers ready: 1/2")
	require.Contains(t, status.Body, "score: untitled")

	info := h.Handle(request(protocol.CommandInfo, "", nil))
	require.Contains(t, info.Body, "port: 27713")
	require.Contains(t, info.Body, "workers: 2 registered, 1 ready")

	version := h.Handle(request(protocol.CommandVersion, "", nil))
	require.Contains(t, version.Body, "cadenza ")

	unknown := h.Handle(request("bogus", "", nil))
	require.False(t, unknown.Success)
	require.Contains(t, unknown.Body, `unknown command "bogus"`)
}

func TestAppendMarksScoreModified(t *testing.T) {
	h := NewHandler(0)

	require.True(t, h.Handle(request(protocol.CommandAppend, "piano: c d e\n", nil)).Success)
	require.True(t, h.Handle(request(protocol.CommandAppend, "f g", nil)).Success)

	score := h.Score()
	require.Equal(t, "piano: c d e\nf g", score.Text)
	require.True(t, score.Modified)
	require.Equal(t, "piano: c d e\nf g", h.Handle(request(protocol.CommandScore, "", nil)).Body)

	empty := h.Handle(request(protocol.CommandAppend, "  ", nil))
	require.False(t, empty.Success)
}

func TestUnsavedChangesDeclineUntilConfirmed(t *testing.T) {
	for _, command := range []string{protocol.CommandNew, protocol.CommandLoad, protocol.CommandStop} {
		t.Run(command, func(t *testing.T) {
			h := NewHandler(0)
			h.Append("piano: c")

			req := request(command, "piano: d", &protocol.Options{Filename: "/tmp/x.cdz"})
			declined := h.Handle(req)
			require.False(t, declined.Success)
			require.Equal(t, protocol.SignalUnsavedChanges, declined.Signal)
			require.Equal(t, "piano: c", h.Score().Text)

			req.Confirming = true
			require.True(t, h.Handle(req).Success)
		})
	}
}

func TestCleanScoreNeverDeclines(t *testing.T) {
	h := NewHandler(0)
	require.True(t, h.Handle(request(protocol.CommandNew, "", nil)).Success)
	require.True(t, h.Handle(request(protocol.CommandStop, "", nil)).Success)
}

func TestLoadReplacesScore(t *testing.T) {
	h := NewHandler(0)
	resp := h.Handle(request(protocol.CommandLoad, "piano: c d e\n", &protocol.Options{Filename: "/tmp/song.cdz"}))
	require.True(t, resp.Success)
	require.Equal(t, "Loaded /tmp/song.cdz", resp.Body)
	require.Equal(t, Score{Text: "piano: c d e", Filename: "/tmp/song.cdz"}, h.Score())

	require.False(t, h.Handle(request(protocol.CommandLoad, "", nil)).Success)
}

func TestSaveWritesAndDeclinesOnExistingFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.cdz")
	other := filepath.Join(dir, "other.cdz")
	require.NoError(t, os.WriteFile(other, []byte("keep me\n"), 0o644))

	h := NewHandler(0)
	h.Append("piano: c")

	noName := h.Handle(request(protocol.CommandSave, "", nil))
	require.False(t, noName.Success)
	require.Empty(t, noName.Signal)

	saved := h.Handle(request(protocol.CommandSave, "", &protocol.Options{Filename: first}))
	require.True(t, saved.Success, saved.Body)
	content, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, "piano: c\n", string(content))
	require.False(t, h.Score().Modified)

	// Saving again to the score's own file overwrites without asking.
	h.Append("d")
	require.True(t, h.Handle(request(protocol.CommandSave, "", nil)).Success)

	declined := h.Handle(request(protocol.CommandSave, "", &protocol.Options{Filename: other}))
	require.Equal(t, protocol.SignalExistingFile, declined.Signal)
	content, err = os.ReadFile(other)
	require.NoError(t, err)
	require.Equal(t, "keep me\n", string(content))

	confirmed := request(protocol.CommandSave, "", &protocol.Options{Filename: other})
	confirmed.Confirming = true
	require.True(t, h.Handle(confirmed).Success)
	require.Equal(t, other, h.Score().Filename)
}
