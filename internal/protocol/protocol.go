// Package protocol defines the request/response envelopes exchanged with a cadenza server
// and the multipart frame layout that carries them.
package protocol

import (
	"errors"
	"strings"
)

// Command names understood by the server and its workers.
const (
	CommandPing       = "ping"
	CommandStatus     = "status"
	CommandVersion    = "version"
	CommandInfo       = "info"
	CommandNew        = "new"
	CommandLoad       = "load"
	CommandSave       = "save"
	CommandScore      = "score"
	CommandAppend     = "append"
	CommandPlay       = "play"
	CommandParse      = "parse"
	CommandPlayStatus = "play-status"
	CommandStop       = "stop"
)

type Signal string

const (
	SignalUnsavedChanges Signal = "unsaved-changes"
	SignalExistingFile   Signal = "existing-file"
)

// Known reports whether the signal names a decline reason this client can confirm.
func (s Signal) Known() bool {
	switch s {
	case SignalUnsavedChanges, SignalExistingFile:
		return true
	default:
		return false
	}
}

type Options struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Filename string `json:"filename,omitempty"`
	As       string `json:"as,omitempty"`
	Append   bool   `json:"append,omitempty"`
}

// Request is one command sent to the server. TargetWorker is an opaque routing identity
// carried in its own frame; it is never interpreted.
type Request struct {
	Command      string   `json:"command"`
	Body         string   `json:"body,omitempty"`
	Options      *Options `json:"options,omitempty"`
	Confirming   bool     `json:"confirming"`
	TargetWorker []byte   `json:"-"`
}

// Validate enforces request invariants before anything is put on the wire.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Command) == "" {
		return errors.New("request command must not be empty")
	}
	return nil
}

// Opts returns the request options, never nil.
func (r Request) Opts() Options {
	if r.Options == nil {
		return Options{}
	}
	return *r.Options
}

// Response is the decoded server reply. WorkerAddress is filled from the trailing
// worker-identity frame when the server routed the request to a worker.
type Response struct {
	Success       bool   `json:"success"`
	Pending       bool   `json:"pending,omitempty"`
	Signal        Signal `json:"signal,omitempty"`
	Body          string `json:"body"`
	NoWorker      bool   `json:"noWorker,omitempty"`
	WorkerAddress []byte `json:"-"`
}

// Validate enforces the response schema: a signal implies failure, and a failure
// always explains itself.
func (r Response) Validate() error {
	if r.Signal != "" && r.Success {
		return errors.New("response carries a signal but reports success")
	}
	if !r.Success && strings.TrimSpace(r.Body) == "" {
		return errors.New("failed response has an empty body")
	}
	return nil
}

// OK builds a successful response.
func OK(body string) Response {
	return Response{Success: true, Body: body}
}

// Fail builds a failed response.
func Fail(body string) Response {
	return Response{Success: false, Body: body}
}

// Decline builds a response refusing to run an operation until it is confirmed.
func Decline(signal Signal, body string) Response {
	return Response{Success: false, Signal: signal, Body: body}
}

// Worker status frames sent from a worker to the server backend.
const (
	WorkerReady = "READY"
	WorkerBusy  = "BUSY"
)
