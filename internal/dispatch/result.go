package dispatch

import "github.com/rbright/cadenza/internal/protocol"

// Kind tags the outcome of one exchange.
type Kind int

const (
	// KindResponse is a decoded reply without a decline signal, successful or not.
	KindResponse Kind = iota + 1
	// KindDeclined is a reply whose signal says the operation did not run.
	KindDeclined
	// KindTransportFailure means no usable reply arrived.
	KindTransportFailure
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindDeclined:
		return "declined"
	case KindTransportFailure:
		return "transport-failure"
	default:
		return "unknown"
	}
}

// Result is the outcome of one exchange. Response is meaningful unless Kind is
// KindTransportFailure, in which case Err is set.
type Result struct {
	Kind     Kind
	Response protocol.Response
	Err      error
}

func fromResponse(resp protocol.Response) Result {
	if resp.Signal != "" {
		return Result{Kind: KindDeclined, Response: resp}
	}
	return Result{Kind: KindResponse, Response: resp}
}

func failure(err error) Result {
	return Result{Kind: KindTransportFailure, Err: err}
}

// OK reports a reply that succeeded.
func (r Result) OK() bool {
	return r.Kind == KindResponse && r.Response.Success
}

func (r Result) Declined() bool {
	return r.Kind == KindDeclined
}

func (r Result) Failed() bool {
	return r.Kind == KindTransportFailure
}

// Signal returns the decline reason, empty unless Declined.
func (r Result) Signal() protocol.Signal {
	if r.Kind != KindDeclined {
		return ""
	}
	return r.Response.Signal
}

// Text is the display text: the reply body, or the transport error.
func (r Result) Text() string {
	if r.Kind == KindTransportFailure {
		if r.Err == nil {
			return "request failed"
		}
		return r.Err.Error()
	}
	return r.Response.Body
}
