// Package wire implements the codec for the Sockpuppet host protocol.
//
// Every frame on the transport is one newline-delimited JSON object holding
// exactly one of three message shapes:
//
//	Request:  {"id": "...", "method": "...", "params": {...}}
//	Response: {"id": "...", "result": ...} or {"id": "...", "error": {...}}
//	Event:    {"type": "event", "event": "...", "data": ...}
//
// Payloads are opaque to the engine and carried as json.RawMessage.
package wire

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Kind identifies the concrete message shape.
type Kind string

const (
	// KindRequest is a method invocation expecting a correlated response.
	KindRequest Kind = "request"
	// KindResponse is the result or error for a previously sent request.
	KindResponse Kind = "response"
	// KindEvent is an unsolicited push notification; it carries no id.
	KindEvent Kind = "event"
)

// Message is the tagged union of the three wire shapes.
// Use a type switch on the concrete type to route a decoded frame.
type Message interface {
	Kind() Kind
}

// Compile-time verification that all message types implement Message.
var (
	_ Message = (*Request)(nil)
	_ Message = (*Response)(nil)
	_ Message = (*Event)(nil)
)

// Request is a method invocation sent to the host.
type Request struct {
	// ID uniquely identifies this request for response correlation.
	ID string `json:"id"`

	// Method names the host operation, e.g. "window.showInformationMessage".
	Method string `json:"method"`

	// Params is the ordered parameter payload, opaque to the engine.
	Params json.RawMessage `json:"params,omitempty"`
}

// Kind implements Message.
func (r *Request) Kind() Kind { return KindRequest }

// Response carries the outcome of a request. Exactly one of Result and Err
// is set.
type Response struct {
	// ID matches the id of the request being answered.
	ID string `json:"id"`

	// Result is the success payload.
	Result json.RawMessage `json:"result,omitempty"`

	// Err is the host's error description, if the request failed.
	Err *ErrorBody `json:"error,omitempty"`
}

// Kind implements Message.
func (r *Response) Kind() Kind { return KindResponse }

// IsError reports whether the response carries an error rather than a result.
func (r *Response) IsError() bool { return r.Err != nil }

// ErrorBody is the error description inside an error response.
//
// The host usually sends {"code": n, "message": "..."} but older extension
// builds send a bare string; both decode, a bare string mapping to code 0.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UnmarshalJSON accepts both the structured object form and a bare string.
func (e *ErrorBody) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Code = 0
		e.Message = s

		return nil
	}

	type plain ErrorBody

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*e = ErrorBody(p)

	return nil
}

// Event is an unsolicited notification pushed by the host.
type Event struct {
	// Type is always "event" on the wire.
	Type string `json:"type"`

	// Topic names the class of event, e.g. "workspace.onDidSaveTextDocument".
	Topic string `json:"event"`

	// Data is the event payload, opaque to the engine.
	Data json.RawMessage `json:"data,omitempty"`
}

// Kind implements Message.
func (e *Event) Kind() Kind { return KindEvent }

// Scope extracts the resource scope id from the payload, if present.
//
// Topics scoped to a created resource (webview panels) carry the resource id
// in data.id; topic-wide events have no scope and return "".
func (e *Event) Scope() string {
	if len(e.Data) == 0 {
		return ""
	}

	id := gjson.GetBytes(e.Data, "id")
	if id.Type == gjson.String {
		return id.Str
	}

	return ""
}
