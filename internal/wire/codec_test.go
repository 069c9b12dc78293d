package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
)

func TestDecode_Request(t *testing.T) {
	frame := []byte(`{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","method":"commands.executeCommand","params":{"command":"x"}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok, "expected *Request, got %T", msg)
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", req.ID)
	assert.Equal(t, "commands.executeCommand", req.Method)
	assert.JSONEq(t, `{"command":"x"}`, string(req.Params))
	assert.Equal(t, KindRequest, req.Kind())
}

func TestDecode_ResponseResult(t *testing.T) {
	frame := []byte(`{"id":"abc","result":["a","b"]}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	resp, ok := msg.(*Response)
	require.True(t, ok, "expected *Response, got %T", msg)
	assert.Equal(t, "abc", resp.ID)
	assert.False(t, resp.IsError())
	assert.JSONEq(t, `["a","b"]`, string(resp.Result))
}

func TestDecode_ResponseNullResult(t *testing.T) {
	// Methods with no return value answer with an explicit null result.
	msg, err := Decode([]byte(`{"id":"abc","result":null}`))
	require.NoError(t, err)

	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.False(t, resp.IsError())
}

func TestDecode_ResponseErrorObject(t *testing.T) {
	frame := []byte(`{"id":"abc","error":{"code":42,"message":"command not found"}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	resp, ok := msg.(*Response)
	require.True(t, ok)
	require.True(t, resp.IsError())
	assert.Equal(t, 42, resp.Err.Code)
	assert.Equal(t, "command not found", resp.Err.Message)
}

func TestDecode_ResponseErrorString(t *testing.T) {
	// Older extension builds send the error as a bare string.
	frame := []byte(`{"id":"abc","error":"something broke"}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	resp, ok := msg.(*Response)
	require.True(t, ok)
	require.True(t, resp.IsError())
	assert.Equal(t, 0, resp.Err.Code)
	assert.Equal(t, "something broke", resp.Err.Message)
}

func TestDecode_Event(t *testing.T) {
	frame := []byte(`{"type":"event","event":"workspace.onDidSaveTextDocument","data":{"fileName":"a.go"}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	ev, ok := msg.(*Event)
	require.True(t, ok, "expected *Event, got %T", msg)
	assert.Equal(t, "workspace.onDidSaveTextDocument", ev.Topic)
	assert.Empty(t, ev.Scope())
}

func TestDecode_EventScope(t *testing.T) {
	frame := []byte(`{"type":"event","event":"webview.onDidReceiveMessage","data":{"id":"panel-1","message":{"k":1}}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	ev, ok := msg.(*Event)
	require.True(t, ok)
	assert.Equal(t, "panel-1", ev.Scope())
}

func TestDecode_EventScopeIgnoresNonStringID(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"event","event":"t","data":{"id":7}}`))
	require.NoError(t, err)

	ev, ok := msg.(*Event)
	require.True(t, ok)
	assert.Empty(t, ev.Scope())
}

func TestDecode_MalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"invalid json", `{"id": "abc"`},
		{"not an object", `[1,2,3]`},
		{"empty object", `{}`},
		{"id without result or error", `{"id":"abc"}`},
		{"event without topic", `{"type":"event","data":{}}`},
		{"bare string", `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.Nil(t, msg)

			var protoErr *errors.ProtocolError
			require.ErrorAs(t, err, &protoErr)
			assert.Equal(t, tt.frame, protoErr.RawFrame)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			"request",
			&Request{ID: "r1", Method: "window.showInformationMessage", Params: json.RawMessage(`{"message":"hi"}`)},
		},
		{
			"request without params",
			&Request{ID: "r2", Method: "commands.getCommands"},
		},
		{
			"response with result",
			&Response{ID: "r1", Result: json.RawMessage(`{"ok":true}`)},
		},
		{
			"response with error",
			&Response{ID: "r1", Err: &ErrorBody{Code: 7, Message: "nope"}},
		},
		{
			"event",
			&Event{Type: "event", Topic: "window.onDidOpenTerminal", Data: json.RawMessage(`{"name":"zsh"}`)},
		},
		{
			"scoped event",
			&Event{Type: "event", Topic: "webview.onDidDispose", Data: json.RawMessage(`{"id":"p1"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.msg)
			require.NoError(t, err)

			decoded, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestEncode_RequestShape(t *testing.T) {
	frame, err := Encode(&Request{ID: "r9", Method: "m", Params: json.RawMessage(`[1,2]`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r9","method":"m","params":[1,2]}`, string(frame))
}
