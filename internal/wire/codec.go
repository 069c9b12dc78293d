package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
)

// Encode serializes a message into its frame bytes, without the trailing
// newline (the transport owns framing).
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}

	return data, nil
}

// Decode classifies and parses one frame into a message.
//
// Classification peeks at the frame with gjson before committing to a strict
// unmarshal, so a malformed frame costs one cheap scan and never a partial
// struct. Unrecognized shapes return *errors.ProtocolError carrying the raw
// frame; the caller logs and drops the frame and the stream stays usable.
func Decode(frame []byte) (Message, error) {
	if !gjson.ValidBytes(frame) {
		return nil, &errors.ProtocolError{
			RawFrame: string(frame),
			Err:      fmt.Errorf("invalid JSON"),
		}
	}

	parsed := gjson.ParseBytes(frame)
	if !parsed.IsObject() {
		return nil, &errors.ProtocolError{
			RawFrame: string(frame),
			Err:      fmt.Errorf("frame is not a JSON object"),
		}
	}

	switch {
	case parsed.Get("type").Str == "event":
		if !parsed.Get("event").Exists() {
			return nil, &errors.ProtocolError{
				RawFrame: string(frame),
				Err:      fmt.Errorf("event frame missing topic"),
			}
		}

		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			return nil, &errors.ProtocolError{RawFrame: string(frame), Err: err}
		}

		return &ev, nil

	case parsed.Get("id").Exists() && parsed.Get("method").Exists():
		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			return nil, &errors.ProtocolError{RawFrame: string(frame), Err: err}
		}

		return &req, nil

	case parsed.Get("id").Exists():
		if !parsed.Get("result").Exists() && !parsed.Get("error").Exists() {
			return nil, &errors.ProtocolError{
				RawFrame: string(frame),
				Err:      fmt.Errorf("response frame carries neither result nor error"),
			}
		}

		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			return nil, &errors.ProtocolError{RawFrame: string(frame), Err: err}
		}

		return &resp, nil

	default:
		return nil, &errors.ProtocolError{
			RawFrame: string(frame),
			Err:      fmt.Errorf("unrecognized message shape"),
		}
	}
}
