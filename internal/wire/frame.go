package wire

import (
	"encoding/json"
	"fmt"
)

// Command identifies the kind of a bus frame.
type Command string

const (
	CmdConnect     Command = "CONNECT"
	CmdConnected   Command = "CONNECTED"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdSend        Command = "SEND"
	CmdMessage     Command = "MESSAGE"
	CmdError       Command = "ERROR"
)

// Frame header keys.
const (
	HdrDestination  = "destination"
	HdrSubscription = "subscription"
	HdrAttempt      = "attempt"
	HdrSession      = "session"
	HdrMessage      = "message"
)

// Frame is one discrete message unit on the bus, JSON-encoded over a
// websocket text message.
type Frame struct {
	Command Command           `json:"command"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Header returns the named header, or "" when absent.
func (f Frame) Header(key string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[key]
}

// WithHeader returns a copy of the frame with the header set.
func (f Frame) WithHeader(key, value string) Frame {
	headers := make(map[string]string, len(f.Headers)+1)
	for k, v := range f.Headers {
		headers[k] = v
	}
	headers[key] = value
	f.Headers = headers
	return f
}

func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Command == "" {
		return Frame{}, fmt.Errorf("decode frame: missing command")
	}
	return f, nil
}

// Send builds a SEND frame for an application destination.
func Send(destination string, body any) (Frame, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s body: %w", destination, err)
	}
	return Frame{
		Command: CmdSend,
		Headers: map[string]string{HdrDestination: destination},
		Body:    data,
	}, nil
}

// Subscribe builds a SUBSCRIBE frame for a queue or topic.
func Subscribe(id, destination string) Frame {
	return Frame{
		Command: CmdSubscribe,
		Headers: map[string]string{
			HdrSubscription: id,
			HdrDestination:  destination,
		},
	}
}

// Unsubscribe builds an UNSUBSCRIBE frame for a subscription id.
func Unsubscribe(id string) Frame {
	return Frame{
		Command: CmdUnsubscribe,
		Headers: map[string]string{HdrSubscription: id},
	}
}
