// Package protocol implements the JSON frame codec shared by the terminal
// websocket client and the stream gateway. The codec is stateless; malformed
// frames decode to nil and are expected to be dropped by callers.
package protocol

import "encoding/json"

// EncodeInput builds an input frame carrying raw keystroke data.
func EncodeInput(data string) ClientMessage {
	return ClientMessage{Type: ClientMessageInput, Data: data}
}

// EncodeResize builds a resize frame for the given pty dimensions.
func EncodeResize(cols, rows int) ClientMessage {
	return ClientMessage{Type: ClientMessageResize, Resize: &TerminalSize{Cols: cols, Rows: rows}}
}

// EncodePing builds a keepalive probe frame.
func EncodePing() ClientMessage {
	return ClientMessage{Type: ClientMessagePing}
}

// Marshal serialises a client message to its wire form.
func Marshal(msg ClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a server frame. It returns nil for malformed JSON or an
// unrecognised type; callers must treat nil as "ignore this frame".
func Decode(frame []byte) *ServerMessage {
	var msg ServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil
	}
	switch msg.Type {
	case ServerMessageStdout, ServerMessageStderr, ServerMessageError,
		ServerMessageStatus, ServerMessageResize, ServerMessagePong:
		return &msg
	default:
		return nil
	}
}

// DecodeClient parses a client frame on the gateway side, with the same
// drop-on-malformed contract as Decode.
func DecodeClient(frame []byte) *ClientMessage {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil
	}
	switch msg.Type {
	case ClientMessageInput, ClientMessageResize, ClientMessagePing:
		return &msg
	default:
		return nil
	}
}
