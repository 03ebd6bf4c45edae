package protocol

// ClientMessageType enumerates frames sent from the dashboard to the gateway.
type ClientMessageType string

const (
	ClientMessageInput  ClientMessageType = "input"
	ClientMessageResize ClientMessageType = "resize"
	ClientMessagePing   ClientMessageType = "ping"
)

// ServerMessageType enumerates frames sent from the gateway to the dashboard.
type ServerMessageType string

const (
	ServerMessageStdout ServerMessageType = "stdout"
	ServerMessageStderr ServerMessageType = "stderr"
	ServerMessageError  ServerMessageType = "error"
	ServerMessageStatus ServerMessageType = "status"
	ServerMessageResize ServerMessageType = "resize"
	ServerMessagePong   ServerMessageType = "pong"
)

// State enumerates the externally visible health of a logical connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// TerminalSize carries pty dimensions for resize frames.
type TerminalSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// StatusPayload is the server-asserted connection state carried by status frames.
type StatusPayload struct {
	Status  State  `json:"status"`
	Message string `json:"message,omitempty"`
}

// ClientMessage is the request envelope sent over the terminal websocket.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	Data   string            `json:"data,omitempty"`
	Resize *TerminalSize     `json:"resize,omitempty"`
}

// ServerMessage is the envelope sent back over the terminal websocket.
type ServerMessage struct {
	Type   ServerMessageType `json:"type"`
	Data   string            `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
	Status *StatusPayload    `json:"status,omitempty"`
	Resize *TerminalSize     `json:"resize,omitempty"`
}
