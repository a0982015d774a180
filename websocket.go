package reqivo

import "github.com/roldriel/reqivo/internal/ws"

type WebSocket = ws.WebSocket
type WebSocketOption = ws.Option
type WebSocketState = ws.State
type Message = ws.Message
type MessageType = ws.MessageType

const (
	TextMessage   = ws.TextMessage
	BinaryMessage = ws.BinaryMessage
)

// ErrWebSocketClosed is wrapped into the error Recv returns on a clean
// close by the peer.
var ErrWebSocketClosed = ws.ErrClosed

// WebSocket options, applied at Session.WebSocket.
var (
	WithWSHeaders     = ws.WithHeaders
	WithSubprotocols  = ws.WithSubprotocols
	WithMaxFrameSize  = ws.WithMaxFrameSize
	WithAutoReconnect = ws.WithAutoReconnect
	WithWSTimeout     = ws.WithTimeout
)
