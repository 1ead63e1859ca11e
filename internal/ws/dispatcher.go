package ws

import (
	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/protocol"
)

// MessageHandler handles one parsed client message. The msg parameter is
// the concrete struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// Dispatcher routes incoming frames to registered handlers by message
// type. Ping is answered internally; parse errors and unknown types get a
// structured error response.
type Dispatcher struct {
	handlers map[string]MessageHandler
	authFree map[string]bool // types allowed before authentication
	log      zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]MessageHandler),
		authFree: map[string]bool{
			protocol.TypeRegister:  true,
			protocol.TypeLogin:     true,
			protocol.TypeGuestJoin: true,
			protocol.TypeResume:    true,
			protocol.TypePing:      true,
		},
		log: log.With().Str("component", "dispatch").Logger(),
	}
}

// Register associates a handler with a message type, replacing any
// previous registration.
func (d *Dispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses raw frame bytes and routes to the registered handler.
// All types except the session-establishment set require a bound identity.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("parse error")
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	if !d.authFree[msgType] && conn.Identity() == "" {
		d.sendError(conn, "auth_required", "establish a session first")
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug().Str("type", msgType).Str("conn", conn.ID).Msg("unsupported type")
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}
	handler(conn, msg)
}

func (d *Dispatcher) sendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(data)
}

func (d *Dispatcher) sendPong(conn *Connection) {
	conn.Touch()
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(data)
}
