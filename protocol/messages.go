// Package protocol defines the control-channel wire messages exchanged
// between tunnel client and server, and the framing used to send them.
package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// ClientMessage is the tagged union of messages a client sends to the server.
type ClientMessage struct {
	Type ClientMsgType `json:"type"`

	// Hello carries the requested public port; 0 means "let the server choose".
	Port uint16 `json:"port,omitempty"`

	// Accept carries the id of a pending Connection offer being claimed.
	ID uuid.UUID `json:"id,omitempty"`
}

type ClientMsgType string

const (
	ClientHello  ClientMsgType = "hello"
	ClientAccept ClientMsgType = "accept"
)

// NewClientHello builds a Hello(port) message.
func NewClientHello(port uint16) ClientMessage {
	return ClientMessage{Type: ClientHello, Port: port}
}

// NewClientAccept builds an Accept(id) message.
func NewClientAccept(id uuid.UUID) ClientMessage {
	return ClientMessage{Type: ClientAccept, ID: id}
}

func (m ClientMessage) Validate() error {
	switch m.Type {
	case ClientHello, ClientAccept:
		return nil
	default:
		return fmt.Errorf("protocol: unknown client message type %q", m.Type)
	}
}

// ServerMessage is the tagged union of messages a server sends to a client.
type ServerMessage struct {
	Type ServerMsgType `json:"type"`

	// Hello carries the allocated public port.
	Port uint16 `json:"port,omitempty"`

	// Connection carries the id of a pending inbound data connection.
	ID uuid.UUID `json:"id,omitempty"`

	// Error carries a human-readable, terminal error message.
	Error string `json:"error,omitempty"`
}

type ServerMsgType string

const (
	ServerHello      ServerMsgType = "hello"
	ServerHeartbeat  ServerMsgType = "heartbeat"
	ServerConnection ServerMsgType = "connection"
	ServerError      ServerMsgType = "error"
)

// NewServerHello builds a Hello(port) response.
func NewServerHello(port uint16) ServerMessage {
	return ServerMessage{Type: ServerHello, Port: port}
}

// NewServerHeartbeat builds a Heartbeat liveness probe.
func NewServerHeartbeat() ServerMessage {
	return ServerMessage{Type: ServerHeartbeat}
}

// NewServerConnection builds a Connection(id) offer.
func NewServerConnection(id uuid.UUID) ServerMessage {
	return ServerMessage{Type: ServerConnection, ID: id}
}

// NewServerError builds a terminal Error(text) message.
func NewServerError(text string) ServerMessage {
	return ServerMessage{Type: ServerError, Error: text}
}

func (m ServerMessage) Validate() error {
	switch m.Type {
	case ServerHello, ServerHeartbeat, ServerConnection, ServerError:
		return nil
	default:
		return fmt.Errorf("protocol: unknown server message type %q", m.Type)
	}
}
