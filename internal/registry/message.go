package registry

import "encoding/json"

type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

type MessageType string

const (
	// TypeConnect presents a pairing key. It is never queued.
	TypeConnect    MessageType = "connect"
	TypeOffer      MessageType = "offer"
	TypeAnswer     MessageType = "answer"
	TypeCandidate  MessageType = "candidate"
	TypeDisconnect MessageType = "disconnect"
	// TypePaired is generated by the relay when a private-mode session
	// completes; From names the partner.
	TypePaired MessageType = "paired"
)

// Message is a queued signaling message awaiting delivery.
type Message struct {
	From    string          `json:"from"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RemoveReason records why a connection left the registry.
type RemoveReason string

const (
	RemoveDisconnected RemoveReason = "disconnected"
	RemoveClosed       RemoveReason = "transport_closed"
	RemoveReaped       RemoveReason = "liveness_timeout"
	RemoveShutdown     RemoveReason = "shutdown"
)
