package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
)

// Message is an inbound signaling message from a client.
type Message struct {
	Type        registry.MessageType
	Destination string
	// Key is the pairing key carried by connect messages.
	Key     string
	Payload json.RawMessage
}

// Outcome is the result of a successful Relay call.
type Outcome struct {
	// Delivered counts destination mailboxes the message reached. Zero is
	// valid (for example a broadcast with no other connections).
	Delivered int `json:"delivered"`
}

func (m Message) Validate() error {
	switch m.Type {
	case registry.TypeOffer, registry.TypeAnswer, registry.TypeCandidate:
		if m.Destination == "" {
			return fmt.Errorf("%w: %s message missing destination", ErrMalformedMessage, m.Type)
		}
		if isEmptyPayload(m.Payload) {
			return fmt.Errorf("%w: %s message missing payload", ErrMalformedMessage, m.Type)
		}
	case registry.TypeConnect:
		if m.Key == "" {
			return fmt.Errorf("%w: connect message missing key", ErrMalformedMessage)
		}
	case registry.TypeDisconnect:
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return fmt.Errorf("%w: unsupported message type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

func isEmptyPayload(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
