package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/relay"
)

// clientMessage is the inbound envelope shared by both transports. On the
// poll transport ID carries the connection id; on sockets it is optional and
// must match the socket's own id when present.
type clientMessage struct {
	ID          string               `json:"id,omitempty"`
	Type        registry.MessageType `json:"type,omitempty"`
	Destination string               `json:"destination,omitempty"`
	Key         string               `json:"key,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
}

// hasMessage reports whether the envelope carries anything to relay.
func (m clientMessage) hasMessage() bool {
	return m.Type != "" || m.Destination != "" || m.Key != "" || len(m.Payload) > 0
}

func (m clientMessage) relayMessage() relay.Message {
	return relay.Message{
		Type:        m.Type,
		Destination: m.Destination,
		Key:         m.Key,
		Payload:     m.Payload,
	}
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := decodeStrictJSON(data, &msg); err != nil {
		return clientMessage{}, fmt.Errorf("%w: %v", relay.ErrMalformedMessage, err)
	}
	return msg, nil
}

type frameType string

const (
	frameRegistered frameType = "registered"
	frameAck        frameType = "ack"
	frameError      frameType = "error"
)

// Socket frames. Relayed messages are pushed as bare registry.Message values.
type registeredFrame struct {
	Type frameType `json:"type"`
	ID   string    `json:"id"`
}

type ackFrame struct {
	Type    frameType     `json:"type"`
	Outcome relay.Outcome `json:"outcome"`
}

type errorFrame struct {
	Type    frameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

type pollResponse struct {
	ID       string             `json:"id"`
	Outcome  *relay.Outcome     `json:"outcome,omitempty"`
	Messages []registry.Message `json:"messages"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpStatus maps a relay wire code to the poll transport's status code.
func httpStatus(code string) int {
	switch code {
	case relay.CodeResourceExhausted:
		return http.StatusServiceUnavailable
	case relay.CodeUnauthorized:
		return http.StatusUnauthorized
	case relay.CodeForbidden:
		return http.StatusForbidden
	case relay.CodeInvalidDestination:
		return http.StatusNotFound
	case relay.CodeKeyAlreadyPaired, relay.CodeAlreadyJoined:
		return http.StatusConflict
	case relay.CodeBadMessage:
		return http.StatusBadRequest
	case relay.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeRelayError(w http.ResponseWriter, err error) {
	code := relay.Code(err)
	writeJSONError(w, httpStatus(code), code, err.Error())
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
