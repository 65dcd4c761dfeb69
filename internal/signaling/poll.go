package signaling

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/relay"
)

// handlePoll serves POST /signaling. A body without an id registers a new
// connection. A body with an id records liveness, relays the attached message
// if any, and returns everything queued for the caller.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxMessageBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, relay.CodeBadMessage, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, relay.CodeBadMessage, "failed to read request body")
		return
	}

	var req clientMessage
	if len(bytes.TrimSpace(body)) > 0 {
		req, err = parseClientMessage(body)
		if err != nil {
			s.metrics.Rejected(relay.CodeBadMessage)
			writeRelayError(w, err)
			return
		}
	}

	if req.ID == "" {
		if req.hasMessage() {
			s.metrics.Rejected(relay.CodeBadMessage)
			writeRelayError(w, fmt.Errorf("%w: register before sending messages", relay.ErrMalformedMessage))
			return
		}
		s.register(w)
		return
	}

	if err := s.relay.Touch(req.ID); err != nil {
		s.metrics.Rejected(relay.CodeUnauthorized)
		writeRelayError(w, err)
		return
	}

	resp := pollResponse{ID: req.ID, Messages: []registry.Message{}}
	if req.hasMessage() {
		if !s.allow(req.ID) {
			writeRelayError(w, relay.ErrRateLimited)
			return
		}
		out, err := s.relay.Relay(req.ID, req.relayMessage())
		if err != nil {
			writeRelayError(w, err)
			return
		}
		resp.Outcome = &out
	}

	// A disconnect removes the caller, leaving nothing to drain.
	if msgs, err := s.relay.Drain(req.ID); err == nil {
		resp.Messages = msgs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) register(w http.ResponseWriter) {
	id, err := s.relay.Open(registry.TransportHTTP)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{ID: id, Messages: []registry.Message{}})
}

// handlePollDelete serves DELETE /signaling?id=. Unregistering an unknown id
// succeeds.
func (s *Server) handlePollDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, relay.CodeBadMessage, "missing id query parameter")
		return
	}
	s.relay.Close(id)
	w.WriteHeader(http.StatusNoContent)
}
