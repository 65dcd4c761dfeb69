package signaling

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/policy"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
)

// step is one message in a scripted exchange between two peers. Destination
// names a peer by index; -1 leaves it as a literal.
type step struct {
	from    int
	msgType registry.MessageType
	to      int
	literal string
	key     string
	payload string
}

func (s step) message(ids [2]string) clientMessage {
	msg := clientMessage{Type: s.msgType, Key: s.key}
	switch {
	case s.to >= 0:
		msg.Destination = ids[s.to]
	default:
		msg.Destination = s.literal
	}
	if s.payload != "" {
		msg.Payload = jsonString(s.payload)
	}
	return msg
}

// result is the transport-neutral part of a reply: the outcome bytes or the
// error code.
type result struct {
	outcome []byte
	code    string
}

func TestTransports_ProduceIdenticalOutcomes(t *testing.T) {
	script := []step{
		{from: 0, msgType: registry.TypeConnect, to: -1, key: "room1"},
		{from: 1, msgType: registry.TypeConnect, to: -1, key: "room1"},
		{from: 0, msgType: registry.TypeOffer, to: 1, payload: "sdp1"},
		{from: 1, msgType: registry.TypeAnswer, to: 0, payload: "sdp2"},
		{from: 0, msgType: registry.TypeCandidate, to: -1, literal: "C", payload: "cand1"},
		{from: 1, msgType: registry.TypeOffer, to: -1, literal: policy.Broadcast, payload: "sdp3"},
		{from: 1, msgType: registry.TypeConnect, to: -1, key: "room2"},
		{from: 0, msgType: registry.TypeAnswer, to: 1},
	}

	socketResults := func() []result {
		env := newTestEnv(t, registry.TransportWebSocket, policy.ModePrivate)
		peers := [2]*wsClient{env.dial(t), env.dial(t)}
		ids := [2]string{peers[0].id, peers[1].id}

		var out []result
		for _, s := range script {
			peers[s.from].send(s.message(ids))
			f := peers[s.from].result()
			out = append(out, result{outcome: f.Outcome, code: f.Code})
		}
		return out
	}()

	pollResults := func() []result {
		env := newTestEnv(t, registry.TransportHTTP, policy.ModePrivate)
		ids := [2]string{env.register(t), env.register(t)}

		var out []result
		for _, s := range script {
			msg := s.message(ids)
			msg.ID = ids[s.from]
			status, body := env.post(t, msg)
			var r result
			if status == 200 {
				var res pollResult
				if err := json.Unmarshal(body, &res); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				r.outcome = res.Outcome
			} else {
				var res errorResponse
				if err := json.Unmarshal(body, &res); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				r.code = res.Code
			}
			out = append(out, r)
		}
		return out
	}()

	if len(socketResults) != len(pollResults) {
		t.Fatalf("len=%d/%d, want equal", len(socketResults), len(pollResults))
	}
	for i := range script {
		s, p := socketResults[i], pollResults[i]
		if !bytes.Equal(s.outcome, p.outcome) || s.code != p.code {
			t.Fatalf("step %d: socket=(%s,%q) poll=(%s,%q), want identical", i, s.outcome, s.code, p.outcome, p.code)
		}
		if s.outcome == nil && s.code == "" {
			t.Fatalf("step %d produced neither outcome nor error", i)
		}
	}
}
