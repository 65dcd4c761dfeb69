package httpserver

import (
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

// clientConfig tells browser clients which transport and mode the relay runs
// with, and which ICE servers to hand to RTCPeerConnection.
type clientConfig struct {
	UseWebSocket          bool        `json:"useWebSocket"`
	StartupMode           string      `json:"startupMode"`
	Transport             string      `json:"transport"`
	PollLivenessTimeoutMs int64       `json:"pollLivenessTimeoutMs"`
	Logging               string      `json:"logging"` // access log format: text or json
	ICEServers            []iceServer `json:"iceServers"`
}

// iceServer mirrors the browser RTCIceServer dictionary.
type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func newClientConfig(cfg config.Config) clientConfig {
	return clientConfig{
		UseWebSocket:          cfg.SignalingTransport == config.SignalingTransportWebSocket,
		StartupMode:           string(cfg.SignalingMode),
		Transport:             string(cfg.SignalingTransport),
		PollLivenessTimeoutMs: cfg.PollLivenessTimeout.Milliseconds(),
		Logging:               string(cfg.LogFormat),
		ICEServers:            toClientICEServers(cfg.ICEServers),
	}
}

// toClientICEServers never returns nil so the list encodes as [] rather than
// null.
func toClientICEServers(servers []webrtc.ICEServer) []iceServer {
	out := make([]iceServer, 0, len(servers))
	for _, server := range servers {
		s := iceServer{
			URLs:     server.URLs,
			Username: server.Username,
		}
		if cred, ok := server.Credential.(string); ok {
			s.Credential = cred
		}
		out = append(out, s)
	}
	return out
}

func (s *Server) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, newClientConfig(s.cfg))
}
