package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/relay"
)

const (
	DefaultMaxMessageBytes = 64 * 1024
	DefaultWSIdleTimeout   = 60 * time.Second
	DefaultWSPingInterval  = 20 * time.Second

	Path = "/signaling"
)

// Config wires together the runtime dependencies for the signaling surface.
type Config struct {
	Relay *relay.Relay

	// Transport selects which adapter is mounted. Defaults to websocket.
	Transport registry.Transport

	// Limiter caps inbound messages per connection id on both transports. If
	// nil, messages are unlimited.
	Limiter *ratelimit.KeyedLimiter

	// MaxMessageBytes bounds a single socket frame or poll request body.
	MaxMessageBytes int64

	// WSIdleTimeout closes sockets that send nothing (not even a pong) for
	// this long. WSPingInterval must be shorter for pings to keep clients
	// alive. Zero disables either.
	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server implements the relay's HTTP/WebSocket signaling surface.
type Server struct {
	relay     *relay.Relay
	transport registry.Transport
	limiter   *ratelimit.KeyedLimiter

	maxMessageBytes int64
	wsIdleTimeout   time.Duration
	wsPingInterval  time.Duration

	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*wsConn]struct{}
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := cfg.Transport
	if transport == "" {
		transport = registry.TransportWebSocket
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	r := cfg.Relay
	if r == nil {
		r = relay.New(relay.Config{Logger: logger, Metrics: cfg.Metrics})
	}

	s := &Server{
		relay:           r,
		transport:       transport,
		limiter:         cfg.Limiter,
		maxMessageBytes: maxBytes,
		wsIdleTimeout:   cfg.WSIdleTimeout,
		wsPingInterval:  cfg.WSPingInterval,
		log:             logger,
		metrics:         cfg.Metrics,
		upgrader: websocket.Upgrader{
			// Cross-origin access is governed by the outer CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sockets: make(map[*wsConn]struct{}),
	}
	if s.limiter != nil {
		// Buckets are only created for live ids and dropped when the id
		// leaves, so frames arriving after a disconnect cannot leak buckets.
		s.limiter.TrackLiveness(r.Registry().Contains)
		r.Registry().OnRemove(func(id string, _ registry.Transport, _ registry.RemoveReason) {
			s.limiter.Forget(id)
		})
	}
	return s
}

func (s *Server) Transport() registry.Transport { return s.transport }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	switch s.transport {
	case registry.TransportHTTP:
		mux.HandleFunc("POST "+Path, s.handlePoll)
		mux.HandleFunc("DELETE "+Path, s.handlePollDelete)
	default:
		mux.HandleFunc("GET "+Path, s.handleWebSocket)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close sends a going-away close frame to every open socket and closes it.
// Poll connections need no teardown beyond the relay's own shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	sockets := make([]*wsConn, 0, len(s.sockets))
	for c := range s.sockets {
		sockets = append(sockets, c)
	}
	s.sockets = make(map[*wsConn]struct{})
	s.mu.Unlock()

	for _, c := range sockets {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.sockets[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.sockets, c)
	s.mu.Unlock()
}

// allow applies the per-connection rate limit and records rejections.
func (s *Server) allow(id string) bool {
	if s.limiter.Allow(id) {
		return true
	}
	s.metrics.Inc(metrics.DropReasonRateLimited)
	s.metrics.Rejected(relay.CodeRateLimited)
	return false
}
